package events

import (
	"log/slog"
	"strings"

	"dramaforge/internal/logging"
)

// LogListener writes every event to logger. Progress events are sampled so a
// stage logs at most once per progress bucket.
func LogListener(logger *slog.Logger) Listener {
	logger = logging.NewComponentLogger(logger, "pipeline")
	sampler := logging.NewProgressSampler(10)
	return func(evt Event) error {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, string(evt.Type)),
			logging.String(logging.FieldProjectID, evt.ProjectID),
		}
		if evt.StageID != "" {
			attrs = append(attrs, logging.String(logging.FieldStage, evt.StageID))
		}
		switch evt.Type {
		case StageProgress:
			if !sampler.ShouldLog(evt.ProjectID+"/"+evt.StageID, evt.Progress) {
				return nil
			}
			logger.Info("stage progress", logging.Args(append(attrs,
				logging.Float64("progress", evt.Progress),
				logging.Float64("overall", evt.Overall))...)...)
		case StageRetry:
			logger.Info("stage retry scheduled", logging.Args(append(attrs,
				logging.Int(logging.FieldAttempt, evt.Attempt),
				logging.Duration("delay", evt.Delay),
				logging.String("reason", evt.Error))...)...)
		case StageComplete, StageSkipped:
			sampler.Forget(evt.ProjectID + "/" + evt.StageID)
			logger.Info(humanize(evt.Type), logging.Args(append(attrs, logging.Float64("overall", evt.Overall))...)...)
		case StageFail, WorkflowFail:
			sampler.Forget(evt.ProjectID + "/" + evt.StageID)
			logger.Error(humanize(evt.Type), logging.Args(append(attrs,
				logging.String(logging.FieldErrorHint, "inspect the stage error and retry the project"),
				logging.String("class", string(evt.Class)),
				logging.String("error", evt.Error))...)...)
		default:
			if evt.Message != "" {
				attrs = append(attrs, logging.String("detail", evt.Message))
			}
			logger.Info(humanize(evt.Type), logging.Args(attrs...)...)
		}
		return nil
	}
}

func humanize(t Type) string {
	return strings.ReplaceAll(string(t), "_", " ")
}
