package stages

import (
	"context"
	"fmt"
	"strings"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/usage"
)

// Clip transitions.
const (
	TransitionFade = "fade"
	TransitionCut  = "cut"
)

func (s *Stages) animate(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	board, err := pipeline.Output[StoryboardResult](sc, Storyboard)
	if err != nil {
		return nil, err
	}
	rendered, err := pipeline.Output[RenderResult](sc, Render)
	if err != nil {
		return nil, err
	}
	if len(rendered.Images) == 0 {
		return nil, emptyInput(Animate, "images")
	}
	panels := make(map[string]Panel, len(board.Panels))
	for _, p := range board.Panels {
		panels[p.ID] = p
	}

	clips := make([]Clip, len(rendered.Images))
	err = pipeline.FanOut(ctx, sc, len(rendered.Images), func(ctx context.Context, i int) error {
		img := rendered.Images[i]
		panel, ok := panels[img.PanelID]
		if !ok {
			return emptyInput(Animate, fmt.Sprintf("storyboard panel %s", img.PanelID))
		}
		duration := panel.Duration
		if duration <= 0 {
			duration = sc.Settings.ClipSeconds
		}
		motion := motionFor(panel.Shot, i)
		video, err := pipeline.Invoke(ctx, sc, pipeline.Call[generators.Ref]{
			Op:    "clip",
			Input: map[string]any{"image": img.Image, "duration": duration, "motion": motion},
			Usage: func(generators.Ref) usage.Record {
				return usage.Record{Kind: usage.KindVideo, Provider: generators.ProviderOf(s.suite.Video), Units: duration}
			},
			Do: func(ctx context.Context) (generators.Ref, error) {
				return s.suite.Video.GenerateVideo(ctx, img.Image, duration, motion)
			},
		})
		if err != nil {
			return err
		}
		clips[i] = Clip{PanelID: img.PanelID, Video: video, Duration: duration, Motion: motion}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return AnimateResult{Clips: clips}, nil
}

// motionFor picks camera movement from the shot type. The first clip fades
// in; every later clip cuts.
func motionFor(shot string, position int) generators.Motion {
	m := generators.Motion{Transition: TransitionCut}
	if position == 0 {
		m.Transition = TransitionFade
	}
	switch strings.ToLower(strings.TrimSpace(shot)) {
	case "wide", "establishing", "long":
		m.Camera, m.Intensity = "pan", 0.3
	case "medium", "two-shot":
		m.Camera, m.Intensity = "dolly-in", 0.4
	case "close-up", "closeup", "extreme close-up":
		m.Camera, m.Intensity = "zoom-in", 0.5
	default:
		m.Camera, m.Intensity = "static", 0.2
	}
	return m
}
