package stages

import (
	"context"
	"strings"

	"dramaforge/internal/generators"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

func (s *Stages) render(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	board, err := pipeline.Output[StoryboardResult](sc, Storyboard)
	if err != nil {
		return nil, err
	}
	cast, err := pipeline.Output[CharacterResult](sc, Character)
	if err != nil {
		return nil, err
	}
	if len(board.Panels) == 0 {
		return nil, emptyInput(Render, "panels")
	}

	images, err := pipeline.Map(ctx, sc, board.Panels, func(ctx context.Context, panel Panel) (PanelImage, error) {
		ref, err := s.image(ctx, sc, "panel", panelPrompt(panel, cast))
		if err == nil {
			return PanelImage{PanelID: panel.ID, Image: ref, Status: ImageOK}, nil
		}
		// Input-class failures get a recorded placeholder; anything that was
		// retried to exhaustion or cancelled still fails the stage.
		if services.Classify(err) != services.ClassFatal {
			return PanelImage{}, err
		}
		logging.WarnWithContext(sc.Logger, "panel render failed; using placeholder", "render_fallback",
			logging.String(logging.FieldItem, panel.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "revise the panel description or check the image provider"),
			logging.String(logging.FieldImpact, "panel shows a placeholder frame"))
		return PanelImage{
			PanelID: panel.ID,
			Image:   placeholder(panel.ID),
			Status:  ImageFallback,
			Error:   services.Details(err).Message,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	result := RenderResult{Images: images}
	for _, img := range images {
		if img.Status == ImageFallback {
			result.Fallbacks++
		}
	}
	return result, nil
}

func panelPrompt(panel Panel, cast CharacterResult) string {
	parts := []string{panel.Description, panel.Shot + " shot", panel.Camera + " camera"}
	for _, name := range panel.Characters {
		if design, ok := cast.Lookup(name); ok {
			parts = append(parts, name+": "+design.Appearance)
		}
	}
	return joinNonEmpty(", ", parts...)
}

func placeholder(panelID string) generators.Ref {
	return generators.Ref("placeholder://panel/" + strings.TrimSpace(panelID))
}
