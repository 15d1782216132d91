package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

const storyboardSystem = "You are a storyboard artist. Reply with a JSON object {\"panels\": [...]} " +
	"where each panel has shot (wide, medium or close-up), camera, description, characters " +
	"and dialogue_index (the dialogue line spoken in the panel, or -1)."

type storyboardPanel struct {
	Shot          string   `json:"shot"`
	Camera        string   `json:"camera"`
	Description   string   `json:"description"`
	Characters    []string `json:"characters"`
	DialogueIndex int      `json:"dialogue_index"`
}

type storyboardReply struct {
	Panels []storyboardPanel `json:"panels"`
}

func (s *Stages) storyboard(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	script, err := pipeline.Output[ScriptResult](sc, Script)
	if err != nil {
		return nil, err
	}
	if len(script.Scenes) == 0 {
		return nil, emptyInput(Storyboard, "scenes")
	}
	perScene := max(sc.Settings.PanelsPerScene, 1)

	batches, err := pipeline.Map(ctx, sc, script.Scenes, func(ctx context.Context, scene Scene) ([]Panel, error) {
		encoded, err := json.Marshal(scene)
		if err != nil {
			return nil, fmt.Errorf("storyboard: encode scene %s: %w", scene.ID, err)
		}
		req := generators.TextRequest{
			Task:   generators.TaskStoryboard,
			System: storyboardSystem,
			Prompt: fmt.Sprintf("Storyboard this scene as %d panels:\n%s", perScene, encoded),
			Vars: map[string]string{
				"scene":       string(encoded),
				"panel_count": strconv.Itoa(perScene),
			},
			Temperature: 0.5,
		}
		reply, err := askJSON[storyboardReply](ctx, sc, s.suite.Text, "scene", req)
		if err != nil {
			return nil, err
		}
		if len(reply.Panels) == 0 {
			return nil, services.Wrap(services.ErrTransient, string(Storyboard), "scene",
				fmt.Sprintf("no panels returned for scene %s", scene.ID), nil)
		}
		raw := reply.Panels
		if len(raw) > perScene {
			raw = raw[:perScene]
		}
		panels := make([]Panel, len(raw))
		for i, p := range raw {
			panels[i] = Panel{
				ID:          fmt.Sprintf("%sp%d", scene.ID, i+1),
				SceneID:     scene.ID,
				Index:       i + 1,
				Shot:        p.Shot,
				Camera:      p.Camera,
				Description: p.Description,
				Characters:  p.Characters,
				Duration:    sc.Settings.ClipSeconds,
			}
			if len(panels[i].Characters) == 0 {
				panels[i].Characters = scene.Characters
			}
			if p.DialogueIndex >= 0 && p.DialogueIndex < len(scene.Dialogue) {
				line := scene.Dialogue[p.DialogueIndex]
				panels[i].Line = &line
			}
		}
		return panels, nil
	})
	if err != nil {
		return nil, err
	}

	var result StoryboardResult
	for _, batch := range batches {
		result.Panels = append(result.Panels, batch...)
	}
	return result, nil
}
