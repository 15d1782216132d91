package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

const scriptSystem = "You are a screenwriter adapting prose into short drama scenes. " +
	"Reply with a JSON object {\"scenes\": [...]} where each scene has title, location, " +
	"time_of_day, summary, characters and dialogue (character, text, emotion)."

type scriptReply struct {
	Scenes []Scene `json:"scenes"`
}

func (s *Stages) script(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	parsed, err := pipeline.Output[ParseResult](sc, Parse)
	if err != nil {
		return nil, err
	}
	if len(parsed.Chapters) == 0 {
		return nil, emptyInput(Script, "chapters")
	}
	perChapter := max(sc.Settings.ScenesPerChapter, 1)
	cast := strings.Join(parsed.Characters, ", ")

	batches, err := pipeline.Map(ctx, sc, parsed.Chapters, func(ctx context.Context, ch Chapter) ([]Scene, error) {
		req := generators.TextRequest{
			Task:   generators.TaskScript,
			System: scriptSystem,
			Prompt: fmt.Sprintf("Adapt chapter %q into %d scenes. Known characters: %s.\n\n%s",
				ch.Title, perChapter, cast, ch.Text),
			Vars: map[string]string{
				"chapter_title": ch.Title,
				"chapter_text":  ch.Text,
				"scene_count":   strconv.Itoa(perChapter),
				"characters":    cast,
			},
			Temperature: 0.7,
		}
		reply, err := askJSON[scriptReply](ctx, sc, s.suite.Text, "chapter", req)
		if err != nil {
			return nil, err
		}
		if len(reply.Scenes) == 0 {
			return nil, services.Wrap(services.ErrTransient, string(Script), "chapter",
				fmt.Sprintf("no scenes returned for %q", ch.Title), nil)
		}
		scenes := reply.Scenes
		if len(scenes) > perChapter {
			scenes = scenes[:perChapter]
		}
		for i := range scenes {
			scenes[i].ID = fmt.Sprintf("c%ds%d", ch.Index, i+1)
			scenes[i].Chapter = ch.Index
			if strings.TrimSpace(scenes[i].Title) == "" {
				scenes[i].Title = fmt.Sprintf("%s, scene %d", ch.Title, i+1)
			}
		}
		return scenes, nil
	})
	if err != nil {
		return nil, err
	}

	var result ScriptResult
	for _, batch := range batches {
		result.Scenes = append(result.Scenes, batch...)
	}
	return result, nil
}
