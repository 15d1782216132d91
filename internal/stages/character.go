package stages

import (
	"context"
	"fmt"
	"strings"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
)

const characterSystem = "You are a character designer for an animated drama. Reply with a JSON " +
	"object with appearance, personality and voice fields."

const narrator = "Narrator"

type characterReply struct {
	Appearance  string `json:"appearance"`
	Personality string `json:"personality"`
	Voice       string `json:"voice"`
}

func (s *Stages) character(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	parsed, err := pipeline.Output[ParseResult](sc, Parse)
	if err != nil {
		return nil, err
	}
	script, err := pipeline.Output[ScriptResult](sc, Script)
	if err != nil {
		return nil, err
	}
	names := castOf(parsed, script)
	if len(names) == 0 {
		sc.Report(100)
		return CharacterResult{Characters: []CharacterDesign{}}, nil
	}

	designs, err := pipeline.Map(ctx, sc, names, func(ctx context.Context, name string) (CharacterDesign, error) {
		background := sceneContext(name, script.Scenes)
		req := generators.TextRequest{
			Task:        generators.TaskCharacter,
			System:      characterSystem,
			Prompt:      fmt.Sprintf("Design the character %s. Story context: %s", name, background),
			Vars:        map[string]string{"name": name, "context": background},
			Temperature: 0.8,
		}
		reply, err := askJSON[characterReply](ctx, sc, s.suite.Text, "profile", req)
		if err != nil {
			return CharacterDesign{}, err
		}
		prompt := fmt.Sprintf("Character reference sheet of %s, %s, front and side views, neutral background",
			name, reply.Appearance)
		ref, err := s.image(ctx, sc, "reference", prompt)
		if err != nil {
			return CharacterDesign{}, err
		}
		return CharacterDesign{
			Name:        name,
			Appearance:  reply.Appearance,
			Personality: reply.Personality,
			Voice:       reply.Voice,
			Reference:   ref,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return CharacterResult{Characters: designs}, nil
}

// castOf merges the parsed cast with anyone the script gave a line or a
// scene to, in first-seen order.
func castOf(parsed ParseResult, script ScriptResult) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || strings.EqualFold(name, narrator) {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, name := range parsed.Characters {
		add(name)
	}
	for _, scene := range script.Scenes {
		for _, name := range scene.Characters {
			add(name)
		}
		for _, line := range scene.Dialogue {
			add(line.Character)
		}
	}
	return names
}

func sceneContext(name string, scenes []Scene) string {
	for _, scene := range scenes {
		for _, who := range scene.Characters {
			if who == name {
				return scene.Summary
			}
		}
	}
	return "unknown"
}
