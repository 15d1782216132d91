package stages

import (
	"context"
	"math"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/usage"
)

// wordsPerSecond is the speaking pace assumed at rate 1.0.
const wordsPerSecond = 2.5

func (s *Stages) voice(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	board, err := pipeline.Output[StoryboardResult](sc, Storyboard)
	if err != nil {
		return nil, err
	}
	var spoken []Panel
	for _, p := range board.Panels {
		if p.Line != nil && p.Line.Text != "" {
			spoken = append(spoken, p)
		}
	}

	lines, err := pipeline.Map(ctx, sc, spoken, func(ctx context.Context, panel Panel) (VoiceLine, error) {
		line := *panel.Line
		voice := sc.Settings.VoiceFor(line.Character)
		rate, pitch := sc.Settings.VoiceRate, sc.Settings.VoicePitch
		audio, err := pipeline.Invoke(ctx, sc, pipeline.Call[generators.Ref]{
			Op:    "line",
			Input: map[string]any{"text": line.Text, "voice": voice},
			Usage: func(generators.Ref) usage.Record {
				return usage.Record{
					Kind:     usage.KindSpeech,
					Provider: generators.ProviderOf(s.suite.Speech),
					Units:    float64(len([]rune(line.Text))),
				}
			},
			Do: func(ctx context.Context) (generators.Ref, error) {
				return s.suite.Speech.Synthesize(ctx, line.Text, voice, rate, pitch)
			},
		})
		if err != nil {
			return VoiceLine{}, err
		}
		return VoiceLine{
			PanelID:   panel.ID,
			Character: line.Character,
			Text:      line.Text,
			Voice:     voice,
			Audio:     audio,
			Duration:  speechSeconds(line.Text, rate),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return VoiceResult{Lines: lines}, nil
}

// speechSeconds estimates spoken length, rounded to a tenth of a second.
func speechSeconds(text string, rate float64) float64 {
	if rate <= 0 {
		rate = 1
	}
	seconds := math.Max(1, float64(countWords(text))/wordsPerSecond) / rate
	return math.Round(seconds*10) / 10
}
