package generators

import (
	"context"
	"strings"
)

// Ref is an opaque handle to generated media (URL, path, or provider id).
type Ref string

// Task labels a text request so deterministic generators can render it.
type Task string

const (
	TaskScript     Task = "script"
	TaskStoryboard Task = "storyboard"
	TaskCharacter  Task = "character"
)

// TextRequest is one text generation call.
type TextRequest struct {
	Task   Task
	System string
	Prompt string
	// Vars carries the structured facts the prompt was built from.
	Vars map[string]string
	// JSON asks the provider for a JSON object response.
	JSON        bool
	Temperature float64
}

// Motion describes camera movement for an animated clip.
type Motion struct {
	Camera     string  `json:"camera"`
	Intensity  float64 `json:"intensity"`
	Transition string  `json:"transition"`
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageGenerator renders an image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, style, aspectRatio string) (Ref, error)
}

// VideoGenerator animates a still image.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, image Ref, durationSeconds float64, motion Motion) (Ref, error)
}

// SpeechSynthesizer voices a line of dialogue.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string, rate, pitch float64) (Ref, error)
}

// LipSyncer aligns a speaker's mouth in video with an audio track.
type LipSyncer interface {
	LipSync(ctx context.Context, video, audio, face Ref) (Ref, error)
}

// Suite bundles one implementation of every capability.
type Suite struct {
	Text    TextGenerator
	Image   ImageGenerator
	Video   VideoGenerator
	Speech  SpeechSynthesizer
	LipSync LipSyncer
}

// WithText returns a copy of s using text for text generation.
func (s Suite) WithText(text TextGenerator) Suite {
	s.Text = text
	return s
}

// Named is implemented by generators that report a provider name for usage
// accounting.
type Named interface {
	Provider() string
}

// ProviderOf returns the provider name of g, or "unknown".
func ProviderOf(g any) string {
	if named, ok := g.(Named); ok {
		if name := strings.TrimSpace(named.Provider()); name != "" {
			return name
		}
	}
	return "unknown"
}

// ModelOf returns the model name of g when it reports one.
func ModelOf(g any) string {
	if m, ok := g.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(texts ...string) float64 {
	n := 0
	for _, text := range texts {
		n += len(text)
	}
	return float64((n + 3) / 4)
}
