package testsupport

import (
	"context"
	"sync"

	"dramaforge/internal/generators"
)

// Capability names used by Generators for counting and scripting.
const (
	KindText    = "text"
	KindImage   = "image"
	KindVideo   = "video"
	KindSpeech  = "speech"
	KindLipSync = "lipsync"
)

// Generators is a scripted double for every generator capability. Calls are
// counted per capability and then delegated to the offline suite, so outputs
// stay deterministic.
type Generators struct {
	// Before runs ahead of each call with the 1-based call number for that
	// capability. A non-nil error is returned instead of delegating. It may
	// block on ctx.
	Before func(ctx context.Context, kind string, call int) error

	offline generators.Offline
	mu      sync.Mutex
	calls   map[string]int
}

// NewGenerators returns a double with no scripted behaviour.
func NewGenerators() *Generators {
	return &Generators{calls: make(map[string]int)}
}

// Suite exposes the double as a generator suite.
func (g *Generators) Suite() generators.Suite {
	return generators.Suite{Text: g, Image: g, Video: g, Speech: g, LipSync: g}
}

// Provider implements generators.Named.
func (g *Generators) Provider() string { return "scripted" }

// Calls returns how many times kind was invoked.
func (g *Generators) Calls(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[kind]
}

// Total returns the number of calls across every capability.
func (g *Generators) Total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

// FailFirst makes the first n calls of kind return err.
func (g *Generators) FailFirst(kind string, n int, err error) {
	g.Before = func(_ context.Context, k string, call int) error {
		if k == kind && call <= n {
			return err
		}
		return nil
	}
}

func (g *Generators) before(ctx context.Context, kind string) error {
	g.mu.Lock()
	g.calls[kind]++
	call := g.calls[kind]
	hook := g.Before
	g.mu.Unlock()
	if hook != nil {
		return hook(ctx, kind, call)
	}
	return ctx.Err()
}

func (g *Generators) GenerateText(ctx context.Context, req generators.TextRequest) (string, error) {
	if err := g.before(ctx, KindText); err != nil {
		return "", err
	}
	return g.offline.GenerateText(ctx, req)
}

func (g *Generators) GenerateImage(ctx context.Context, prompt, style, aspectRatio string) (generators.Ref, error) {
	if err := g.before(ctx, KindImage); err != nil {
		return "", err
	}
	return g.offline.GenerateImage(ctx, prompt, style, aspectRatio)
}

func (g *Generators) GenerateVideo(ctx context.Context, image generators.Ref, durationSeconds float64, motion generators.Motion) (generators.Ref, error) {
	if err := g.before(ctx, KindVideo); err != nil {
		return "", err
	}
	return g.offline.GenerateVideo(ctx, image, durationSeconds, motion)
}

func (g *Generators) Synthesize(ctx context.Context, text, voice string, rate, pitch float64) (generators.Ref, error) {
	if err := g.before(ctx, KindSpeech); err != nil {
		return "", err
	}
	return g.offline.Synthesize(ctx, text, voice, rate, pitch)
}

func (g *Generators) LipSync(ctx context.Context, video, audio, face generators.Ref) (generators.Ref, error) {
	if err := g.before(ctx, KindLipSync); err != nil {
		return "", err
	}
	return g.offline.LipSync(ctx, video, audio, face)
}
