package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"dramaforge/internal/config"
	"dramaforge/internal/contentcache"
	"dramaforge/internal/logging"
	"dramaforge/internal/retry"
	"dramaforge/internal/services"
	"dramaforge/internal/usage"
)

// InputKind is the form of the user's source material.
type InputKind string

const (
	InputNovel  InputKind = "novel"
	InputScript InputKind = "script"
	InputPrompt InputKind = "prompt"
)

// Input is the user's source material.
type Input struct {
	Kind  InputKind `json:"kind"`
	Title string    `json:"title,omitempty"`
	Text  string    `json:"text"`
}

// Validate rejects empty or unknown input.
func (in Input) Validate() error {
	switch in.Kind {
	case InputNovel, InputScript, InputPrompt:
	default:
		return services.Wrap(services.ErrValidation, "", "input", fmt.Sprintf("unknown input kind %q", in.Kind), nil)
	}
	if strings.TrimSpace(in.Text) == "" {
		return services.Wrap(services.ErrValidation, "", "input", "input text is empty", nil)
	}
	return nil
}

// Settings shape generated content. Every field participates in cache keys,
// so orchestration knobs never belong here.
type Settings struct {
	Style            string            `json:"style"`
	AspectRatio      string            `json:"aspect_ratio"`
	ChaptersToUse    int               `json:"chapters_to_use"`
	ScenesPerChapter int               `json:"scenes_per_chapter"`
	PanelsPerScene   int               `json:"panels_per_scene"`
	ClipSeconds      float64           `json:"clip_seconds"`
	Voice            string            `json:"voice"`
	VoiceRate        float64           `json:"voice_rate"`
	VoicePitch       float64           `json:"voice_pitch"`
	CharacterVoices  map[string]string `json:"character_voices,omitempty"`
}

// SettingsFromConfig copies the configured generation defaults.
func SettingsFromConfig(gen config.Generation) Settings {
	voices := make(map[string]string, len(gen.CharacterVoices))
	for name, voice := range gen.CharacterVoices {
		voices[name] = voice
	}
	return Settings{
		Style:            gen.Style,
		AspectRatio:      gen.AspectRatio,
		ChaptersToUse:    gen.ChaptersToUse,
		ScenesPerChapter: gen.ScenesPerChapter,
		PanelsPerScene:   gen.PanelsPerScene,
		ClipSeconds:      gen.ClipSeconds,
		Voice:            gen.Voice,
		VoiceRate:        gen.VoiceRate,
		VoicePitch:       gen.VoicePitch,
		CharacterVoices:  voices,
	}
}

// Merge overlays the non-zero fields of override onto s.
func (s Settings) Merge(override Settings) Settings {
	if override.Style != "" {
		s.Style = override.Style
	}
	if override.AspectRatio != "" {
		s.AspectRatio = override.AspectRatio
	}
	if override.ChaptersToUse > 0 {
		s.ChaptersToUse = override.ChaptersToUse
	}
	if override.ScenesPerChapter > 0 {
		s.ScenesPerChapter = override.ScenesPerChapter
	}
	if override.PanelsPerScene > 0 {
		s.PanelsPerScene = override.PanelsPerScene
	}
	if override.ClipSeconds > 0 {
		s.ClipSeconds = override.ClipSeconds
	}
	if override.Voice != "" {
		s.Voice = override.Voice
	}
	if override.VoiceRate > 0 {
		s.VoiceRate = override.VoiceRate
	}
	if override.VoicePitch != 0 {
		s.VoicePitch = override.VoicePitch
	}
	if len(override.CharacterVoices) > 0 {
		merged := make(map[string]string, len(s.CharacterVoices)+len(override.CharacterVoices))
		for k, v := range s.CharacterVoices {
			merged[k] = v
		}
		for k, v := range override.CharacterVoices {
			merged[k] = v
		}
		s.CharacterVoices = merged
	}
	return s
}

// VoiceFor returns the configured voice for character, falling back to the
// default voice.
func (s Settings) VoiceFor(character string) string {
	if voice, ok := s.CharacterVoices[character]; ok && voice != "" {
		return voice
	}
	return s.Voice
}

// Toolkit is the shared machinery handed to every stage of one run.
type Toolkit struct {
	// Cache is nil when caching is disabled.
	Cache    *contentcache.Cache
	CacheTTL time.Duration
	// Retry applies to each Invoke call. A one-attempt policy disables retries.
	Retry       retry.Policy
	Ledger      *usage.Ledger
	Gate        *Gate
	Concurrency int
	Logger      *slog.Logger
}

// StageContext is the read-only view an executor runs with plus its progress
// side channel.
type StageContext struct {
	ProjectID string
	Stage     StageID
	Input     Input
	Settings  Settings
	Toolkit

	data map[StageID]json.RawMessage

	mu       sync.Mutex
	progress float64
	report   func(float64)
	onRetry  retry.Hook
}

// StageParams builds a StageContext.
type StageParams struct {
	ProjectID string
	Stage     StageID
	Input     Input
	Settings  Settings
	Toolkit   Toolkit
	// Data holds prior stage outputs; it is copied.
	Data map[StageID]json.RawMessage
	// Progress receives monotonic percentages in [0, 100].
	Progress func(float64)
	// OnRetry observes retries scheduled by Invoke.
	OnRetry retry.Hook
}

// NewStageContext constructs a StageContext.
func NewStageContext(p StageParams) *StageContext {
	data := make(map[StageID]json.RawMessage, len(p.Data))
	for id, raw := range p.Data {
		data[id] = raw
	}
	tk := p.Toolkit
	if tk.Concurrency < 1 {
		tk.Concurrency = 1
	}
	tk.Logger = logging.NewComponentLogger(tk.Logger, "stage").With(
		logging.String(logging.FieldProjectID, p.ProjectID),
		logging.String(logging.FieldStage, string(p.Stage)),
	)
	return &StageContext{
		ProjectID: p.ProjectID,
		Stage:     p.Stage,
		Input:     p.Input,
		Settings:  p.Settings,
		Toolkit:   tk,
		data:      data,
		report:    p.Progress,
		onRetry:   p.OnRetry,
	}
}

// Has reports whether a prior stage produced output.
func (sc *StageContext) Has(id StageID) bool {
	_, ok := sc.data[id]
	return ok
}

// Output decodes the output of a prior stage into dst. A missing output is a
// validation error, since it means a prerequisite did not run.
func (sc *StageContext) Output(id StageID, dst any) error {
	raw, ok := sc.data[id]
	if !ok {
		return services.Wrap(services.ErrValidation, string(sc.Stage), "prerequisite",
			fmt.Sprintf("missing output of stage %s", id), nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return services.Wrap(services.ErrValidation, string(sc.Stage), "prerequisite",
			fmt.Sprintf("decode output of stage %s", id), err)
	}
	return nil
}

// Output is the generic form of StageContext.Output.
func Output[T any](sc *StageContext, id StageID) (T, error) {
	var out T
	err := sc.Output(id, &out)
	return out, err
}

// Report publishes stage progress. Values are clamped to [0, 100] and never
// move backwards.
func (sc *StageContext) Report(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	percent = math.Max(0, math.Min(100, percent))
	sc.mu.Lock()
	if percent <= sc.progress {
		sc.mu.Unlock()
		return
	}
	sc.progress = percent
	sc.mu.Unlock()
	if sc.report != nil {
		sc.report(percent)
	}
}

// Progress returns the last reported percentage.
func (sc *StageContext) Progress() float64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.progress
}
