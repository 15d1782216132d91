package stages

import (
	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
)

// Stage ids in pipeline order.
const (
	Parse      pipeline.StageID = "parse"
	Script     pipeline.StageID = "script"
	Storyboard pipeline.StageID = "storyboard"
	Character  pipeline.StageID = "character"
	Render     pipeline.StageID = "render"
	Animate    pipeline.StageID = "animate"
	Voice      pipeline.StageID = "voice"
	LipSync    pipeline.StageID = "lipsync"
	Export     pipeline.StageID = "export"
)

// Chapter is one unit of source material.
type Chapter struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ParseResult is the output of the parse stage.
type ParseResult struct {
	Title      string             `json:"title"`
	Kind       pipeline.InputKind `json:"kind"`
	Chapters   []Chapter          `json:"chapters"`
	Characters []string           `json:"characters"`
	WordCount  int                `json:"word_count"`
}

// Line is one line of dialogue.
type Line struct {
	Character string `json:"character"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion,omitempty"`
}

// Scene is one scripted scene. IDs look like "c1s2".
type Scene struct {
	ID         string   `json:"id"`
	Chapter    int      `json:"chapter"`
	Title      string   `json:"title"`
	Location   string   `json:"location"`
	TimeOfDay  string   `json:"time_of_day"`
	Summary    string   `json:"summary"`
	Characters []string `json:"characters"`
	Dialogue   []Line   `json:"dialogue"`
}

// ScriptResult is the output of the script stage.
type ScriptResult struct {
	Scenes []Scene `json:"scenes"`
}

// Panel is one storyboard frame. IDs look like "c1s2p3".
type Panel struct {
	ID          string   `json:"id"`
	SceneID     string   `json:"scene_id"`
	Index       int      `json:"index"`
	Shot        string   `json:"shot"`
	Camera      string   `json:"camera"`
	Description string   `json:"description"`
	Characters  []string `json:"characters"`
	Line        *Line    `json:"line,omitempty"`
	Duration    float64  `json:"duration"`
}

// StoryboardResult is the output of the storyboard stage.
type StoryboardResult struct {
	Panels []Panel `json:"panels"`
}

// CharacterDesign is the visual and vocal profile of one character.
type CharacterDesign struct {
	Name        string         `json:"name"`
	Appearance  string         `json:"appearance"`
	Personality string         `json:"personality"`
	Voice       string         `json:"voice"`
	Reference   generators.Ref `json:"reference"`
}

// CharacterResult is the output of the character stage.
type CharacterResult struct {
	Characters []CharacterDesign `json:"characters"`
}

// Lookup returns the design for name.
func (r CharacterResult) Lookup(name string) (CharacterDesign, bool) {
	for _, c := range r.Characters {
		if c.Name == name {
			return c, true
		}
	}
	return CharacterDesign{}, false
}

// Panel image statuses.
const (
	ImageOK       = "ok"
	ImageFallback = "fallback"
)

// PanelImage is the rendered still for one panel.
type PanelImage struct {
	PanelID string         `json:"panel_id"`
	Image   generators.Ref `json:"image"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// RenderResult is the output of the render stage.
type RenderResult struct {
	Images    []PanelImage `json:"images"`
	Fallbacks int          `json:"fallbacks"`
}

// Clip is the animated version of one panel.
type Clip struct {
	PanelID  string            `json:"panel_id"`
	Video    generators.Ref    `json:"video"`
	Duration float64           `json:"duration"`
	Motion   generators.Motion `json:"motion"`
}

// AnimateResult is the output of the animate stage.
type AnimateResult struct {
	Clips []Clip `json:"clips"`
}

// VoiceLine is the synthesized audio of one panel's dialogue.
type VoiceLine struct {
	PanelID   string         `json:"panel_id"`
	Character string         `json:"character"`
	Text      string         `json:"text"`
	Voice     string         `json:"voice"`
	Audio     generators.Ref `json:"audio"`
	Duration  float64        `json:"duration"`
}

// VoiceResult is the output of the voice stage.
type VoiceResult struct {
	Lines []VoiceLine `json:"lines"`
}

// SyncedClip is a clip whose speaker is lip-synced to its voice line.
type SyncedClip struct {
	PanelID string         `json:"panel_id"`
	Video   generators.Ref `json:"video"`
}

// LipSyncResult is the output of the lipsync stage.
type LipSyncResult struct {
	Clips []SyncedClip `json:"clips"`
}

// Timeline encoding settings.
const (
	ExportFormat     = "mp4"
	ExportResolution = "1920x1080"
	ExportFPS        = 24
	ExportBitrate    = "8M"
	ExportCodec      = "h264"
)

// ExportResult is the output of the export stage.
type ExportResult struct {
	ManifestPath string  `json:"manifest_path"`
	Duration     float64 `json:"duration"`
	ClipCount    int     `json:"clip_count"`
	Format       string  `json:"format"`
	Resolution   string  `json:"resolution"`
	FPS          int     `json:"fps"`
	Bitrate      string  `json:"bitrate"`
	Codec        string  `json:"codec"`
}
