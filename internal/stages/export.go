package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"dramaforge/internal/fileutil"
	"dramaforge/internal/generators"
	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
)

// ManifestName is the timeline file written under <export_dir>/<project>/.
const ManifestName = "timeline.json"

// Manifest is the exported timeline. It holds no wall-clock data, so equal
// inputs always export byte-identical manifests.
type Manifest struct {
	ProjectID   string          `json:"project_id"`
	Title       string          `json:"title"`
	Format      string          `json:"format"`
	Resolution  string          `json:"resolution"`
	FPS         int             `json:"fps"`
	Bitrate     string          `json:"bitrate"`
	Codec       string          `json:"codec"`
	AspectRatio string          `json:"aspect_ratio"`
	Duration    float64         `json:"duration"`
	LipSynced   bool            `json:"lip_synced"`
	Entries     []TimelineEntry `json:"entries"`
}

// TimelineEntry places one clip on the timeline.
type TimelineEntry struct {
	PanelID    string         `json:"panel_id"`
	Start      float64        `json:"start"`
	Duration   float64        `json:"duration"`
	Video      generators.Ref `json:"video"`
	Audio      generators.Ref `json:"audio,omitempty"`
	Subtitle   string         `json:"subtitle,omitempty"`
	Transition string         `json:"transition"`
	Fallback   bool           `json:"fallback,omitempty"`
}

func (s *Stages) export(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	if strings.TrimSpace(s.exportDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, string(Export), "manifest", "export directory is not configured", nil)
	}
	if sc.ProjectID == "" || strings.ContainsAny(sc.ProjectID, `/\`) || strings.Contains(sc.ProjectID, "..") {
		return nil, services.Wrap(services.ErrValidation, string(Export), "manifest",
			fmt.Sprintf("project id %q cannot name an export directory", sc.ProjectID), nil)
	}
	parsed, err := pipeline.Output[ParseResult](sc, Parse)
	if err != nil {
		return nil, err
	}
	animated, err := pipeline.Output[AnimateResult](sc, Animate)
	if err != nil {
		return nil, err
	}
	voiced, err := pipeline.Output[VoiceResult](sc, Voice)
	if err != nil {
		return nil, err
	}
	rendered, err := pipeline.Output[RenderResult](sc, Render)
	if err != nil {
		return nil, err
	}

	synced := make(map[string]generators.Ref)
	if sc.Has(LipSync) {
		result, err := pipeline.Output[LipSyncResult](sc, LipSync)
		if err != nil {
			return nil, err
		}
		for _, c := range result.Clips {
			synced[c.PanelID] = c.Video
		}
	}
	lines := make(map[string]VoiceLine, len(voiced.Lines))
	for _, l := range voiced.Lines {
		lines[l.PanelID] = l
	}
	fallback := make(map[string]bool)
	for _, img := range rendered.Images {
		if img.Status == ImageFallback {
			fallback[img.PanelID] = true
		}
	}

	manifest := Manifest{
		ProjectID:   sc.ProjectID,
		Title:       parsed.Title,
		Format:      ExportFormat,
		Resolution:  ExportResolution,
		FPS:         ExportFPS,
		Bitrate:     ExportBitrate,
		Codec:       ExportCodec,
		AspectRatio: sc.Settings.AspectRatio,
		LipSynced:   len(synced) > 0,
		Entries:     make([]TimelineEntry, 0, len(animated.Clips)),
	}
	var cursor float64
	for _, clip := range animated.Clips {
		entry := TimelineEntry{
			PanelID:    clip.PanelID,
			Start:      round(cursor),
			Duration:   clip.Duration,
			Video:      clip.Video,
			Transition: clip.Motion.Transition,
			Fallback:   fallback[clip.PanelID],
		}
		if v, ok := synced[clip.PanelID]; ok {
			entry.Video = v
		}
		if line, ok := lines[clip.PanelID]; ok {
			entry.Audio = line.Audio
			entry.Subtitle = line.Character + ": " + line.Text
			entry.Duration = math.Max(entry.Duration, line.Duration)
		}
		cursor += entry.Duration
		manifest.Entries = append(manifest.Entries, entry)
	}
	manifest.Duration = round(cursor)
	sc.Report(50)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode manifest: %w", err)
	}
	path := filepath.Join(s.exportDir, sc.ProjectID, ManifestName)
	if same, _ := fileutil.SameContent(path, encoded); !same {
		if err := fileutil.WriteFileAtomic(path, encoded, 0o644); err != nil {
			return nil, services.Wrap(services.ErrExternalTool, string(Export), "manifest", "write timeline manifest", err)
		}
	}
	sc.Logger.Info("timeline exported",
		logging.String(logging.FieldEventType, "export_complete"),
		logging.String("path", path),
		logging.Int("clips", len(manifest.Entries)),
		logging.Float64("duration_seconds", manifest.Duration))
	sc.Report(100)

	return ExportResult{
		ManifestPath: path,
		Duration:     manifest.Duration,
		ClipCount:    len(manifest.Entries),
		Format:       ExportFormat,
		Resolution:   ExportResolution,
		FPS:          ExportFPS,
		Bitrate:      ExportBitrate,
		Codec:        ExportCodec,
	}, nil
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
