package stages

import (
	"context"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/usage"
)

func (s *Stages) lipSync(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	animated, err := pipeline.Output[AnimateResult](sc, Animate)
	if err != nil {
		return nil, err
	}
	voiced, err := pipeline.Output[VoiceResult](sc, Voice)
	if err != nil {
		return nil, err
	}
	cast, err := pipeline.Output[CharacterResult](sc, Character)
	if err != nil {
		return nil, err
	}
	lines := make(map[string]VoiceLine, len(voiced.Lines))
	for _, l := range voiced.Lines {
		lines[l.PanelID] = l
	}

	synced, err := pipeline.Map(ctx, sc, animated.Clips, func(ctx context.Context, clip Clip) (SyncedClip, error) {
		line, ok := lines[clip.PanelID]
		if !ok {
			return SyncedClip{PanelID: clip.PanelID, Video: clip.Video}, nil
		}
		var face generators.Ref
		if design, ok := cast.Lookup(line.Character); ok {
			face = design.Reference
		}
		video, err := pipeline.Invoke(ctx, sc, pipeline.Call[generators.Ref]{
			Op:    "sync",
			Input: map[string]any{"video": clip.Video, "audio": line.Audio, "face": face},
			Usage: func(generators.Ref) usage.Record {
				return usage.Record{Kind: usage.KindLipSync, Provider: generators.ProviderOf(s.suite.LipSync), Units: clip.Duration}
			},
			Do: func(ctx context.Context) (generators.Ref, error) {
				return s.suite.LipSync.LipSync(ctx, clip.Video, line.Audio, face)
			},
		})
		if err != nil {
			return SyncedClip{}, err
		}
		return SyncedClip{PanelID: clip.PanelID, Video: video}, nil
	})
	if err != nil {
		return nil, err
	}
	return LipSyncResult{Clips: synced}, nil
}
