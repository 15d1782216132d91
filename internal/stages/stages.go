package stages

import (
	"context"
	"fmt"
	"strings"

	"dramaforge/internal/generators"
	"dramaforge/internal/pipeline"
	"dramaforge/internal/services"
	"dramaforge/internal/usage"
)

// Stages binds the executors to a generator suite and an export root.
type Stages struct {
	suite     generators.Suite
	exportDir string
}

// New constructs the stage set. Missing capabilities fall back to the offline
// generators.
func New(suite generators.Suite, exportDir string) *Stages {
	offline := generators.Offline{}
	if suite.Text == nil {
		suite.Text = offline
	}
	if suite.Image == nil {
		suite.Image = offline
	}
	if suite.Video == nil {
		suite.Video = offline
	}
	if suite.Speech == nil {
		suite.Speech = offline
	}
	if suite.LipSync == nil {
		suite.LipSync = offline
	}
	return &Stages{suite: suite, exportDir: exportDir}
}

// Definitions returns the full pipeline in order.
func (s *Stages) Definitions() []pipeline.Definition {
	return []pipeline.Definition{
		{ID: Parse, Name: "Parse", Description: "Split the source into chapters and find the cast", Execute: s.parse},
		{ID: Script, Name: "Script", Description: "Adapt each chapter into scenes with dialogue", Execute: s.script},
		{ID: Storyboard, Name: "Storyboard", Description: "Break each scene into camera panels", Execute: s.storyboard},
		{ID: Character, Name: "Character", Description: "Design every character and render a reference", Execute: s.character},
		{ID: Render, Name: "Render", Description: "Render a still for every panel", Execute: s.render},
		{ID: Animate, Name: "Animate", Description: "Animate every still into a clip", Execute: s.animate},
		{ID: Voice, Name: "Voice", Description: "Synthesize dialogue audio", Execute: s.voice},
		{ID: LipSync, Name: "Lip sync", Description: "Sync speaking characters to their lines", Execute: s.lipSync, Optional: true},
		{ID: Export, Name: "Export", Description: "Assemble the timeline manifest", Execute: s.export},
	}
}

// Registry builds the pipeline registry with exactly the named stages optional.
func (s *Stages) Registry(optional ...string) (*pipeline.Registry, error) {
	reg, err := pipeline.NewRegistry(s.Definitions()...)
	if err != nil {
		return nil, err
	}
	return reg.WithOptional(optional...)
}

// textReply is a decoded model response plus the token estimate it cost.
type textReply[T any] struct {
	Value  T       `json:"value"`
	Tokens float64 `json:"tokens"`
}

// askJSON sends req to the text generator and decodes the JSON reply into T.
// Undecodable replies are transient: a second sample usually parses.
func askJSON[T any](ctx context.Context, sc *pipeline.StageContext, text generators.TextGenerator, op string, req generators.TextRequest) (T, error) {
	req.JSON = true
	reply, err := pipeline.Invoke(ctx, sc, pipeline.Call[textReply[T]]{
		Op:    op,
		Input: req,
		Usage: func(r textReply[T]) usage.Record {
			return usage.Record{
				Kind:     usage.KindText,
				Provider: generators.ProviderOf(text),
				Model:    generators.ModelOf(text),
				Units:    r.Tokens,
			}
		},
		Do: func(ctx context.Context) (textReply[T], error) {
			content, err := text.GenerateText(ctx, req)
			if err != nil {
				return textReply[T]{}, err
			}
			var value T
			if err := generators.DecodeJSON(content, &value); err != nil {
				return textReply[T]{}, services.Wrap(services.ErrTransient, string(sc.Stage), op, "model reply is not the requested JSON", err)
			}
			return textReply[T]{Value: value, Tokens: generators.EstimateTokens(req.System, req.Prompt, content)}, nil
		},
	})
	return reply.Value, err
}

func (s *Stages) image(ctx context.Context, sc *pipeline.StageContext, op, prompt string) (generators.Ref, error) {
	return pipeline.Invoke(ctx, sc, pipeline.Call[generators.Ref]{
		Op:    op,
		Input: prompt,
		Usage: func(generators.Ref) usage.Record {
			return usage.Record{Kind: usage.KindImage, Provider: generators.ProviderOf(s.suite.Image), Units: 1}
		},
		Do: func(ctx context.Context) (generators.Ref, error) {
			return s.suite.Image.GenerateImage(ctx, prompt, sc.Settings.Style, sc.Settings.AspectRatio)
		},
	})
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func emptyInput(stage pipeline.StageID, what string) error {
	return services.Wrap(services.ErrValidation, string(stage), "input", fmt.Sprintf("no %s to process", what), nil)
}
