package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dramaforge/internal/config"
	"dramaforge/internal/pipeline"
)

// inputFlags collects the source text and per-project generation overrides.
type inputFlags struct {
	id       string
	kind     string
	title    string
	text     string
	style    string
	aspect   string
	chapters int
	scenes   int
	panels   int
	voice    string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "Project identifier (generated when empty)")
	cmd.Flags().StringVar(&f.kind, "kind", string(pipeline.InputNovel), "Input kind: novel, script, or prompt")
	cmd.Flags().StringVar(&f.title, "title", "", "Project title")
	cmd.Flags().StringVar(&f.text, "text", "", "Inline source text instead of a file")
	cmd.Flags().StringVar(&f.style, "style", "", "Visual style override")
	cmd.Flags().StringVar(&f.aspect, "aspect-ratio", "", "Aspect ratio override (e.g. 9:16)")
	cmd.Flags().IntVar(&f.chapters, "chapters", 0, "Chapters to adapt")
	cmd.Flags().IntVar(&f.scenes, "scenes", 0, "Scenes per chapter")
	cmd.Flags().IntVar(&f.panels, "panels", 0, "Panels per scene")
	cmd.Flags().StringVar(&f.voice, "voice", "", "Narration voice override")
}

// input reads the source from --text, a file argument, or stdin ("-").
func (f *inputFlags) input(stdin io.Reader, args []string) (pipeline.Input, error) {
	text := f.text
	title := strings.TrimSpace(f.title)
	if len(args) > 0 {
		if text != "" {
			return pipeline.Input{}, errors.New("pass either --text or a file, not both")
		}
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			path, expandErr := config.ExpandPath(args[0])
			if expandErr != nil {
				return pipeline.Input{}, expandErr
			}
			data, err = os.ReadFile(path)
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
		}
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("read input: %w", err)
		}
		text = string(data)
	}
	in := pipeline.Input{
		Kind:  pipeline.InputKind(strings.ToLower(strings.TrimSpace(f.kind))),
		Title: title,
		Text:  text,
	}
	if err := in.Validate(); err != nil {
		return pipeline.Input{}, err
	}
	return in, nil
}

// settings returns the flag overrides. Zero fields keep the configured
// generation defaults.
func (f *inputFlags) settings() pipeline.Settings {
	return pipeline.Settings{
		Style:            f.style,
		AspectRatio:      f.aspect,
		ChaptersToUse:    f.chapters,
		ScenesPerChapter: f.scenes,
		PanelsPerScene:   f.panels,
		Voice:            f.voice,
	}
}
