package generators

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"dramaforge/internal/contentcache"
	"dramaforge/internal/services"
)

// Offline is a deterministic local implementation of every capability.
type Offline struct{}

// NewOfflineSuite returns a Suite backed entirely by Offline.
func NewOfflineSuite() Suite {
	o := Offline{}
	return Suite{Text: o, Image: o, Video: o, Speech: o, LipSync: o}
}

// Provider implements Named.
func (Offline) Provider() string { return "offline" }

func offlineRef(kind, ext string, parts ...any) Ref {
	return Ref(fmt.Sprintf("offline://%s/%s.%s", kind, contentcache.Hash(parts)[:16], ext))
}

func (Offline) GenerateImage(ctx context.Context, prompt, style, aspectRatio string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", services.Wrap(services.ErrValidation, "render", "offline", "image prompt required", nil)
	}
	return offlineRef("image", "png", prompt, style, aspectRatio), nil
}

func (Offline) GenerateVideo(ctx context.Context, image Ref, durationSeconds float64, motion Motion) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if image == "" {
		return "", services.Wrap(services.ErrValidation, "animate", "offline", "source image required", nil)
	}
	return offlineRef("video", "mp4", image, durationSeconds, motion), nil
}

func (Offline) Synthesize(ctx context.Context, text, voice string, rate, pitch float64) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", services.Wrap(services.ErrValidation, "voice", "offline", "speech text required", nil)
	}
	return offlineRef("audio", "wav", text, voice, rate, pitch), nil
}

func (Offline) LipSync(ctx context.Context, video, audio, face Ref) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if video == "" || audio == "" {
		return "", services.Wrap(services.ErrValidation, "lipsync", "offline", "video and audio required", nil)
	}
	return offlineRef("lipsync", "mp4", video, audio, face), nil
}

// GenerateText renders the structured task in req.Vars as the JSON a model
// would be asked to return.
func (Offline) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var payload any
	switch req.Task {
	case TaskScript:
		payload = offlineScript(req.Vars)
	case TaskStoryboard:
		p, err := offlineStoryboard(req.Vars)
		if err != nil {
			return "", err
		}
		payload = p
	case TaskCharacter:
		payload = offlineCharacter(req.Vars)
	default:
		sentences := SplitSentences(req.Prompt)
		if len(sentences) == 0 {
			return "", services.Wrap(services.ErrValidation, string(req.Task), "offline", "prompt required", nil)
		}
		return sentences[0], nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("offline text: encode: %w", err)
	}
	return string(encoded), nil
}

type offlineLine struct {
	Character string `json:"character"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
}

type offlineScene struct {
	Title      string        `json:"title"`
	Location   string        `json:"location"`
	TimeOfDay  string        `json:"time_of_day"`
	Summary    string        `json:"summary"`
	Characters []string      `json:"characters"`
	Dialogue   []offlineLine `json:"dialogue"`
}

func offlineScript(vars map[string]string) map[string][]offlineScene {
	sentences := SplitSentences(vars["chapter_text"])
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(vars["chapter_title"])}
	}
	count, _ := strconv.Atoi(vars["scene_count"])
	count = max(count, 1)
	cast := splitList(vars["characters"])

	scenes := make([]offlineScene, 0, count)
	for i := range count {
		lo := i * len(sentences) / count
		hi := max((i+1)*len(sentences)/count, lo+1)
		group := sentences[min(lo, len(sentences)-1):min(hi, len(sentences))]
		text := strings.Join(group, " ")

		scene := offlineScene{
			Title:      fmt.Sprintf("%s, scene %d", vars["chapter_title"], i+1),
			Location:   pickKeyword(text, locationKeywords, "interior"),
			TimeOfDay:  pickKeyword(text, timeKeywords, "day"),
			Summary:    strings.Join(group[:min(2, len(group))], " "),
			Characters: mentioned(text, cast),
		}
		for _, sentence := range group {
			for _, quote := range quotations(sentence) {
				speaker := "Narrator"
				if who := mentioned(sentence, cast); len(who) > 0 {
					speaker = who[0]
				} else if len(scene.Characters) > 0 {
					speaker = scene.Characters[0]
				}
				scene.Dialogue = append(scene.Dialogue, offlineLine{Character: speaker, Text: quote, Emotion: emotionOf(quote)})
			}
		}
		if len(scene.Dialogue) == 0 {
			scene.Dialogue = []offlineLine{{Character: "Narrator", Text: group[0], Emotion: emotionOf(group[0])}}
		}
		scenes = append(scenes, scene)
	}
	return map[string][]offlineScene{"scenes": scenes}
}

type offlinePanel struct {
	Shot          string   `json:"shot"`
	Camera        string   `json:"camera"`
	Description   string   `json:"description"`
	Characters    []string `json:"characters"`
	DialogueIndex int      `json:"dialogue_index"`
}

var (
	shotCycle   = []string{"wide", "medium", "close-up", "medium"}
	cameraCycle = []string{"eye-level", "over-the-shoulder", "low-angle", "high-angle"}
)

func offlineStoryboard(vars map[string]string) (map[string][]offlinePanel, error) {
	var scene offlineScene
	if err := json.Unmarshal([]byte(vars["scene"]), &scene); err != nil {
		return nil, services.Wrap(services.ErrValidation, "storyboard", "offline", "scene variable is not valid JSON", err)
	}
	count, _ := strconv.Atoi(vars["panel_count"])
	count = max(count, 1)
	beats := SplitSentences(scene.Summary)
	if len(beats) == 0 {
		beats = []string{scene.Title}
	}

	panels := make([]offlinePanel, count)
	for i := range panels {
		shot := shotCycle[i%len(shotCycle)]
		panels[i] = offlinePanel{
			Shot:          shot,
			Camera:        cameraCycle[i%len(cameraCycle)],
			Description:   fmt.Sprintf("%s shot, %s, %s: %s", shot, scene.Location, scene.TimeOfDay, beats[i%len(beats)]),
			Characters:    scene.Characters,
			DialogueIndex: -1,
		}
		if i < len(scene.Dialogue) {
			panels[i].DialogueIndex = i
		}
	}
	return map[string][]offlinePanel{"panels": panels}, nil
}

var (
	builds       = []string{"slender", "broad-shouldered", "wiry", "tall", "compact"}
	hairStyles   = []string{"short black hair", "long silver hair", "braided auburn hair", "cropped grey hair", "wavy brown hair"}
	wardrobe     = []string{"a travel-worn coat", "a tailored uniform", "a hooded cloak", "simple linen clothes", "an embroidered robe"}
	temperaments = []string{"steady and observant", "quick-tempered but loyal", "warm and curious", "guarded and precise", "playful and restless"}
	voiceStyles  = []string{"calm baritone", "bright tenor", "soft alto", "gravelly bass", "clear soprano"}
)

func offlineCharacter(vars map[string]string) map[string]string {
	name := strings.TrimSpace(vars["name"])
	seed := contentcache.Hash(name)
	pick := func(options []string, offset int) string {
		n, _ := strconv.ParseUint(seed[offset:offset+4], 16, 32)
		return options[int(n)%len(options)]
	}
	return map[string]string{
		"appearance":  fmt.Sprintf("%s, %s, wearing %s", pick(builds, 0), pick(hairStyles, 4), pick(wardrobe, 8)),
		"personality": pick(temperaments, 12),
		"voice":       pick(voiceStyles, 16),
	}
}

var locationKeywords = []string{"forest", "castle", "palace", "village", "city", "street", "market", "sea", "river", "mountain", "school", "office", "garden", "temple", "room", "hall"}

var timeKeywords = []string{"night", "dawn", "morning", "noon", "afternoon", "dusk", "evening"}

func pickKeyword(text string, keywords []string, fallback string) string {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return fallback
}

func mentioned(text string, cast []string) []string {
	var out []string
	for _, name := range cast {
		if name != "" && strings.Contains(text, name) {
			out = append(out, name)
		}
	}
	return out
}

func emotionOf(text string) string {
	switch {
	case strings.ContainsAny(text, "!！"):
		return "excited"
	case strings.ContainsAny(text, "?？"):
		return "curious"
	default:
		return "calm"
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// quotations extracts text enclosed in straight or curly double quotes.
func quotations(text string) []string {
	var (
		out     []string
		current strings.Builder
		open    bool
	)
	for _, r := range text {
		switch {
		case r == '"' && !open, r == '“', r == '「':
			open = true
			current.Reset()
		case r == '"' && open, r == '”', r == '」':
			if q := strings.TrimSpace(current.String()); q != "" && open {
				out = append(out, q)
			}
			open = false
		default:
			if open {
				current.WriteRune(r)
			}
		}
	}
	return out
}

// SplitSentences splits text on terminal punctuation, keeping the
// punctuation and any closing quote with its sentence.
func SplitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
		current.Reset()
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if !isTerminal(r) {
			continue
		}
		for i+1 < len(runes) && isCloser(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) || r > unicode.MaxLatin1 {
			flush()
		}
	}
	flush()
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '”', '」', '\'', '’', ')':
		return true
	}
	return false
}
