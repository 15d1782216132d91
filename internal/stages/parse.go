package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"dramaforge/internal/logging"
	"dramaforge/internal/pipeline"
)

var (
	chapterHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,3}[ \t]+\S.*|chapter[ \t]+(?:\d+|[ivxlc]+)\b.*|第[0-9零一二三四五六七八九十百千]+[章回节].*)$`)
	sceneHeading   = regexp.MustCompile(`(?m)^[ \t]*(?:INT|EXT|INT/EXT|I/E)\.[ \t]+\S.*$`)
	speakerCue     = regexp.MustCompile(`(?m)^[ \t]*([A-Z][A-Z .'-]{1,30}?)[ \t]*(?:\([^)]*\))?[ \t]*:`)
	capitalized    = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
)

// nonNames are capitalized words that open sentences far more often than
// they name anyone.
var nonNames = map[string]struct{}{
	"the": {}, "then": {}, "they": {}, "this": {}, "that": {}, "there": {}, "these": {}, "those": {},
	"when": {}, "what": {}, "where": {}, "who": {}, "why": {}, "how": {}, "and": {}, "but": {},
	"she": {}, "her": {}, "his": {}, "him": {}, "you": {}, "your": {}, "our": {}, "its": {},
	"for": {}, "from": {}, "with": {}, "into": {}, "after": {}, "before": {}, "now": {}, "not": {},
	"yes": {}, "one": {}, "chapter": {}, "scene": {}, "narrator": {}, "someone": {}, "nothing": {},
	"everyone": {}, "while": {}, "once": {}, "until": {}, "some": {}, "all": {}, "was": {}, "were": {},
}

const maxCast = 12

func (s *Stages) parse(ctx context.Context, sc *pipeline.StageContext) (any, error) {
	if err := sc.Input.Validate(); err != nil {
		return nil, err
	}
	text := normalizeText(sc.Input.Text)

	var chapters []Chapter
	switch sc.Input.Kind {
	case pipeline.InputPrompt:
		chapters = []Chapter{{Index: 1, Title: defaultTitle(sc.Input.Title, 1), Text: text}}
	case pipeline.InputScript:
		chapters = splitChapters(text, sceneHeading, sc.Input.Title)
		if len(chapters) == 1 {
			chapters = splitChapters(text, chapterHeading, sc.Input.Title)
		}
	default:
		chapters = splitChapters(text, chapterHeading, sc.Input.Title)
	}
	if limit := sc.Settings.ChaptersToUse; limit > 0 && len(chapters) > limit {
		sc.Logger.Info("chapter limit applied",
			logging.Int("chapters", len(chapters)),
			logging.Int("limit", limit))
		chapters = chapters[:limit]
	}
	sc.Report(50)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	used := make([]string, len(chapters))
	for i, ch := range chapters {
		used[i] = ch.Text
	}
	joined := strings.Join(used, "\n\n")

	title := strings.TrimSpace(sc.Input.Title)
	if title == "" {
		title = chapters[0].Title
	}
	result := ParseResult{
		Title:      cases.Title(language.Und, cases.NoLower).String(title),
		Kind:       sc.Input.Kind,
		Chapters:   chapters,
		Characters: findCast(joined),
		WordCount:  countWords(joined),
	}
	sc.Report(100)
	return result, nil
}

// normalizeText composes Unicode, unifies line endings and collapses runs of
// blank lines so that headings always start a line.
func normalizeText(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func splitChapters(text string, heading *regexp.Regexp, fallbackTitle string) []Chapter {
	locs := heading.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []Chapter{{Index: 1, Title: defaultTitle(fallbackTitle, 1), Text: text}}
	}

	var chapters []Chapter
	if prologue := strings.TrimSpace(text[:locs[0][0]]); prologue != "" {
		chapters = append(chapters, Chapter{Title: "Prologue", Text: prologue})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		title := cleanHeading(text[loc[0]:loc[1]])
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		chapters = append(chapters, Chapter{Title: title, Text: body})
	}
	if len(chapters) == 0 {
		return []Chapter{{Index: 1, Title: defaultTitle(fallbackTitle, 1), Text: text}}
	}
	for i := range chapters {
		chapters[i].Index = i + 1
		if chapters[i].Title == "" {
			chapters[i].Title = defaultTitle("", i+1)
		}
	}
	return chapters
}

func cleanHeading(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimLeft(line, "#"))
	return line
}

func defaultTitle(title string, index int) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return fmt.Sprintf("Chapter %d", index)
}

// findCast returns recurring proper names, most frequent first. Script
// speaker cues count as names on their first appearance.
func findCast(text string) []string {
	counts := make(map[string]int)
	first := make(map[string]int)
	note := func(name string, pos, weight int) {
		if _, skip := nonNames[strings.ToLower(name)]; skip {
			return
		}
		if _, seen := first[name]; !seen {
			first[name] = pos
		}
		counts[name] += weight
	}

	title := cases.Title(language.Und)
	for _, m := range speakerCue.FindAllStringSubmatchIndex(text, -1) {
		note(title.String(strings.TrimSpace(text[m[2]:m[3]])), m[2], 2)
	}
	for _, loc := range capitalized.FindAllStringIndex(text, -1) {
		note(text[loc[0]:loc[1]], loc[0], 1)
	}

	cast := make([]string, 0, len(counts))
	for name, n := range counts {
		if n >= 2 {
			cast = append(cast, name)
		}
	}
	sort.Slice(cast, func(i, j int) bool {
		if counts[cast[i]] != counts[cast[j]] {
			return counts[cast[i]] > counts[cast[j]]
		}
		return first[cast[i]] < first[cast[j]]
	})
	if len(cast) > maxCast {
		cast = cast[:maxCast]
	}
	return cast
}

// countWords counts whitespace-separated words, treating each Han character
// as a word of its own.
func countWords(text string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		other := false
		for _, r := range field {
			if unicode.Is(unicode.Han, r) {
				n++
			} else if unicode.IsLetter(r) || unicode.IsDigit(r) {
				other = true
			}
		}
		if other {
			n++
		}
	}
	return n
}
