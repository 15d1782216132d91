package generators

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxJSONCandidates bounds how many opening brackets DecodeJSON tries before
// giving up on a reply.
const maxJSONCandidates = 16

var errNoJSON = errors.New("no JSON object or array in reply")

// DecodeJSON decodes the first JSON object or array in a model reply into
// target. Models often wrap the value in a code fence or a sentence of prose;
// anything before the opening bracket or after the closing one is ignored.
func DecodeJSON(content string, target any) error {
	s := strings.TrimSpace(content)
	if s == "" {
		return errors.New("decode reply: empty")
	}
	firstErr := errNoJSON
	for off, tries := 0, 0; tries < maxJSONCandidates; tries++ {
		i := strings.IndexAny(s[off:], "{[")
		if i < 0 {
			break
		}
		off += i
		var raw json.RawMessage
		err := json.NewDecoder(strings.NewReader(s[off:])).Decode(&raw)
		if err == nil {
			if err = json.Unmarshal(raw, target); err == nil {
				return nil
			}
		}
		if tries == 0 {
			firstErr = err
		}
		off++
	}
	return fmt.Errorf("decode reply: %w (near %q)", firstErr, excerpt(s, 160))
}

// excerpt collapses whitespace and truncates s to at most n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
