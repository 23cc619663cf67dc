package draft

import (
	"regexp"
	"strings"

	"subgate/pkg/tgui"
)

// tagSplitPattern splits raw tag input on commas (ASCII and fullwidth) and
// any run of whitespace.
var tagSplitPattern = regexp.MustCompile(`[,\s，]+`)

const tagMaxRunes = 30

// ProcessTags normalizes raw user input into the rendered tag string:
// lowercase, at most maxTags entries, each prefixed with exactly one '#',
// each capped at 30 runes, joined by single spaces.
//
// An empty result means the input contained no usable tags; callers treat
// that as a validation failure and re-prompt.
func ProcessTags(raw string, maxTags int) string {
	if maxTags <= 0 {
		maxTags = 1
	}
	fields := tagSplitPattern.Split(raw, -1)

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(strings.TrimSpace(f))
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		t = tgui.TruncRunes(t, tagMaxRunes)
		// A lone '#' carries no tag.
		if t == "#" {
			continue
		}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return strings.Join(out, " ")
}
