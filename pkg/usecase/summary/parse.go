package summary

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const unavailableSummary = "(summary unavailable)"

var (
	l0Section   = regexp.MustCompile(`(?s)\[L0\][ \t]*\r?\n(.*?)(?:\[L1\]|$)`)
	l1Section   = regexp.MustCompile(`(?s)\[L1\][ \t]*\r?\n(.*)$`)
	leadingDash = regexp.MustCompile(`^-\s*`)
	leadingTSID = regexp.MustCompile(`^\d{12}\s*\|\s*`)

	noneMarkers = []string{"none", "无", "n/a"}
)

// ParseReply extracts the timeline summary and the decision text from a model
// reply. The decision text is empty when the model reported no decisions.
func ParseReply(reply string) (l0, l1 string) {
	if m := l0Section.FindStringSubmatch(reply); m != nil {
		l0 = firstLine(m[1])
	}
	if l0 == "" {
		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.Contains(line, "[L0]") || strings.Contains(line, "[L1]") {
				continue
			}
			l0 = line
			break
		}
	}

	l0 = leadingTSID.ReplaceAllString(leadingDash.ReplaceAllString(l0, ""), "")
	l0 = strings.TrimSpace(l0)
	if l0 == "" {
		l0 = unavailableSummary
	}

	if m := l1Section.FindStringSubmatch(reply); m != nil {
		text := strings.TrimSpace(m[1])
		if text != "" && !isNone(text) {
			l1 = text
		}
	}
	return l0, l1
}

func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// isNone reports whether the decision text is a no-decision marker. The
// marker must be the whole first token: "None." and "无（只是问候）" match,
// "None of the retries helped" does not.
func isNone(text string) bool {
	lower := strings.ToLower(firstLine(text))
	for _, marker := range noneMarkers {
		rest, ok := strings.CutPrefix(lower, marker)
		if !ok {
			continue
		}
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsPunct(r) {
			return true
		}
	}
	return false
}
