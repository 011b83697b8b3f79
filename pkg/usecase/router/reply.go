package router

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var errNoJSONObject = goerr.New("no JSON object in routing response")

// reply is the classifier's JSON answer
type reply struct {
	Packs   []string `json:"packs"`
	Files   []string `json:"files"`
	NeedsL1 bool     `json:"needsL1"`
	L1Dates []string `json:"l1Dates"`
	NeedsL2 bool     `json:"needsL2"`
	Reason  string   `json:"reason"`
}

func parseReply(text string) (*reply, error) {
	obj, ok := extractObject(text)
	if !ok {
		return nil, goerr.Wrap(errNoJSONObject, "failed to find routing reply", goerr.V("text", text))
	}

	var rep reply
	if err := json.Unmarshal([]byte(obj), &rep); err != nil {
		return nil, goerr.Wrap(err, "failed to parse routing reply", goerr.V("json", obj))
	}
	return &rep, nil
}

// extractObject returns the first balanced {...} in text. Braces inside JSON
// strings are ignored, so markdown fences and prose around the object do not matter.
func extractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
