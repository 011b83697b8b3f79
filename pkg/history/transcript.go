package history

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/tidwall/gjson"
)

const (
	truncatedMarker = "\n...(truncated)"
	transcriptExt   = ".jsonl"

	// transcript lines can carry large tool outputs
	maxRecordSize = 16 * 1024 * 1024
)

// Budget limits how much of one session is read
type Budget struct {
	// MaxCharsPerMessage caps each message, counted in runes
	MaxCharsPerMessage int
	// MaxMessages keeps only the most recent messages
	MaxMessages int
}

// RetrievalBudget limits an on-demand tier-2 read across sessions
type RetrievalBudget struct {
	Budget
	MaxSessions int
	// MaxTotalChars caps the body characters of all retrieved sessions
	MaxTotalChars int
}

// DefaultRecentBudget is used to feed the summary of the turn that just ended
var DefaultRecentBudget = Budget{MaxCharsPerMessage: 1000, MaxMessages: 20}

// DefaultRetrievalBudget is used when the router escalates to tier 2
var DefaultRetrievalBudget = RetrievalBudget{
	Budget:        Budget{MaxCharsPerMessage: 2000, MaxMessages: 30},
	MaxSessions:   2,
	MaxTotalChars: 12000,
}

// Transcript reads the per-session JSONL transcripts written by the agent runtime
type Transcript struct {
	dir       string
	recent    Budget
	retrieval RetrievalBudget
}

type TranscriptOption func(*Transcript)

func WithRecentBudget(b Budget) TranscriptOption {
	return func(x *Transcript) { x.recent = b }
}

func WithRetrievalBudget(b RetrievalBudget) TranscriptOption {
	return func(x *Transcript) { x.retrieval = b }
}

// NewTranscript returns a reader for transcripts under dir
func NewTranscript(dir string, opts ...TranscriptOption) *Transcript {
	x := &Transcript{
		dir:       dir,
		recent:    DefaultRecentBudget,
		retrieval: DefaultRetrievalBudget,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Retrieval is the result of reading tier 2
type Retrieval struct {
	Available  bool
	Text       string
	SessionIDs []model.SessionID
	Truncated  bool
	// Chars is the number of body runes counted against the aggregate budget
	Chars int
}

// Prompt renders the transcript block for the reply generator
func (x *Retrieval) Prompt() string {
	if x == nil || !x.Available {
		return ""
	}
	return "<full_conversation>\nFull conversation records from past sessions:\n" + x.Text + "\n</full_conversation>"
}

// Path returns the transcript file of sid
func (x *Transcript) Path(sid model.SessionID) (string, error) {
	s := sid.String()
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return "", goerr.New("invalid session id", goerr.V("session_id", s))
	}
	return filepath.Join(x.dir, s+transcriptExt), nil
}

// Messages returns every non-blank message of the session, each capped by
// maxChars runes when maxChars is positive. A missing transcript yields no
// messages and no error.
func (x *Transcript) Messages(ctx context.Context, sid model.SessionID, maxChars int) ([]model.Message, error) {
	path, err := x.Path(sid)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to open transcript", goerr.V("path", path))
	}
	defer f.Close()

	var messages []model.Message
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		msg, ok := parseRecord(line)
		if !ok {
			skipped++
			continue
		}
		if msg == nil {
			continue
		}
		msg.Text = truncateRunes(msg.Text, maxChars)
		messages = append(messages, *msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read transcript", goerr.V("path", path))
	}

	if skipped > 0 {
		logging.From(ctx).Debug("skipped malformed transcript lines", "path", path, "count", skipped)
	}
	return messages, nil
}

// parseRecord returns ok=false for lines that are not JSON and a nil message
// for records that are valid but carry no user or assistant text.
func parseRecord(line []byte) (*model.Message, bool) {
	if !gjson.ValidBytes(line) {
		return nil, false
	}
	rec := gjson.ParseBytes(line)
	if rec.Get("type").String() != "message" {
		return nil, true
	}

	role := model.Role(rec.Get("message.role").String())
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, true
	}

	text := strings.TrimSpace(contentText(rec.Get("message.content")))
	if text == "" {
		return nil, true
	}
	return &model.Message{Role: role, Text: text}, true
}

func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if t := block.Get("text"); t.Type == gjson.String {
				parts = append(parts, t.String())
			}
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// Recent renders the tail of a session for summarization
func (x *Transcript) Recent(ctx context.Context, sid model.SessionID) (string, error) {
	messages, err := x.Messages(ctx, sid, x.recent.MaxCharsPerMessage)
	if err != nil {
		return "", err
	}
	return renderMessages(tail(messages, x.recent.MaxMessages)), nil
}

// Retrieve reads up to MaxSessions sessions in the given order within the
// aggregate budget. A session that does not fit is cut to the remaining budget
// and marked as truncated, and nothing is read after it.
func (x *Transcript) Retrieve(ctx context.Context, sids []model.SessionID) (*Retrieval, error) {
	budget := x.retrieval
	result := &Retrieval{}

	var blocks []string
	for _, sid := range sids {
		if budget.MaxSessions > 0 && len(result.SessionIDs) >= budget.MaxSessions {
			break
		}
		remaining := budget.MaxTotalChars - result.Chars
		if budget.MaxTotalChars > 0 && remaining <= 0 {
			break
		}

		messages, err := x.Messages(ctx, sid, budget.MaxCharsPerMessage)
		if err != nil {
			logging.From(ctx).Warn("failed to read transcript", "session_id", sid, "error", err)
			continue
		}
		body := renderMessages(tail(messages, budget.MaxMessages))
		if body == "" {
			continue
		}

		n := len([]rune(body))
		if budget.MaxTotalChars > 0 && n > remaining {
			body = string([]rune(body)[:remaining]) + truncatedMarker
			n = remaining
			result.Truncated = true
		}

		blocks = append(blocks, "### Session: "+sid.String()+"\n\n"+body)
		result.SessionIDs = append(result.SessionIDs, sid)
		result.Chars += n

		if result.Truncated {
			break
		}
	}

	if len(blocks) == 0 {
		return &Retrieval{}, nil
	}
	result.Available = true
	result.Text = strings.Join(blocks, "\n\n")

	logging.From(ctx).Debug("transcript retrieved",
		"sessions", result.SessionIDs,
		"chars", result.Chars,
		"truncated", result.Truncated,
	)
	return result, nil
}

func renderMessages(messages []model.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, "["+string(m.Role)+"]: "+m.Text)
	}
	return strings.Join(lines, "\n\n")
}

func tail(messages []model.Message, n int) []model.Message {
	if n > 0 && len(messages) > n {
		return messages[len(messages)-n:]
	}
	return messages
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
