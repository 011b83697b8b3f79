// Package summary condenses a finished turn into the tier-0 timeline line and
// the tier-1 decision bullets.
package summary

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/repository"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

//go:embed prompt/summary.md
var systemPrompt string

//go:embed prompt/summary_user.md
var userPromptRaw string

var userPromptTmpl = template.Must(template.New("summary_user").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(userPromptRaw))

const (
	defaultMaxTokens = 800
	fallbackRunes    = 60
)

// Turn describes the turn that just ended
type Turn struct {
	SessionID model.SessionID
	// Prompt is the user's message, used for the fallback line
	Prompt    string
	ToolNames []string
}

// Result reports what Run wrote. It is informational only.
type Result struct {
	TSID      model.TSID
	Summary   string
	Decisions []model.DecisionEntry
	// Fallback is true when the timeline line was derived from the prompt
	Fallback bool
}

// Pipeline writes the history of each finished turn
type Pipeline struct {
	timeline   *history.Timeline
	decisions  *history.Decisions
	transcript *history.Transcript
	sessions   repository.SessionMap

	completer adapter.Completer
	clock     func() time.Time
	maxTokens int
	strict    bool
}

type Option func(*Pipeline)

// WithCompleter enables model summaries. Without it every turn gets the fallback line.
func WithCompleter(c adapter.Completer) Option {
	return func(p *Pipeline) { p.completer = c }
}

func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// WithStrictCrossReference skips the decisions of a turn whose timeline line
// could not be written, so every decision tsid has a timeline entry.
func WithStrictCrossReference() Option {
	return func(p *Pipeline) { p.strict = true }
}

func New(stores *history.Stores, sessions repository.SessionMap, opts ...Option) *Pipeline {
	p := &Pipeline{
		timeline:   stores.Timeline,
		decisions:  stores.Decisions,
		transcript: stores.Transcript,
		sessions:   sessions,
		clock:      time.Now,
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run records the turn. It never fails the caller's turn: every error is logged
// and whatever could be written is written.
func (p *Pipeline) Run(ctx context.Context, turn Turn) *Result {
	tsid := model.NewTSID(p.clock())
	logger := logging.From(ctx).With("tsid", tsid, "session_id", turn.SessionID)
	ctx = logging.With(ctx, logger)

	result := &Result{TSID: tsid}

	if err := p.sessions.Bind(ctx, tsid, turn.SessionID); err != nil {
		logger.Warn("failed to bind tsid to session", "error", err)
	}

	transcript, err := p.transcript.Recent(ctx, turn.SessionID)
	if err != nil {
		logger.Warn("failed to read transcript", "error", err)
	}

	if p.completer == nil || transcript == "" {
		logger.Info("timeline fallback", "completer", p.completer != nil, "transcript", transcript != "")
		p.writeFallback(ctx, result, turn)
		return result
	}

	reply, err := p.summarize(ctx, transcript, turn.ToolNames)
	if err != nil {
		logger.Warn("failed to summarize turn", "error", err)
		p.writeFallback(ctx, result, turn)
		return result
	}

	l0, l1 := ParseReply(reply)
	result.Summary = l0

	timelineErr := p.timeline.Append(ctx, model.TimelineEntry{TSID: tsid, Summary: l0})
	if timelineErr != nil {
		logger.Warn("failed to append timeline", "error", timelineErr)
	} else {
		logger.Info("timeline appended", "summary", l0)
	}

	if l1 == "" {
		logger.Info("no decisions this turn")
		return result
	}
	if timelineErr != nil && p.strict {
		logger.Warn("decisions skipped because the timeline entry is missing")
		return result
	}

	entries := history.TagDecisions(l1, tsid)
	if err := p.decisions.Append(ctx, tsid.Date(), entries); err != nil {
		logger.Warn("failed to append decisions", "error", err)
		return result
	}
	result.Decisions = entries
	logger.Info("decisions appended", "count", len(entries))

	return result
}

func (p *Pipeline) summarize(ctx context.Context, transcript string, tools []string) (string, error) {
	var buf bytes.Buffer
	if err := userPromptTmpl.Execute(&buf, map[string]any{
		"Transcript": transcript,
		"Tools":      tools,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute summary prompt template")
	}

	reply, err := p.completer.Complete(ctx, systemPrompt, buf.String(), p.maxTokens)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", goerr.Wrap(adapter.ErrEmptyCompletion, "summary reply is empty")
	}
	return reply, nil
}

func (p *Pipeline) writeFallback(ctx context.Context, result *Result, turn Turn) {
	summary := FallbackSummary(turn.Prompt)
	result.Summary = summary
	result.Fallback = true

	if err := p.timeline.Append(ctx, model.TimelineEntry{TSID: result.TSID, Summary: summary}); err != nil {
		logging.From(ctx).Warn("failed to append fallback timeline", "error", err)
	}
}

// FallbackSummary is the timeline summary used when no model summary is available:
// the first 60 characters of the prompt followed by "...".
func FallbackSummary(prompt string) string {
	r := []rune(prompt)
	if len(r) > fallbackRunes {
		r = r[:fallbackRunes]
	}
	head := strings.ReplaceAll(string(r), "\r", " ")
	return strings.ReplaceAll(head, "\n", " ") + "..."
}
