// Package recall loads the history tiers a routing decision escalated to.
package recall

import (
	"context"
	"strings"

	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/repository"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

// Context is the history text to inject into the reply generator's prompt
type Context struct {
	Tier1      string
	Tier2      string
	SessionIDs []model.SessionID
	// TSIDs are the identifiers used to locate the tier-2 sessions
	TSIDs []model.TSID
}

// Prompt joins the non-empty blocks
func (x *Context) Prompt() string {
	var blocks []string
	for _, b := range []string{x.Tier1, x.Tier2} {
		if b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

type Loader struct {
	decisions  *history.Decisions
	transcript *history.Transcript
	sessions   repository.SessionMap
}

func New(stores *history.Stores, sessions repository.SessionMap) *Loader {
	return &Loader{
		decisions:  stores.Decisions,
		transcript: stores.Transcript,
		sessions:   sessions,
	}
}

// Load reads tier 1 and tier 2 as requested by decision. Missing data gives
// empty blocks. Storage failures are logged and only drop the tier they hit.
func (x *Loader) Load(ctx context.Context, decision *model.RouteDecision, timeline *history.TimelineSnapshot) *Context {
	result := &Context{}
	if decision == nil || (!decision.NeedsTier1 && !decision.NeedsTier2) {
		return result
	}
	logger := logging.From(ctx)

	var tier1 *history.DecisionsResult
	if decision.NeedsTier1 {
		loaded, err := x.decisions.Load(ctx, history.DecisionFilter{Dates: decision.Tier1Dates})
		if err != nil {
			logger.Warn("failed to load decisions, tier 1 skipped", "error", err)
		} else {
			tier1 = loaded
			result.Tier1 = loaded.Prompt()
		}
	}

	if !decision.NeedsTier2 {
		return result
	}

	tsids := x.locate(ctx, decision, tier1, timeline)
	result.TSIDs = tsids
	if len(tsids) == 0 {
		logger.Info("no tsid to locate transcripts")
		return result
	}

	sids, err := history.ResolveSessions(ctx, x.sessions, tsids)
	if err != nil {
		logger.Warn("failed to resolve sessions, tier 2 skipped", "error", err, "tsids", tsids)
		return result
	}
	if len(sids) == 0 {
		logger.Info("no session bound to tsids", "tsids", tsids)
		return result
	}

	retrieval, err := x.transcript.Retrieve(ctx, sids)
	if err != nil {
		logger.Warn("failed to retrieve transcripts, tier 2 skipped", "error", err, "sessions", sids)
		return result
	}
	result.Tier2 = retrieval.Prompt()
	result.SessionIDs = retrieval.SessionIDs

	logger.Info("history recalled",
		"tier1", result.Tier1 != "",
		"tsids", tsids,
		"sessions", result.SessionIDs,
		"truncated", retrieval.Truncated,
	)
	return result
}

// locate picks the tsids whose sessions are read for tier 2: those cited in
// tier 1 first, then the timeline entries of the requested dates, then the
// entries of the most recent date.
func (x *Loader) locate(ctx context.Context, decision *model.RouteDecision, tier1 *history.DecisionsResult, timeline *history.TimelineSnapshot) []model.TSID {
	if tier1 != nil && tier1.Available {
		if tsids := history.ExtractTSIDs(tier1.Text); len(tsids) > 0 {
			return tsids
		}
	}

	if timeline == nil || !timeline.Available {
		return nil
	}
	if tsids := history.TSIDsForDates(timeline, decision.Tier1Dates); len(tsids) > 0 {
		return tsids
	}

	logging.From(ctx).Debug("falling back to the latest timeline date")
	return timeline.Latest()
}
