package history

import (
	"context"

	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/repository"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

// ExtractTSIDs returns the "[<tsid>]" tags found in text, unique in order of appearance
func ExtractTSIDs(text string) []model.TSID {
	var tsids []model.TSID
	seen := map[string]bool{}
	for _, m := range tsidTagPattern.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		tsids = append(tsids, model.TSID(m[1]))
	}
	return tsids
}

// TSIDsForDates returns the timeline tsids of the given dates, in the order of dates
func TSIDsForDates(snapshot *TimelineSnapshot, dates []string) []model.TSID {
	if snapshot == nil {
		return nil
	}

	var tsids []model.TSID
	seen := map[model.TSID]bool{}
	for _, d := range dates {
		for _, id := range snapshot.ByDate[d] {
			if seen[id] {
				continue
			}
			seen[id] = true
			tsids = append(tsids, id)
		}
	}
	return tsids
}

// ResolveSessions maps tsids to session ids through sessions. Unknown tsids are
// skipped and each session appears once, at the position of its first tsid.
func ResolveSessions(ctx context.Context, sessions repository.SessionMap, tsids []model.TSID) ([]model.SessionID, error) {
	if len(tsids) == 0 {
		return nil, nil
	}

	all, err := sessions.Load(ctx)
	if err != nil {
		return nil, err
	}

	var sids []model.SessionID
	seen := map[model.SessionID]bool{}
	for _, id := range tsids {
		sid, ok := all[id]
		if !ok {
			logging.From(ctx).Debug("tsid has no session", "tsid", id)
			continue
		}
		if seen[sid] {
			continue
		}
		seen[sid] = true
		sids = append(sids, sid)
	}
	return sids, nil
}
