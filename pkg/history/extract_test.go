package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
)

type mockSessionMap struct {
	LoadFn func(ctx context.Context) (map[model.TSID]model.SessionID, error)
}

func (m *mockSessionMap) Resolve(ctx context.Context, tsid model.TSID) (model.SessionID, bool, error) {
	all, err := m.LoadFn(ctx)
	if err != nil {
		return "", false, err
	}
	sid, ok := all[tsid]
	return sid, ok, nil
}

func (m *mockSessionMap) Bind(ctx context.Context, tsid model.TSID, sid model.SessionID) error {
	return errors.New("not supported")
}

func (m *mockSessionMap) Load(ctx context.Context) (map[model.TSID]model.SessionID, error) {
	return m.LoadFn(ctx)
}

func TestExtractTSIDs(t *testing.T) {
	text := "## 2026-02-24\n\n- [202602241600] a\n- [202602241630] b [202602241600]\n- [2026] short\n"
	gt.V(t, history.ExtractTSIDs(text)).Equal([]model.TSID{"202602241600", "202602241630"})
	gt.A(t, history.ExtractTSIDs("nothing")).Length(0)
}

func TestTSIDsForDates(t *testing.T) {
	snapshot := history.ParseTimeline("- 202602241600 | a\n- 202602250800 | b\n- 202602241630 | c\n")
	gt.V(t, history.TSIDsForDates(snapshot, []string{"2026-02-25", "2026-02-24", "2026-03-01"})).
		Equal([]model.TSID{"202602250800", "202602241600", "202602241630"})
	gt.A(t, history.TSIDsForDates(nil, []string{"2026-02-24"})).Length(0)
}

func TestResolveSessions(t *testing.T) {
	sessions := &mockSessionMap{
		LoadFn: func(ctx context.Context) (map[model.TSID]model.SessionID, error) {
			return map[model.TSID]model.SessionID{
				"202602241600": "s1",
				"202602241630": "s1",
				"202602260705": "s2",
			}, nil
		},
	}

	sids, err := history.ResolveSessions(context.Background(), sessions, []model.TSID{
		"202602260705", "202602241600", "209901010000", "202602241630",
	})
	gt.NoError(t, err)
	gt.V(t, sids).Equal([]model.SessionID{"s2", "s1"})

	t.Run("load failure", func(t *testing.T) {
		failing := &mockSessionMap{
			LoadFn: func(ctx context.Context) (map[model.TSID]model.SessionID, error) {
				return nil, errors.New("boom")
			},
		}
		_, err := history.ResolveSessions(context.Background(), failing, []model.TSID{"202602241600"})
		gt.Error(t, err)
	})
}
