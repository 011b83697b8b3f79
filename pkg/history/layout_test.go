package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
)

func TestLayout(t *testing.T) {
	root := t.TempDir()
	layout := history.NewLayout(filepath.Join(root, "agent"), "")

	gt.V(t, layout.SessionsDir).Equal(filepath.Join(root, "sessions"))
	gt.V(t, layout.TimelinePath()).Equal(filepath.Join(root, "agent", "history", "timeline.md"))
	gt.V(t, layout.DecisionsPath()).Equal(filepath.Join(root, "agent", "history", "decisions.md"))
	gt.V(t, layout.MapPath()).Equal(filepath.Join(root, "agent", "history", "tsid-session-map.json"))

	t.Run("explicit sessions dir", func(t *testing.T) {
		l := history.NewLayout(filepath.Join(root, "agent"), "/var/sessions")
		gt.V(t, l.SessionsDir).Equal("/var/sessions")
	})

	t.Run("files lists only existing history files", func(t *testing.T) {
		files, err := layout.Files()
		gt.NoError(t, err)
		gt.A(t, files).Length(0)

		stores := history.Open(layout)
		gt.NoError(t, stores.Timeline.Append(context.Background(), model.TimelineEntry{TSID: "202602260705", Summary: "x"}))

		files, err = layout.Files()
		gt.NoError(t, err)
		gt.V(t, files).Equal([]string{layout.TimelinePath()})
	})
}
