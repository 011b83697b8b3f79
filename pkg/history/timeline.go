package history

import (
	"context"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

var timelineLinePattern = regexp.MustCompile(`^-\s*(\d{12})\s*\|\s?(.*)$`)

// Timeline is the tier-0 store: one line per turn, "- <tsid> | <summary>"
type Timeline struct {
	path string
}

// NewTimeline returns a Timeline stored at path
func NewTimeline(path string) *Timeline {
	return &Timeline{path: path}
}

// TimelineSnapshot is the parsed content of the timeline
type TimelineSnapshot struct {
	Available bool
	// Raw is the trimmed file content, given to the router as is
	Raw     string
	Entries []model.TimelineEntry
	// ByDate maps YYYY-MM-DD to the tsids of that date, unique and in append order
	ByDate map[string][]model.TSID
	// Dates lists the keys of ByDate in order of first appearance
	Dates []string
}

// FormatTimelineLine renders one tier-0 line without the trailing newline
func FormatTimelineLine(entry model.TimelineEntry) string {
	return "- " + entry.TSID.String() + " | " + singleLine(entry.Summary)
}

// Append writes entry as a new line at the end of the timeline
func (x *Timeline) Append(ctx context.Context, entry model.TimelineEntry) error {
	if !entry.TSID.Valid() {
		return goerr.Wrap(model.ErrInvalidTSID, "failed to append timeline", goerr.V("tsid", entry.TSID))
	}

	line := FormatTimelineLine(entry)
	if err := appendFile(x.path, line+"\n"); err != nil {
		return err
	}

	logging.From(ctx).Debug("timeline appended", "tsid", entry.TSID, "line", line)
	return nil
}

// Load reads and parses the timeline. A missing or empty file is reported as
// an unavailable snapshot, not as an error.
func (x *Timeline) Load(ctx context.Context) (*TimelineSnapshot, error) {
	raw, err := readOptional(x.path)
	if err != nil {
		return nil, err
	}

	snapshot := ParseTimeline(raw)
	if !snapshot.Available {
		return snapshot, nil
	}

	logging.From(ctx).Debug("timeline loaded",
		"chars", len([]rune(snapshot.Raw)),
		"entries", len(snapshot.Entries),
		"dates", len(snapshot.Dates),
	)
	return snapshot, nil
}

// ParseTimeline parses timeline text. Lines that do not follow the grammar or
// carry a tsid that is not a real calendar minute are kept in Raw but not indexed.
func ParseTimeline(raw string) *TimelineSnapshot {
	snapshot := &TimelineSnapshot{
		Raw:    strings.TrimSpace(raw),
		ByDate: map[string][]model.TSID{},
	}
	if snapshot.Raw == "" {
		return snapshot
	}
	snapshot.Available = true

	seen := map[model.TSID]bool{}
	for _, line := range strings.Split(snapshot.Raw, "\n") {
		m := timelineLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		tsid := model.TSID(m[1])
		if !tsid.Valid() {
			continue
		}

		snapshot.Entries = append(snapshot.Entries, model.TimelineEntry{
			TSID:    tsid,
			Summary: strings.TrimSpace(m[2]),
		})

		if seen[tsid] {
			continue
		}
		seen[tsid] = true

		date := tsid.Date()
		if _, ok := snapshot.ByDate[date]; !ok {
			snapshot.Dates = append(snapshot.Dates, date)
		}
		snapshot.ByDate[date] = append(snapshot.ByDate[date], tsid)
	}

	return snapshot
}

// Prompt renders the timeline block injected into the system prompt
func (x *TimelineSnapshot) Prompt() string {
	if x == nil || !x.Available {
		return ""
	}
	return "<conversation_timeline>\nTimeline index of past conversations:\n" + x.Raw + "\n</conversation_timeline>"
}

// Latest returns the tsids of the most recent date in the timeline
func (x *TimelineSnapshot) Latest() []model.TSID {
	if x == nil || len(x.Dates) == 0 {
		return nil
	}
	return x.ByDate[x.Dates[len(x.Dates)-1]]
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
