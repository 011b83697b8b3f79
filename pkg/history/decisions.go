package history

import (
	"context"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

var (
	dateHeaderPattern = regexp.MustCompile(`^## (\d{4}-\d{2}-\d{2})$`)
	tsidTagPattern    = regexp.MustCompile(`\[(\d{12})\]`)
	taggedBullet      = regexp.MustCompile(`^- \[(\d{12})\]\s*(.*)$`)
	bulletMarker      = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// Decisions is the tier-1 store. Bullets are grouped under "## YYYY-MM-DD"
// headers and each bullet carries the tsid of the turn it came from:
//
//	## 2026-02-24
//
//	- [202602241600] switched the summary model to qwen-max
type Decisions struct {
	path string
}

// NewDecisions returns a Decisions store at path
func NewDecisions(path string) *Decisions {
	return &Decisions{path: path}
}

// DecisionFilter selects decisions. TSIDs take precedence over Dates; an empty
// filter selects everything.
type DecisionFilter struct {
	TSIDs []model.TSID
	Dates []string
}

// DecisionsResult is the loaded tier-1 text
type DecisionsResult struct {
	Available bool
	Text      string
}

// Prompt renders the decisions block for the reply generator
func (x *DecisionsResult) Prompt() string {
	if x == nil || !x.Available {
		return ""
	}
	return "<key_decisions>\nKey decisions and technical details from past conversations:\n" + x.Text + "\n</key_decisions>"
}

// FormatDecisionLine renders one tier-1 bullet
func FormatDecisionLine(entry model.DecisionEntry) string {
	return "- [" + entry.TSID.String() + "] " + singleLine(entry.Text)
}

// TagDecisions converts free-text decision bullets into entries tagged with
// tsid. Lines already tagged with a tsid keep their own tag.
func TagDecisions(text string, tsid model.TSID) []model.DecisionEntry {
	var entries []model.DecisionEntry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := taggedBullet.FindStringSubmatch(line); m != nil {
			if body := strings.TrimSpace(m[2]); body != "" {
				entries = append(entries, model.DecisionEntry{TSID: model.TSID(m[1]), Text: body})
			}
			continue
		}

		body := strings.TrimSpace(bulletMarker.ReplaceAllString(line, ""))
		if body == "" {
			continue
		}
		entries = append(entries, model.DecisionEntry{TSID: tsid, Text: body})
	}
	return entries
}

// Append writes entries under the section of date. The header is created when
// the section does not exist yet; an existing section is extended without
// repeating the header.
func (x *Decisions) Append(ctx context.Context, date string, entries []model.DecisionEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if !model.IsDate(date) {
		return goerr.New("invalid decision date", goerr.V("date", date))
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.TSID.Valid() {
			return goerr.Wrap(model.ErrInvalidTSID, "failed to append decisions", goerr.V("tsid", e.TSID))
		}
		lines = append(lines, FormatDecisionLine(e))
	}
	block := strings.Join(lines, "\n") + "\n"

	existing, err := readOptional(x.path)
	if err != nil {
		return err
	}

	header := "## " + date
	sections := splitSections(existing)

	switch idx := lastSectionIndex(sections, date); {
	case idx < 0:
		var prefix string
		if strings.TrimSpace(existing) != "" {
			if !strings.HasSuffix(existing, "\n") {
				prefix = "\n"
			}
			prefix += "\n"
		}
		if err := appendFile(x.path, prefix+header+"\n\n"+block); err != nil {
			return err
		}

	case idx == len(sections)-1:
		prefix := ""
		if !strings.HasSuffix(existing, "\n") {
			prefix = "\n"
		}
		if err := appendFile(x.path, prefix+block); err != nil {
			return err
		}

	default:
		// the section exists but is not the last one: insert at its end
		sections[idx].body = strings.TrimRight(sections[idx].body, "\n") + "\n" + block
		if err := replaceFile(x.path, joinSections(sections)); err != nil {
			return err
		}
	}

	logging.From(ctx).Debug("decisions appended", "date", date, "count", len(entries))
	return nil
}

// Load returns the decisions matching filter
func (x *Decisions) Load(ctx context.Context, filter DecisionFilter) (*DecisionsResult, error) {
	raw, err := readOptional(x.path)
	if err != nil {
		return nil, err
	}

	result := FilterDecisions(raw, filter)
	logging.From(ctx).Debug("decisions loaded",
		"tsids", filter.TSIDs,
		"dates", filter.Dates,
		"available", result.Available,
		"chars", len([]rune(result.Text)),
	)
	return result, nil
}

// FilterDecisions applies filter to decisions text
func FilterDecisions(raw string, filter DecisionFilter) *DecisionsResult {
	content := strings.TrimSpace(raw)
	if content == "" {
		return &DecisionsResult{}
	}

	var text string
	switch {
	case len(filter.TSIDs) > 0:
		text = filterByTSID(content, filter.TSIDs)
	case len(filter.Dates) > 0:
		text = filterByDate(content, filter.Dates)
	default:
		text = content
	}

	if text == "" {
		return &DecisionsResult{}
	}
	return &DecisionsResult{Available: true, Text: text}
}

func filterByTSID(content string, tsids []model.TSID) string {
	wanted := make(map[string]bool, len(tsids))
	for _, id := range tsids {
		wanted[id.String()] = true
	}

	var order []string
	grouped := map[string][]string{}
	current := ""

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := dateHeaderPattern.FindStringSubmatch(trimmed); m != nil {
			current = m[1]
			continue
		}

		m := tsidTagPattern.FindStringSubmatch(trimmed)
		if m == nil || !wanted[m[1]] {
			continue
		}
		if _, ok := grouped[current]; !ok {
			order = append(order, current)
		}
		grouped[current] = append(grouped[current], trimmed)
	}

	blocks := make([]string, 0, len(order))
	for _, date := range order {
		body := strings.Join(grouped[date], "\n")
		if date == "" {
			blocks = append(blocks, body)
			continue
		}
		blocks = append(blocks, "## "+date+"\n\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func filterByDate(content string, dates []string) string {
	wanted := make(map[string]bool, len(dates))
	for _, d := range dates {
		wanted[d] = true
	}

	var order []string
	merged := map[string]string{}
	for _, s := range splitSections(content) {
		if s.date == "" || !wanted[s.date] {
			continue
		}
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		if prev, ok := merged[s.date]; ok {
			merged[s.date] = prev + "\n" + body
			continue
		}
		order = append(order, s.date)
		merged[s.date] = body
	}

	blocks := make([]string, 0, len(order))
	for _, date := range order {
		blocks = append(blocks, "## "+date+"\n\n"+merged[date])
	}
	return strings.Join(blocks, "\n\n")
}

type section struct {
	// date is empty for text before the first header
	date string
	body string
}

func splitSections(content string) []section {
	if content == "" {
		return nil
	}

	sections := []section{{}}
	var body strings.Builder
	flush := func() {
		sections[len(sections)-1].body = body.String()
		body.Reset()
	}

	for _, line := range strings.SplitAfter(content, "\n") {
		if m := dateHeaderPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			sections = append(sections, section{date: m[1]})
			continue
		}
		body.WriteString(line)
	}
	flush()

	if sections[0].body == "" {
		sections = sections[1:]
	}
	return sections
}

func joinSections(sections []section) string {
	var b strings.Builder
	for i, s := range sections {
		if s.date == "" {
			b.WriteString(strings.TrimRight(s.body, "\n"))
		} else {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("## " + s.date + "\n\n")
			b.WriteString(strings.Trim(s.body, "\n"))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func lastSectionIndex(sections []section, date string) int {
	for i := len(sections) - 1; i >= 0; i-- {
		if sections[i].date == date {
			return i
		}
	}
	return -1
}
