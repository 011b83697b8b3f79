// Package history implements the three tiers of the conversation memory index.
//
// Tier 0 (timeline.md) is a one-line-per-turn chronological index that is always
// loaded. Tier 1 (decisions.md) holds detailed decision bullets grouped by date
// and is loaded on demand by date or by timestamp identifier. Tier 2 is the raw
// session transcript written by the agent runtime, read on demand with strict
// size budgets. All tiers are linked by the 12-digit timestamp identifier.
package history

import (
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

const (
	historyDirName  = "history"
	timelineFile    = "timeline.md"
	decisionsFile   = "decisions.md"
	tsidMapFile     = "tsid-session-map.json"
	sessionsDirName = "sessions"

	dirMode  = 0o755
	fileMode = 0o644
)

// Layout resolves the files of one agent workspace
type Layout struct {
	AgentDir    string
	SessionsDir string
}

// NewLayout returns the layout for agentDir. When sessionsDir is empty the
// transcripts are expected in a "sessions" directory next to agentDir.
func NewLayout(agentDir, sessionsDir string) Layout {
	if sessionsDir == "" {
		sessionsDir = filepath.Join(filepath.Dir(filepath.Clean(agentDir)), sessionsDirName)
	}
	return Layout{AgentDir: agentDir, SessionsDir: sessionsDir}
}

func (x Layout) HistoryDir() string    { return filepath.Join(x.AgentDir, historyDirName) }
func (x Layout) TimelinePath() string  { return filepath.Join(x.HistoryDir(), timelineFile) }
func (x Layout) DecisionsPath() string { return filepath.Join(x.HistoryDir(), decisionsFile) }
func (x Layout) MapPath() string       { return filepath.Join(x.HistoryDir(), tsidMapFile) }

// Paths returns the paths of every history file, existing or not
func (x Layout) Paths() []string {
	return []string{x.TimelinePath(), x.DecisionsPath(), x.MapPath()}
}

// Files returns every history file that exists, for backup
func (x Layout) Files() ([]string, error) {
	var files []string
	for _, p := range x.Paths() {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, goerr.Wrap(err, "failed to stat history file", goerr.V("path", p))
		}
		files = append(files, p)
	}
	return files, nil
}

// Stores bundles the tier stores of one workspace
type Stores struct {
	Layout     Layout
	Timeline   *Timeline
	Decisions  *Decisions
	Transcript *Transcript
}

// Open returns the stores for layout. Nothing is created on disk until the first append.
func Open(layout Layout, opts ...TranscriptOption) *Stores {
	return &Stores{
		Layout:     layout,
		Timeline:   NewTimeline(layout.TimelinePath()),
		Decisions:  NewDecisions(layout.DecisionsPath()),
		Transcript: NewTranscript(layout.SessionsDir, opts...),
	}
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", goerr.Wrap(err, "failed to read history file", goerr.V("path", path))
	}
	return string(data), nil
}

func appendFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return goerr.Wrap(err, "failed to create history directory", goerr.V("path", path))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return goerr.Wrap(err, "failed to open history file", goerr.V("path", path))
	}
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		return goerr.Wrap(err, "failed to append history file", goerr.V("path", path))
	}
	if err := f.Close(); err != nil {
		return goerr.Wrap(err, "failed to close history file", goerr.V("path", path))
	}
	return nil
}

func replaceFile(path, text string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to write temp file", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", tmpName))
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to chmod temp file", goerr.V("path", tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to replace history file", goerr.V("path", path))
	}
	return nil
}
