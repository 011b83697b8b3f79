package model

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Pack is a named bundle of tools offered to the router as one selectable unit
type Pack struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
}

// Skill is an entry of the skill index shown to the classifier
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog is the router configuration. It is injected into the router so that
// several agents (or tests) can run with different catalogs.
type Catalog struct {
	// Enabled is the global routing switch. When false every turn gets the full resource set.
	Enabled bool `yaml:"enabled"`
	// CoreTools are always loaded and never offered for selection
	CoreTools []string `yaml:"core_tools"`
	Packs     []Pack   `yaml:"packs"`
	// FileDescriptions describes well-known workspace files for the classifier
	FileDescriptions map[string]string `yaml:"file_descriptions"`
}

// Pack returns the pack named name
func (x *Catalog) Pack(name string) (*Pack, bool) {
	for i := range x.Packs {
		if x.Packs[i].Name == name {
			return &x.Packs[i], true
		}
	}
	return nil, false
}

// Validate checks the catalog for duplicated or empty pack names
func (x *Catalog) Validate() error {
	seen := make(map[string]bool, len(x.Packs))
	for _, p := range x.Packs {
		if p.Name == "" {
			return goerr.New("pack name is empty")
		}
		if seen[p.Name] {
			return goerr.New("duplicated pack name", goerr.V("name", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	return &Catalog{
		Enabled:   true,
		CoreTools: []string{"read", "exec"},
		Packs: []Pack{
			{Name: "base-ext", Tools: []string{"write", "edit", "apply_patch", "grep", "find", "ls", "process"}, Description: "file editing, search, directory operations, background processes"},
			{Name: "web", Tools: []string{"web_search", "web_fetch"}, Description: "search the internet and fetch web pages"},
			{Name: "browser", Tools: []string{"browser"}, Description: "drive a browser to open and operate web pages"},
			{Name: "message", Tools: []string{"message"}, Description: "send messages to chat channels (DingTalk, Telegram, Discord, ...)"},
			{Name: "media", Tools: []string{"canvas", "image"}, Description: "image generation, canvas display and screenshots"},
			{Name: "infra", Tools: []string{"cron", "gateway", "session_status"}, Description: "scheduled tasks, system management, status queries, reminders"},
			{Name: "agents", Tools: []string{"agents_list", "sessions_list", "sessions_history", "sessions_send", "sessions_spawn", "subagents"}, Description: "multi-agent collaboration, sub-task dispatch, session management"},
			{Name: "nodes", Tools: []string{"nodes"}, Description: "device control, cameras, screen operations"},
		},
		FileDescriptions: map[string]string{
			"AGENTS.md":    "Agent core rules: session flow, safety, module index",
			"SOUL.md":      "Agent personality, tone, character (needed for any conversation)",
			"TOOLS.md":     "Local environment notes (SSH, cameras, TTS voices)",
			"IDENTITY.md":  "Agent identity: name, emoji, avatar (needed for any conversation)",
			"USER.md":      "User information and preferences (needed for personalized responses)",
			"HEARTBEAT.md": "Heartbeat task checklist for periodic checks",
			"BOOTSTRAP.md": "First-run setup guide (only needed on first run)",
		},
	}
}

// AllTools returns core tools followed by every pack tool, without duplicates
func (x *Catalog) AllTools() []string {
	seen := make(map[string]bool)
	var tools []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			tools = append(tools, name)
		}
	}
	for _, t := range x.CoreTools {
		add(t)
	}
	for _, p := range x.Packs {
		for _, t := range p.Tools {
			add(t)
		}
	}
	return tools
}

// LoadCatalog reads a YAML catalog file. Omitted sections fall back to the
// built-in catalog; `enabled` defaults to true.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read catalog file", goerr.V("path", path))
	}

	var raw struct {
		Enabled          *bool             `yaml:"enabled"`
		CoreTools        []string          `yaml:"core_tools"`
		Packs            []Pack            `yaml:"packs"`
		FileDescriptions map[string]string `yaml:"file_descriptions"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(err, "failed to parse catalog file", goerr.V("path", path))
	}

	catalog := DefaultCatalog()
	if raw.Enabled != nil {
		catalog.Enabled = *raw.Enabled
	}
	if raw.CoreTools != nil {
		catalog.CoreTools = raw.CoreTools
	}
	if raw.Packs != nil {
		catalog.Packs = raw.Packs
	}
	if raw.FileDescriptions != nil {
		catalog.FileDescriptions = raw.FileDescriptions
	}

	if err := catalog.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid catalog", goerr.V("path", path))
	}
	return catalog, nil
}
