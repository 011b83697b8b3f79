// Package router decides, before each turn, which tools, workspace files and
// history tiers the reply generator should receive.
package router

import (
	"bytes"
	"context"
	_ "embed"
	"slices"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/policy"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

//go:embed prompt/route_system.md
var systemPrompt string

//go:embed prompt/route_user.md
var userPromptRaw string

var userPromptTmpl = template.Must(template.New("route_user").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(userPromptRaw))

const (
	defaultMaxTokens       = 300
	defaultMinimalMaxTools = 2
	defaultPartialMaxTools = 12
	defaultFileDescription = "workspace file"
)

// Policy adjusts a classifier decision
type Policy interface {
	Evaluate(ctx context.Context, input policy.Input) (*policy.Output, error)
}

// Request is the input of one routing call. Tools, Files and Skills are the
// inventories available to the agent for this turn.
type Request struct {
	Message  string
	Tools    []string
	Files    []string
	Skills   []model.Skill
	Timeline *history.TimelineSnapshot
}

type Router struct {
	catalog   *model.Catalog
	completer adapter.Completer
	policy    Policy
	maxTokens int

	minimalMaxTools int
	partialMaxTools int
}

type Option func(*Router)

func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

func WithMaxTokens(n int) Option {
	return func(r *Router) { r.maxTokens = n }
}

// WithLayerThresholds sets the tool counts up to which the minimal and partial
// prompt layers are chosen.
func WithLayerThresholds(minimal, partial int) Option {
	return func(r *Router) {
		r.minimalMaxTools = minimal
		r.partialMaxTools = partial
	}
}

// New returns a Router. A nil catalog selects model.DefaultCatalog(). A nil
// completer makes every routed turn fall back to the full set.
func New(catalog *model.Catalog, completer adapter.Completer, opts ...Option) *Router {
	if catalog == nil {
		catalog = model.DefaultCatalog()
	}
	r := &Router{
		catalog:         catalog,
		completer:       completer,
		maxTokens:       defaultMaxTokens,
		minimalMaxTools: defaultMinimalMaxTools,
		partialMaxTools: defaultPartialMaxTools,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the decision for req. It does not fail: every problem with the
// classifier degrades to the full resource set.
func (r *Router) Route(ctx context.Context, req Request) *model.RouteDecision {
	logger := logging.From(ctx)

	if !r.catalog.Enabled {
		return r.full(req, true)
	}

	if strings.TrimSpace(req.Message) == "" {
		return &model.RouteDecision{
			Tools:       intersect(req.Tools, r.catalog.CoreTools),
			Files:       []string{},
			PromptLayer: model.PromptLayerMinimal,
			SkillsMode:  model.SkillsModeNames,
		}
	}

	if r.completer == nil {
		logger.Info("no completer configured, routing to full set")
		return r.fallback(req)
	}

	user, err := r.buildPrompt(req)
	if err != nil {
		logger.Warn("failed to build routing prompt", "error", err)
		return r.fallback(req)
	}

	text, err := r.completer.Complete(ctx, systemPrompt, user, r.maxTokens)
	if err != nil {
		logger.Warn("routing call failed, routing to full set", "error", err)
		return r.fallback(req)
	}
	logger.Debug("routing response", "text", text)

	rep, err := parseReply(text)
	if err != nil {
		logger.Info("routing response is not a JSON object, routing to full set", "error", err)
		return r.fallback(req)
	}

	decision := r.decide(ctx, req, rep)
	logger.Info("routed",
		"packs", rep.Packs,
		"tools", decision.Tools,
		"files", decision.Files,
		"layer", decision.PromptLayer,
		"needs_tier1", decision.NeedsTier1,
		"tier1_dates", decision.Tier1Dates,
		"needs_tier2", decision.NeedsTier2,
	)
	return decision
}

func (r *Router) decide(ctx context.Context, req Request, rep *reply) *model.RouteDecision {
	logger := logging.From(ctx)

	wanted := slices.Clone(r.catalog.CoreTools)
	var packs []string
	for _, name := range rep.Packs {
		pack, ok := r.catalog.Pack(name)
		if !ok {
			logger.Info("unknown pack, ignored", "pack", name)
			continue
		}
		packs = append(packs, name)
		wanted = append(wanted, pack.Tools...)
	}

	tools := intersect(req.Tools, wanted)
	files := intersect(req.Files, rep.Files)

	if r.policy != nil {
		out, err := r.policy.Evaluate(ctx, policy.Input{
			Message: req.Message,
			Packs:   packs,
			Tools:   slices.Clone(tools),
			Files:   slices.Clone(files),
		})
		if err != nil {
			logger.Warn("failed to evaluate route policy, ignored", "error", err)
		} else {
			tools = slices.DeleteFunc(tools, func(t string) bool { return slices.Contains(out.DenyTools, t) })
			files = intersect(req.Files, append(files, out.AddFiles...))
		}
	}

	var dates []string
	for _, d := range rep.L1Dates {
		if !model.IsDate(d) {
			logger.Debug("invalid tier-1 date, ignored", "date", d)
			continue
		}
		if !slices.Contains(dates, d) {
			dates = append(dates, d)
		}
	}

	return &model.RouteDecision{
		Tools:       tools,
		Files:       files,
		PromptLayer: r.layer(len(tools)),
		SkillsMode:  model.SkillsModeNames,
		NeedsTier1:  rep.NeedsL1,
		Tier1Dates:  dates,
		NeedsTier2:  rep.NeedsL2,
		Packs:       packs,
		Reason:      rep.Reason,
	}
}

func (r *Router) layer(n int) model.PromptLayer {
	switch {
	case n <= r.minimalMaxTools:
		return model.PromptLayerMinimal
	case n <= r.partialMaxTools:
		return model.PromptLayerPartial
	default:
		return model.PromptLayerFull
	}
}

func (r *Router) full(req Request, skipped bool) *model.RouteDecision {
	return &model.RouteDecision{
		Tools:       nonNil(slices.Clone(req.Tools)),
		Files:       nonNil(slices.Clone(req.Files)),
		PromptLayer: model.PromptLayerFull,
		SkillsMode:  model.SkillsModeSummaries,
		Skipped:     skipped,
	}
}

func (r *Router) fallback(req Request) *model.RouteDecision {
	d := r.full(req, false)
	d.Fallback = true
	return d
}

type fileEntry struct {
	Name        string
	Description string
}

func (r *Router) buildPrompt(req Request) (string, error) {
	files := make([]fileEntry, 0, len(req.Files))
	for _, name := range req.Files {
		desc, ok := r.catalog.FileDescriptions[name]
		if !ok || desc == "" {
			desc = defaultFileDescription
		}
		files = append(files, fileEntry{Name: name, Description: desc})
	}

	var timeline string
	if req.Timeline != nil && req.Timeline.Available {
		timeline = req.Timeline.Raw
	}

	var buf bytes.Buffer
	if err := userPromptTmpl.Execute(&buf, map[string]any{
		"Message":   req.Message,
		"CoreTools": r.catalog.CoreTools,
		"Packs":     r.catalog.Packs,
		"Skills":    req.Skills,
		"Files":     files,
		"Timeline":  timeline,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute routing prompt template")
	}
	return buf.String(), nil
}

// intersect returns the items of inventory that are in selected, in inventory order
func intersect(inventory, selected []string) []string {
	result := []string{}
	for _, item := range inventory {
		if slices.Contains(selected, item) && !slices.Contains(result, item) {
			result = append(result, item)
		}
	}
	return result
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// SkillsPrompt renders the name-only skill list used with SkillsModeNames
func SkillsPrompt(skills []model.Skill) string {
	if len(skills) == 0 {
		return ""
	}

	lines := []string{"## Skills"}
	for _, s := range skills {
		if s.Description != "" {
			lines = append(lines, "- "+s.Name+": "+s.Description)
		} else {
			lines = append(lines, "- "+s.Name)
		}
	}
	lines = append(lines, "Use `read` on the skill's SKILL.md when needed.")
	return strings.Join(lines, "\n")
}
