package router_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/policy"
	"github.com/m-mizutani/strata/pkg/usecase/router"
)

type mockCompleter struct {
	CompleteFn func(ctx context.Context, system, user string, maxTokens int) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return m.CompleteFn(ctx, system, user, maxTokens)
}

func replyWith(text string) *mockCompleter {
	return &mockCompleter{
		CompleteFn: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
			return text, nil
		},
	}
}

type mockPolicy struct {
	EvaluateFn func(ctx context.Context, input policy.Input) (*policy.Output, error)
}

func (m *mockPolicy) Evaluate(ctx context.Context, input policy.Input) (*policy.Output, error) {
	return m.EvaluateFn(ctx, input)
}

var (
	inventoryTools = []string{"read", "exec", "web_search", "web_fetch", "write"}
	inventoryFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "notes.md"}
)

func TestRouteWebScenario(t *testing.T) {
	completer := replyWith(`{"packs":["web"],"files":["SOUL.md"],"needsL1":true,"l1Dates":["2026-02-24"],"needsL2":false}`)
	r := router.New(model.DefaultCatalog(), completer)

	d := r.Route(context.Background(), router.Request{
		Message: "What did we decide about the weather tool on the 24th? search again",
		Tools:   inventoryTools,
		Files:   inventoryFiles,
	})

	gt.V(t, d.Tools).Equal([]string{"read", "exec", "web_search", "web_fetch"})
	gt.V(t, d.Files).Equal([]string{"SOUL.md"})
	gt.True(t, d.NeedsTier1)
	gt.V(t, d.Tier1Dates).Equal([]string{"2026-02-24"})
	gt.False(t, d.NeedsTier2)
	gt.False(t, d.Fallback)
	gt.False(t, d.Skipped)
	gt.V(t, d.PromptLayer).Equal(model.PromptLayerPartial)
	gt.V(t, d.SkillsMode).Equal(model.SkillsModeNames)
	gt.V(t, d.Packs).Equal([]string{"web"})
}

func TestRouteDisabled(t *testing.T) {
	catalog := model.DefaultCatalog()
	catalog.Enabled = false

	called := false
	r := router.New(catalog, &mockCompleter{
		CompleteFn: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
			called = true
			return `{"packs":[]}`, nil
		},
	})

	for _, msg := range []string{"", "hello", "search the web"} {
		d := r.Route(context.Background(), router.Request{Message: msg, Tools: inventoryTools, Files: inventoryFiles})
		gt.V(t, d.Tools).Equal(inventoryTools)
		gt.V(t, d.Files).Equal(inventoryFiles)
		gt.V(t, d.PromptLayer).Equal(model.PromptLayerFull)
		gt.V(t, d.SkillsMode).Equal(model.SkillsModeSummaries)
		gt.True(t, d.Skipped)
	}
	gt.False(t, called)
}

func TestRouteEmptyMessage(t *testing.T) {
	r := router.New(model.DefaultCatalog(), replyWith(`{}`))
	d := r.Route(context.Background(), router.Request{Message: "  \n", Tools: inventoryTools, Files: inventoryFiles})

	gt.V(t, d.Tools).Equal([]string{"read", "exec"})
	gt.A(t, d.Files).Length(0)
	gt.V(t, d.PromptLayer).Equal(model.PromptLayerMinimal)
	gt.V(t, d.SkillsMode).Equal(model.SkillsModeNames)
	gt.False(t, d.Skipped)
}

func TestRouteFallback(t *testing.T) {
	testCases := map[string]*mockCompleter{
		"prose":        replyWith("I think you need the web pack."),
		"empty":        replyWith(""),
		"broken json":  replyWith(`{"packs":["web"],`),
		"wrong types":  replyWith(`{"packs":"web","needsL1":"yes"}`),
		"call failure": {CompleteFn: func(ctx context.Context, system, user string, maxTokens int) (string, error) { return "", errors.New("timeout") }},
	}

	for name, completer := range testCases {
		t.Run(name, func(t *testing.T) {
			r := router.New(model.DefaultCatalog(), completer)
			d := r.Route(context.Background(), router.Request{Message: "hello", Tools: inventoryTools, Files: inventoryFiles})

			gt.V(t, d.Tools).Equal(inventoryTools)
			gt.V(t, d.Files).Equal(inventoryFiles)
			gt.V(t, d.PromptLayer).Equal(model.PromptLayerFull)
			gt.V(t, d.SkillsMode).Equal(model.SkillsModeSummaries)
			gt.False(t, d.NeedsTier1)
			gt.False(t, d.NeedsTier2)
			gt.True(t, d.Fallback)
			gt.False(t, d.Skipped)
		})
	}

	t.Run("nil completer", func(t *testing.T) {
		r := router.New(model.DefaultCatalog(), nil)
		d := r.Route(context.Background(), router.Request{Message: "hello", Tools: inventoryTools, Files: inventoryFiles})
		gt.True(t, d.Fallback)
		gt.V(t, d.Tools).Equal(inventoryTools)
	})
}

func TestRouteReplyWithFencesAndProse(t *testing.T) {
	text := "Sure!\n```json\n{\"packs\":[\"base-ext\",\"unknown\"],\"files\":[\"USER.md\",\"missing.md\"],\"reason\":\"edit {files}\"}\n```"
	r := router.New(model.DefaultCatalog(), replyWith(text))
	d := r.Route(context.Background(), router.Request{Message: "edit notes", Tools: inventoryTools, Files: inventoryFiles})

	gt.False(t, d.Fallback)
	gt.V(t, d.Tools).Equal([]string{"read", "exec", "write"})
	gt.V(t, d.Files).Equal([]string{"USER.md"})
	gt.V(t, d.Packs).Equal([]string{"base-ext"})
	gt.V(t, d.Reason).Equal("edit {files}")
}

func TestRouteLayers(t *testing.T) {
	catalog := model.DefaultCatalog()
	allTools := catalog.AllTools()

	testCases := []struct {
		reply string
		layer model.PromptLayer
	}{
		{reply: `{"packs":[]}`, layer: model.PromptLayerMinimal},
		{reply: `{"packs":["web"]}`, layer: model.PromptLayerPartial},
		{reply: `{"packs":["base-ext","web","browser"]}`, layer: model.PromptLayerPartial},
		{reply: `{"packs":["base-ext","web","browser","message"]}`, layer: model.PromptLayerFull},
	}

	for _, tc := range testCases {
		t.Run(tc.reply, func(t *testing.T) {
			r := router.New(catalog, replyWith(tc.reply))
			d := r.Route(context.Background(), router.Request{Message: "do it", Tools: allTools})
			gt.V(t, d.PromptLayer).Equal(tc.layer)
		})
	}

	t.Run("custom thresholds", func(t *testing.T) {
		r := router.New(catalog, replyWith(`{"packs":["web"]}`), router.WithLayerThresholds(4, 8))
		d := r.Route(context.Background(), router.Request{Message: "search", Tools: allTools})
		gt.V(t, d.PromptLayer).Equal(model.PromptLayerMinimal)
	})
}

func TestRouteInvalidDatesAreDropped(t *testing.T) {
	r := router.New(model.DefaultCatalog(), replyWith(`{"packs":[],"needsL1":true,"l1Dates":["2026-02-24","yesterday","2026-02-30","2026-02-24"],"needsL2":true}`))
	d := r.Route(context.Background(), router.Request{Message: "what did we do", Tools: inventoryTools})

	gt.True(t, d.NeedsTier1)
	gt.True(t, d.NeedsTier2)
	gt.V(t, d.Tier1Dates).Equal([]string{"2026-02-24"})
}

func TestRoutePrompt(t *testing.T) {
	var gotSystem, gotUser string
	var gotMax int
	completer := &mockCompleter{
		CompleteFn: func(ctx context.Context, system, user string, maxTokens int) (string, error) {
			gotSystem, gotUser, gotMax = system, user, maxTokens
			return `{"packs":[]}`, nil
		},
	}

	timeline := history.ParseTimeline("- 202602241600 | configured weather tool\n")
	r := router.New(model.DefaultCatalog(), completer, router.WithMaxTokens(150))
	r.Route(context.Background(), router.Request{
		Message:  "what about last time?",
		Tools:    inventoryTools,
		Files:    []string{"SOUL.md", "notes.md"},
		Skills:   []model.Skill{{Name: "weather", Description: "get forecasts"}, {Name: "bare"}},
		Timeline: timeline,
	})

	gt.S(t, gotSystem).Contains("Reply with ONLY a JSON object")
	gt.V(t, gotMax).Equal(150)
	gt.S(t, gotUser).Contains(`User message: "what about last time?"`)
	gt.S(t, gotUser).Contains("Always loaded: read + exec")
	gt.S(t, gotUser).Contains("  - web: search the internet and fetch web pages")
	gt.S(t, gotUser).Contains("  - weather: get forecasts")
	gt.S(t, gotUser).Contains("  - bare\n")
	gt.S(t, gotUser).Contains("  - SOUL.md: Agent personality")
	gt.S(t, gotUser).Contains("  - notes.md: workspace file")
	gt.S(t, gotUser).Contains("- 202602241600 | configured weather tool")
	gt.S(t, gotUser).Contains(`"needsL1"`)

	t.Run("no skills and no timeline", func(t *testing.T) {
		r.Route(context.Background(), router.Request{Message: "hi", Tools: inventoryTools})
		gt.S(t, gotUser).Contains("(none)")
		gt.S(t, gotUser).NotContains("Conversation Timeline")
	})
}

func TestRoutePolicy(t *testing.T) {
	var gotInput policy.Input
	p := &mockPolicy{
		EvaluateFn: func(ctx context.Context, input policy.Input) (*policy.Output, error) {
			gotInput = input
			return &policy.Output{DenyTools: []string{"exec"}, AddFiles: []string{"AGENTS.md", "unknown.md"}}, nil
		},
	}

	r := router.New(model.DefaultCatalog(), replyWith(`{"packs":["web"],"files":["SOUL.md"]}`), router.WithPolicy(p))
	d := r.Route(context.Background(), router.Request{Message: "search", Tools: inventoryTools, Files: inventoryFiles})

	gt.V(t, gotInput.Tools).Equal([]string{"read", "exec", "web_search", "web_fetch"})
	gt.V(t, gotInput.Packs).Equal([]string{"web"})
	gt.V(t, gotInput.Files).Equal([]string{"SOUL.md"})
	gt.V(t, d.Tools).Equal([]string{"read", "web_search", "web_fetch"})
	gt.V(t, d.Files).Equal([]string{"AGENTS.md", "SOUL.md"})

	t.Run("policy failure keeps the classifier decision", func(t *testing.T) {
		failing := &mockPolicy{
			EvaluateFn: func(ctx context.Context, input policy.Input) (*policy.Output, error) {
				return nil, errors.New("boom")
			},
		}
		r := router.New(model.DefaultCatalog(), replyWith(`{"packs":["web"]}`), router.WithPolicy(failing))
		d := r.Route(context.Background(), router.Request{Message: "search", Tools: inventoryTools})
		gt.V(t, d.Tools).Equal([]string{"read", "exec", "web_search", "web_fetch"})
	})
}

func TestRouteNilCatalog(t *testing.T) {
	r := router.New(nil, replyWith(`{"packs":["web"]}`))
	d := r.Route(context.Background(), router.Request{Message: "search the news", Tools: inventoryTools})
	gt.False(t, d.Skipped)
	gt.False(t, d.Fallback)
	gt.V(t, d.Tools).Equal([]string{"read", "exec", "web_search", "web_fetch"})
}

func TestSkillsPrompt(t *testing.T) {
	gt.V(t, router.SkillsPrompt(nil)).Equal("")

	text := router.SkillsPrompt([]model.Skill{{Name: "weather", Description: "forecasts"}, {Name: "notes"}})
	gt.True(t, strings.HasPrefix(text, "## Skills\n- weather: forecasts\n- notes\n"))
	gt.S(t, text).Contains("SKILL.md")
}
