// Package policy evaluates optional Rego rules that adjust a routing decision
// after the classifier has run.
package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const routeQuery = "data.route"

// Input is the document given to the policy as `input`
type Input struct {
	Message string   `json:"message"`
	Packs   []string `json:"packs"`
	Tools   []string `json:"tools"`
	Files   []string `json:"files"`
}

// Output is the result of `data.route`
type Output struct {
	DenyTools []string
	AddFiles  []string
}

// regoPrintHook forwards Rego print() statements to the context logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Engine holds the prepared route query
type Engine struct {
	query *rego.PreparedEvalQuery
}

// Load reads every *.rego file in dir. It returns a nil Engine when the
// directory has no policy files.
func Load(ctx context.Context, dir string) (*Engine, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+2)
	options = append(options, rego.Query(routeQuery), rego.EnablePrintStatements(true))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", routeQuery))
	}

	logging.From(ctx).Debug("route policy loaded", "files", files)
	return &Engine{query: &prepared}, nil
}

// Evaluate runs the route policy. An undefined result yields an empty Output.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Output, error) {
	doc := map[string]any{
		"message": input.Message,
		"packs":   nonNil(input.Packs),
		"tools":   nonNil(input.Tools),
		"files":   nonNil(input.Files),
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(doc), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate route policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Output{}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid route policy result: not an object")
	}

	deny, err := stringList(data, "deny_tools")
	if err != nil {
		return nil, err
	}
	add, err := stringList(data, "add_files")
	if err != nil {
		return nil, err
	}
	return &Output{DenyTools: deny, AddFiles: add}, nil
}

func stringList(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, goerr.New("invalid route policy result: not an array", goerr.V("key", key))
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, goerr.New("invalid route policy result: not a string", goerr.V("key", key), goerr.V("value", item))
		}
		values = append(values, s)
	}
	return values, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
