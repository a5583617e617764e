// Package policy evaluates Rego admission policies for new memories.
//
// Policies are written in package "mnemo.admission" and may define two rules:
//
//	package mnemo.admission
//
//	deny contains msg if {
//		contains(input.content, "password")
//		msg := "content looks like a credential"
//	}
//
//	tags contains "work" if input.collection == "projects"
//
// Any deny message rejects the memory. Tags are added to the memory.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the Rego query evaluated for each new memory
const Query = "data.mnemo.admission"

// printHook forwards Rego print() output to the logger
type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(ctx print.Context, message string) error {
	h.logger.Debug("rego print", "message", message)
	return nil
}

// Admission is an interfaces.Admission backed by a prepared Rego query
type Admission struct {
	query rego.PreparedEvalQuery
}

// Load reads every .rego file of policyDir
func Load(ctx context.Context, policyDir string) (*Admission, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("dir", policyDir), goerr.T(model.ErrTagInvalidInput))
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New prepares the admission query from Rego modules keyed by file name
func New(ctx context.Context, modules map[string]string) (*Admission, error) {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(Query))
	for _, name := range names {
		options = append(options, rego.Module(name, modules[name]))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission policy", goerr.V("query", Query), goerr.T(model.ErrTagInvalidInput))
	}

	return &Admission{query: prepared}, nil
}

var _ interfaces.Admission = (*Admission)(nil)

// Evaluate runs the policy against input. An undefined result admits the memory.
func (x *Admission) Evaluate(ctx context.Context, input *interfaces.AdmissionInput) (*interfaces.AdmissionResult, error) {
	doc := map[string]any{
		"content":    input.Content,
		"collection": input.Collection,
		"tags":       input.Tags,
		"user_id":    input.UserID,
		"metadata":   input.Metadata,
	}
	if doc["tags"] == nil {
		doc["tags"] = []string{}
	}

	rs, err := x.query.Eval(ctx,
		rego.EvalInput(doc),
		rego.EvalPrintHook(&printHook{logger: logging.From(ctx)}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate admission policy")
	}

	result := &interfaces.AdmissionResult{}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return result, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid admission result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	if result.Deny, err = stringSet(data, "deny"); err != nil {
		return nil, err
	}
	if result.Tags, err = stringSet(data, "tags"); err != nil {
		return nil, err
	}
	return result, nil
}

// stringSet reads a Rego set (or array) rule as a sorted list of strings
func stringSet(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, goerr.New("admission rule must be a set", goerr.V("rule", key), goerr.V("value", raw))
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	sort.Strings(out)
	return out, nil
}
