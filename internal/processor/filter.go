package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/google/cel-go/cel"
)

// Filter drops events for which a CEL expression is false.
//
// Variables: type, name, timestamp, url, path, email, user_id, fingerprint,
// stage, status, domain, customer_id, source, properties, traits, metadata,
// now_ms.
type Filter struct {
	expr string
	prog cel.Program
}

// NewFilter compiles cfg.Expression. The expression must produce a bool.
func NewFilter(cfg config.FilterConfig) (*Filter, error) {
	expr := strings.TrimSpace(cfg.Expression)
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("url", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("fingerprint", cel.StringType),
		cel.Variable("stage", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("properties", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("traits", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", out)
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog}, nil
}

// Name returns the processor identifier.
func (f *Filter) Name() string {
	return "filter"
}

// Process returns ErrFiltered when the expression does not hold. Evaluation
// errors drop the event as well.
func (f *Filter) Process(ctx context.Context, env *model.Envelope) error {
	if env.Event == nil {
		return nil
	}
	e := env.Event

	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	traits := e.Traits
	if traits == nil {
		traits = map[string]any{}
	}
	metadata := env.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	out, _, err := f.prog.Eval(map[string]any{
		"type":        string(e.Type),
		"name":        e.EventName,
		"timestamp":   e.Timestamp,
		"url":         e.URL,
		"path":        e.Path,
		"email":       e.Email,
		"user_id":     e.UserID,
		"fingerprint": e.Fingerprint,
		"stage":       string(e.Stage),
		"status":      string(e.Status),
		"domain":      e.Domain,
		"customer_id": e.CustomerID,
		"source":      env.Source,
		"properties":  props,
		"traits":      traits,
		"metadata":    metadata,
		"now_ms":      time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFiltered, f.expr, err)
	}
	if b, ok := out.Value().(bool); ok && b {
		return nil
	}
	return ErrFiltered
}
