// Package filter compiles CEL expressions into envelope predicates. An
// expression sees the envelope's identity fields and its parsed payload, so
// deployments can scope a consumer to a slice of the stream without code
// changes.
package filter

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/nmarcet/conveyor/internal/envelope"
)

// Filter wraps a compiled CEL program. The zero expression compiles to a
// disabled filter that matches everything.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// Compile parses, checks, and builds a CEL predicate over envelope fields.
// An empty expression yields a match-all filter.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("source_service", cel.StringType),
		cel.Variable("organization", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		// Parsed payload (map/list/values) for field-level predicates
		cel.Variable("payload", cel.DynType),
		// Current time in ms for windowed filters
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
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the predicate against one envelope. A disabled filter
// matches everything. Evaluation errors reject the envelope so a broken
// expression never silently widens the match set.
func (f *Filter) Match(e envelope.Envelope) (bool, error) {
	if !f.enabled {
		return true, nil
	}
	out, _, err := f.prog.Eval(map[string]any{
		"entity_id":      e.EntityID,
		"source_service": e.SourceService,
		"organization":   e.Organization,
		"domain":         e.Domain,
		"ts_ms":          e.Timestamp.UnixMilli(),
		"payload":        payloadValue(e.Payload),
		"now_ms":         time.Now().UnixMilli(),
	})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func payloadValue(p map[string]interface{}) any {
	if p == nil {
		return map[string]interface{}{}
	}
	return p
}
