package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

// conditions compiles and caches CEL programs over a command.
type conditions struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newConditions() (*conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &conditions{env: env, cache: make(map[string]cel.Program)}, nil
}

// compile validates expr and stores its program.
func (c *conditions) compile(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.cache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, t)
	}
	prg, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	c.cache[expr] = prg
	return prg, nil
}

// eval reports whether expr holds for cmd. Evaluation errors, such as a
// missing parameter, count as false.
func (c *conditions) eval(expr string, cmd command.Command) (bool, error) {
	prg, err := c.compile(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(activation(cmd))
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result not bool", expr)
	}
	return val, nil
}

func activation(cmd command.Command) map[string]any {
	return map[string]any{
		"action":   cmd.Action,
		"category": string(cmd.Category),
		"source":   cmd.Source,
		"params":   normalizeParams(cmd.Parameters),
	}
}

// normalizeParams turns every numeric value into float64 so conditions can
// compare against double literals regardless of how the command was decoded.
func normalizeParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string, bool, nil:
		return t
	case map[string]any:
		return normalizeParams(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	}
	if f, ok := command.ToFloat(v); ok {
		return f
	}
	return fmt.Sprint(v)
}
