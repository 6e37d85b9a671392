package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/dsmacro/pkg/schema"
)

// Engine evaluates expressions over routine and inspection data.
// CEL and Expr select routines; GoJQ projects snapshots and run history.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is an Engine that can reject a bad expression before it is
// evaluated against any data.
type Compiler interface {
	Engine
	Compile(expression string) error
}

// Match evaluates a selector expression and requires a boolean result.
func Match(ctx context.Context, eng Engine, expression string, data map[string]any) (bool, error) {
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s selector %q must yield a bool, got %s", eng.Name(), expression, fmt.Sprintf("%T", out))
	}
	return b, nil
}

// ByName returns the selector engine registered under name. An empty name
// selects CEL.
func ByName(name string, cel *CELEngine, expr *ExprEngine) (Compiler, error) {
	switch name {
	case "", "cel":
		return cel, nil
	case "expr":
		return expr, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown selector engine %q", name)
}
