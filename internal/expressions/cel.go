package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates routine selectors written in CEL, e.g.
// `"scanning" in routine.categories && routine.name != "background_scan"`.
// The environment declares a single variable, routine, as map(string, dyn).
type CELEngine struct {
	env   *cel.Env
	progs *programs[cel.Program]
}

// NewCELEngine builds the selector environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(cel.Variable("routine", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, progs: newPrograms[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Compile type-checks expression and caches the program.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against data["routine"]; a missing routine is
// treated as an empty map.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	routine := data["routine"]
	if routine == nil {
		routine = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{"routine": routine})
	if err != nil {
		return nil, evalFailed(e.Name(), expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.progs.get(expression, func(src string) (cel.Program, error) {
		ast, issues := e.env.Compile(src)
		if err := issues.Err(); err != nil {
			return nil, badExpression(e.Name(), "compile", src, err)
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, badExpression(e.Name(), "program", src, err)
		}
		return prg, nil
	})
}

var _ Compiler = (*CELEngine)(nil)
