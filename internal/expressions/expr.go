package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates routine selectors in expr-lang syntax, e.g.
// `"scanning" in routine.categories and routine.id > 3`.
type ExprEngine struct {
	progs *programs[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{progs: newPrograms[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Compile parses expression and caches the program.
func (e *ExprEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression with data as its environment.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalFailed(e.Name(), expression, err)
	}
	return out, nil
}

// Programs compile against an untyped routine so one program serves
// every routine shape.
func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.progs.get(expression, func(src string) (*vm.Program, error) {
		prg, err := expr.Compile(src,
			expr.Env(map[string]any{"routine": map[string]any{}}),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, badExpression(e.Name(), "compile", src, err)
		}
		return prg, nil
	})
}

var _ Compiler = (*ExprEngine)(nil)
