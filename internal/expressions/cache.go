package expressions

import (
	"sync"

	"github.com/rendis/dsmacro/pkg/schema"
)

// programs memoizes compiled expressions by source text. Compile failures
// are not cached.
type programs[P any] struct {
	mu  sync.RWMutex
	byS map[string]P
}

func newPrograms[P any]() *programs[P] {
	return &programs[P]{byS: make(map[string]P)}
}

func (c *programs[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.byS[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := compile(expression)
	if err != nil {
		return p, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byS[expression]; ok {
		return prev, nil
	}
	c.byS[expression] = p
	return p, nil
}

func (c *programs[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byS)
}

// badExpression reports an expression that cannot be compiled.
func badExpression(engine, stage, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s %s error in %q: %s", engine, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

// evalFailed reports a compiled expression that failed on its input.
func evalFailed(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExpression, "%s evaluation of %q failed: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

func emptyExpression(engine string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", engine)
}
