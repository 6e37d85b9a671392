package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"
	"github.com/rendis/dsmacro/pkg/schema"
)

// GoJQEngine projects controller snapshots, run history and event logs
// with jq filters.
type GoJQEngine struct {
	progs *programs[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{progs: newPrograms[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Compile parses and compiles a filter and caches it.
func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.code(expression)
	return err
}

// Evaluate runs a filter with data as input. A single output is returned
// as is, several are collected into []any and none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.run(ctx, expression, data)
}

// Query runs a filter over any JSON-marshalable value. The value goes
// through encoding/json first so structs and typed slices reach gojq as
// plain JSON values.
func (e *GoJQEngine) Query(ctx context.Context, expression string, v any) (any, error) {
	input, err := plainJSON(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq input is not JSON: %s", err.Error()).WithCause(err)
	}
	return e.run(ctx, expression, input)
}

func plainJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

func (e *GoJQEngine) run(ctx context.Context, expression string, input any) (any, error) {
	code, err := e.code(expression)
	if err != nil {
		return nil, err
	}

	var outs []any
	iter := code.RunWithContext(ctx, input)
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		if err, isErr := v.(error); isErr {
			return nil, evalFailed(e.Name(), expression, err)
		}
		outs = append(outs, v)
	}
	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		return outs[0], nil
	}
	return outs, nil
}

func (e *GoJQEngine) code(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.progs.get(expression, func(src string) (*gojq.Code, error) {
		q, err := gojq.Parse(src)
		if err != nil {
			return nil, badExpression(e.Name(), "parse", src, err)
		}
		// $ENV stays empty.
		code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, badExpression(e.Name(), "compile", src, err)
		}
		return code, nil
	})
}

var _ Compiler = (*GoJQEngine)(nil)
