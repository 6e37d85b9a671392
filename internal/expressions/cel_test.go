package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/dsmacro/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routineData(id int64, name string, categories ...string) map[string]any {
	if categories == nil {
		categories = []string{}
	}
	return map[string]any{
		"routine": map[string]any{
			"id":         id,
			"name":       name,
			"categories": categories,
			"status":     "running",
		},
	}
}

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Literal(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_CategorySelector(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()
	expr := `"scanning" in routine.categories && routine.name != "background_scan"`

	ok, err := Match(ctx, e, expr, routineData(1, "360_degree_scan", "scanning"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(ctx, e, expr, routineData(2, "background_scan", "scanning"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(ctx, e, expr, routineData(3, "patrol_square", "movement", "patrol"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_IDSelector(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := Match(context.Background(), e, `routine.id >= 5`, routineData(7, "x"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile(`routine.name ==`)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = e.Compile("")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_UnknownVariable(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `steps.a`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCEL_MissingKeyIsEvalError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `routine.nothing == 1`, routineData(1, "x"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

func TestMatch_NonBool(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = Match(context.Background(), e, `routine.name`, routineData(1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must yield a bool")
}

func TestCEL_ProgramCache(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), `routine.id == 1`, routineData(1, "x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.progs.len())

	_, err = e.Evaluate(context.Background(), `routine.id ==`, routineData(1, "x"))
	require.Error(t, err)
	assert.Equal(t, 1, e.progs.len())
}

func TestCEL_ConcurrentEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := Match(context.Background(), e, `routine.id % 2 == 0`, routineData(int64(i), "x"))
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 0, ok)
		}(i)
	}
	wg.Wait()
}
