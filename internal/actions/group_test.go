package actions

import (
	"testing"
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_FluentOrder(t *testing.T) {
	g := NewGroup().
		Press("forward").
		Wait(2 * time.Second).
		Turn(90, time.Second).
		MouseMove(10, -5, schema.DefaultMoveDuration).
		MouseClick(schema.MouseLeft, schema.DefaultClickDuration).
		Release("forward")

	seq := g.Freeze(false)
	require.Equal(t, 6, seq.Len())
	assert.Equal(t, schema.KeyPress{Key: "forward"}, seq.At(0))
	assert.Equal(t, schema.Wait{Duration: 2 * time.Second}, seq.At(1))
	assert.Equal(t, schema.Turn{Degrees: 90, Duration: time.Second}, seq.At(2))
	assert.Equal(t, schema.KeyRelease{Key: "forward"}, seq.At(5))
	assert.False(t, seq.Parallel())
}

func TestGroup_FreezeIsSnapshot(t *testing.T) {
	g := NewGroup().Press("w")
	seq := g.Freeze(true)
	g.Release("w")

	assert.Equal(t, 1, seq.Len())
	assert.Equal(t, 2, g.Len())
	assert.True(t, seq.Parallel())
}

func TestParallelAndSequential(t *testing.T) {
	par := Parallel(func(g *Group) {
		g.MousePress(schema.MouseLeft).MousePress(schema.MouseRight)
	})
	assert.True(t, par.Parallel())
	assert.Equal(t, 2, par.Len())

	seq := Sequential(func(g *Group) { g.Wait(time.Second) })
	assert.False(t, seq.Parallel())
	assert.Equal(t, 1, seq.Len())
}

func TestGroup_AddPredefined(t *testing.T) {
	seq := NewGroup().Add(ScanEnvironment()...).Add(Jump()...).Freeze(false)
	require.Equal(t, 3, seq.Len())
	assert.Equal(t, schema.KeyTap{Key: KeyJump, Duration: schema.DefaultTapDuration}, seq.At(2))
}
