package device

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	name string
	args []string
}

func recordingRunner(calls *[]recordedCall, out string, err error) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedCall{name: name, args: args})
		return []byte(out), err
	}
}

func TestXdotool_CommandLines(t *testing.T) {
	var calls []recordedCall
	d := NewXdotool(XdotoolConfig{Path: "/usr/bin/xdotool", Runner: recordingRunner(&calls, "", nil)})
	ctx := context.Background()

	require.NoError(t, d.KeyDown(ctx, "w"))
	require.NoError(t, d.KeyUp(ctx, "w"))
	require.NoError(t, d.MouseMoveRelative(ctx, -12, 3))
	require.NoError(t, d.MouseButtonDown(ctx, 1))
	require.NoError(t, d.MouseButtonUp(ctx, 3))

	got := make([]string, 0, len(calls))
	for _, c := range calls {
		assert.Equal(t, "/usr/bin/xdotool", c.name)
		got = append(got, strings.Join(c.args, " "))
	}
	assert.Equal(t, []string{
		"keydown w",
		"keyup w",
		"mousemove_relative -- -12 3",
		"mousedown 1",
		"mouseup 3",
	}, got)
}

func TestXdotool_MissingBinaryIsUnavailable(t *testing.T) {
	var calls []recordedCall
	missing := &exec.Error{Name: "xdotool", Err: exec.ErrNotFound}
	d := NewXdotool(XdotoolConfig{Runner: recordingRunner(&calls, "", missing)})

	err := d.KeyDown(context.Background(), "w")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
}

func TestXdotool_FailureIsRejected(t *testing.T) {
	var calls []recordedCall
	d := NewXdotool(XdotoolConfig{Runner: recordingRunner(&calls, "", errors.New("signal: killed"))})

	err := d.KeyUp(context.Background(), "w")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.False(t, IsUnavailable(err))

	var re *RejectedError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "keyup", re.Op)
	assert.Equal(t, []string{"w"}, re.Args)
}

func TestXdotool_PointerPosition(t *testing.T) {
	var calls []recordedCall
	d := NewXdotool(XdotoolConfig{Runner: recordingRunner(&calls, "x:640 y:360 screen:0 window:12345\n", nil)})

	x, y, err := d.PointerPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, x)
	assert.Equal(t, 360, y)
}

func TestParseMouseLocation_Garbage(t *testing.T) {
	_, _, err := parseMouseLocation("nothing useful")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestSimulated_AlwaysUnavailable(t *testing.T) {
	d := NewSimulated()
	ctx := context.Background()
	assert.True(t, IsUnavailable(d.KeyDown(ctx, "w")))
	assert.True(t, IsUnavailable(d.MouseMoveRelative(ctx, 1, 1)))
	_, _, err := d.PointerPosition(ctx)
	assert.True(t, IsUnavailable(err))
}
