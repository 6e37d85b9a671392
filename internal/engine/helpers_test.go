package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/internal/store"
)

// call is one recorded driver invocation.
type call struct {
	Op  string
	Arg string
	At  time.Time
}

// recordingDriver logs every call and fails the ones listed in fail,
// keyed by "op arg" (e.g. "key_up w").
type recordingDriver struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	x, y  int
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{fail: make(map[string]error)}
}

func (d *recordingDriver) record(op, arg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{Op: op, Arg: arg, At: time.Now()})
	if err, ok := d.fail[op+" "+arg]; ok {
		return err
	}
	return d.fail[op]
}

func (d *recordingDriver) failOn(key string, err error) {
	d.mu.Lock()
	d.fail[key] = err
	d.mu.Unlock()
}

func (d *recordingDriver) KeyDown(_ context.Context, key string) error {
	return d.record("key_down", key)
}

func (d *recordingDriver) KeyUp(_ context.Context, key string) error {
	return d.record("key_up", key)
}

func (d *recordingDriver) MouseMoveRelative(_ context.Context, dx, dy int) error {
	return d.record("mouse_move", fmt.Sprintf("%d,%d", dx, dy))
}

func (d *recordingDriver) MouseButtonDown(_ context.Context, button int) error {
	return d.record("mouse_down", fmt.Sprint(button))
}

func (d *recordingDriver) MouseButtonUp(_ context.Context, button int) error {
	return d.record("mouse_up", fmt.Sprint(button))
}

func (d *recordingDriver) PointerPosition(_ context.Context) (int, int, error) {
	if err := d.record("pointer", ""); err != nil {
		return 0, 0, err
	}
	return d.x, d.y, nil
}

func (d *recordingDriver) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

// Ops returns "op arg" strings, skipping pointer reads and mouse moves.
func (d *recordingDriver) Ops() []string {
	var out []string
	for _, c := range d.Calls() {
		if c.Op == "pointer" || c.Op == "mouse_move" {
			continue
		}
		out = append(out, c.Op+" "+c.Arg)
	}
	return out
}

func (d *recordingDriver) first(op, arg string) (call, bool) {
	for _, c := range d.Calls() {
		if c.Op == op && c.Arg == arg {
			return c, true
		}
	}
	return call{}, false
}

func rejected(op string) error {
	return &device.RejectedError{Op: op, Stderr: "bad key", Err: fmt.Errorf("exit status 1")}
}

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// mockRuns records run history writes.
type mockRuns struct {
	mu      sync.Mutex
	created []*store.Run
	updates map[string]store.RunUpdate
}

func (m *mockRuns) CreateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, run)
	return nil
}

func (m *mockRuns) UpdateRun(_ context.Context, id string, update store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updates == nil {
		m.updates = make(map[string]store.RunUpdate)
	}
	m.updates[id] = update
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, drv device.Driver, opts ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{Driver: drv, Logger: quietLogger(), Keys: map[string]string{}}
	for _, o := range opts {
		o(&cfg)
	}
	c, err := NewController(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

// waitRegistered polls until the registry holds n routines.
func waitRegistered(t *testing.T, c *Controller, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Registry().Len() == n }, 2*time.Second, time.Millisecond)
}

// gatedDriver blocks KeyDown and MouseButtonDown until the gate opens,
// announcing each blocked call on entered.
type gatedDriver struct {
	*recordingDriver
	entered chan string
	gate    chan struct{}
}

func newGatedDriver() *gatedDriver {
	return &gatedDriver{
		recordingDriver: newRecordingDriver(),
		entered:         make(chan string, 1),
		gate:            make(chan struct{}),
	}
}

func (d *gatedDriver) KeyDown(ctx context.Context, key string) error {
	d.entered <- key
	<-d.gate
	return d.recordingDriver.KeyDown(ctx, key)
}

func (d *gatedDriver) MouseButtonDown(ctx context.Context, button int) error {
	d.entered <- fmt.Sprint(button)
	<-d.gate
	return d.recordingDriver.MouseButtonDown(ctx, button)
}
