package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dsmacro/internal/device"
	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/validation"
	"github.com/rendis/dsmacro/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	mu      sync.Mutex
	records map[string]*store.Record
	runs    []*store.Run
	events  []*store.Event
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*store.Record)}
}

func (m *mockStore) SaveRecord(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = "rec-" + rec.Name
	}
	m.records[rec.Name] = rec
	return nil
}

func (m *mockStore) GetRecord(_ context.Context, name string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[name]; ok {
		return rec, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "record not found")
}

func (m *mockStore) ListRecords(_ context.Context) ([]*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStore) DeleteRecord(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return schema.NewError(schema.ErrCodeNotFound, "record not found")
	}
	delete(m.records, name)
	return nil
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*store.Run, error) {
	result := make([]*store.Run, 0)
	for _, r := range m.runs {
		if filter.RoutineName != "" && r.RoutineName != filter.RoutineName {
			continue
		}
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetEvents(_ context.Context, runID string, since int) ([]*store.Event, error) {
	result := make([]*store.Event, 0)
	for _, e := range m.events {
		if e.RunID != runID || e.Sequence <= since {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *mockStore) GetEventsByType(_ context.Context, eventType string, filter store.EventFilter) ([]*store.Event, error) {
	result := make([]*store.Event, 0)
	for _, e := range m.events {
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		if e.Type != eventType {
			continue
		}
		result = append(result, e)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Drivers ---

// rejectingDriver accepts everything except key presses.
type rejectingDriver struct {
	device.Simulated
}

func (rejectingDriver) KeyDown(_ context.Context, key string) error {
	return &device.RejectedError{Op: "keydown", Args: []string{key}, Stderr: "no display"}
}

// --- Helpers ---

func newTestController(t *testing.T, drv device.Driver) *engine.Controller {
	t.Helper()
	ctl, err := engine.NewController(context.Background(), engine.Config{
		Driver: drv,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(ctl.Shutdown)
	return ctl
}

func newTestServer(t *testing.T, ms *mockStore, drv device.Driver) (*MacroServer, *engine.Controller) {
	t.Helper()
	if drv == nil {
		drv = device.NewSimulated()
	}
	ctl := newTestController(t, drv)
	deps := MacroServerDeps{
		Controller: ctl,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if ms != nil {
		deps.Store = ms
	}
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	deps.Validator = v
	return NewMacroServer(deps), ctl
}

func quickRecord(name string) *store.Record {
	return &store.Record{
		Name: name,
		Actions: []schema.RecordAction{
			{Type: "tap", Params: map[string]any{"key": "e"}, Duration: fptr(0.01)},
		},
	}
}

func slowRecord(name string) *store.Record {
	return &store.Record{
		Name:    name,
		Actions: []schema.RecordAction{{Type: "wait", Duration: fptr(10)}},
	}
}

func fptr(f float64) *float64 { return &f }

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func waitForRoutines(t *testing.T, ctl *engine.Controller, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(ctl.Snapshot().Routines) == n
	}, 2*time.Second, 5*time.Millisecond)
}

// --- macro.run ---

func TestRunTool_StoredRecord(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), quickRecord("quick")))
	s, _ := newTestServer(t, ms, nil)

	req := buildRequest("macro.run", map[string]any{"name": "quick", "categories": []any{"test"}})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var res engine.RunResult
	unmarshalResult(t, result, &res)
	assert.Equal(t, "quick", res.Name)
	assert.Equal(t, schema.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.SequencesExecuted)
	assert.Equal(t, []string{"test"}, res.Categories)
}

func TestRunTool_MissingName(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	result, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_UnknownRoutine(t *testing.T) {
	s, _ := newTestServer(t, newMockStore(), nil)
	result, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{"name": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

func TestRunTool_ActionFailureTriggersEmergencyStop(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), quickRecord("quick")))
	s, _ := newTestServer(t, ms, rejectingDriver{})

	result, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{"name": "quick"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var payload map[string]any
	unmarshalResult(t, result, &payload)
	assert.Contains(t, payload, "emergency_stop")
	assert.Equal(t, schema.ErrCodeRoutine, payload["code"])
}

func TestRunTool_Background(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), slowRecord("slow")))
	s, ctl := newTestServer(t, ms, nil)

	result, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{
		"name":       "slow",
		"background": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var payload map[string]any
	unmarshalResult(t, result, &payload)
	assert.Equal(t, true, payload["background"])
	assert.Equal(t, "slow", payload["name"])

	waitForRoutines(t, ctl, 1)
	assert.True(t, ctl.CancelByName("slow"))
	waitForRoutines(t, ctl, 0)
}

// --- macro.cancel ---

func TestCancelTool_Selectors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"by name", map[string]any{"name": "slow"}},
		{"by category", map[string]any{"category": "bg"}},
		{"all except", map[string]any{"except": []any{"other"}}},
		{"by expression", map[string]any{"expression": `routine.name == "slow"`}},
		{"by expr engine", map[string]any{"expression": `routine.name == "slow"`, "engine": "expr"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ms := newMockStore()
			require.NoError(t, ms.SaveRecord(context.Background(), slowRecord("slow")))
			s, ctl := newTestServer(t, ms, nil)

			_, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{
				"name": "slow", "categories": []any{"bg"}, "background": true,
			}))
			require.NoError(t, err)
			waitForRoutines(t, ctl, 1)

			result, err := s.handleCancel(context.Background(), buildRequest("macro.cancel", tc.args))
			require.NoError(t, err)
			require.False(t, result.IsError, extractText(t, result))

			var payload map[string]int
			unmarshalResult(t, result, &payload)
			assert.Equal(t, 1, payload["cancelled"])
			waitForRoutines(t, ctl, 0)
		})
	}
}

func TestCancelTool_ByID(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), slowRecord("slow")))
	s, ctl := newTestServer(t, ms, nil)

	result, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{"name": "slow", "background": true}))
	require.NoError(t, err)
	var started map[string]any
	unmarshalResult(t, result, &started)
	waitForRoutines(t, ctl, 1)

	result, err = s.handleCancel(context.Background(), buildRequest("macro.cancel", map[string]any{"id": started["routine_id"]}))
	require.NoError(t, err)
	var payload map[string]int
	unmarshalResult(t, result, &payload)
	assert.Equal(t, 1, payload["cancelled"])
}

func TestCancelTool_RequiresExactlyOneSelector(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	result, err := s.handleCancel(context.Background(), buildRequest("macro.cancel", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleCancel(context.Background(), buildRequest("macro.cancel", map[string]any{"name": "a", "category": "b"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool_BadExpression(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	result, err := s.handleCancel(context.Background(), buildRequest("macro.cancel", map[string]any{"expression": "routine.name =="}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- macro.emergency_stop ---

func TestEmergencyStopTool(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), slowRecord("slow")))
	s, ctl := newTestServer(t, ms, nil)

	_, err := s.handleRun(context.Background(), buildRequest("macro.run", map[string]any{"name": "slow", "background": true}))
	require.NoError(t, err)
	waitForRoutines(t, ctl, 1)

	result, err := s.handleEmergencyStop(context.Background(), buildRequest("macro.emergency_stop", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report engine.EmergencyReport
	unmarshalResult(t, result, &report)
	assert.Equal(t, 1, report.Cancelled)
	assert.Empty(t, report.Failures)
}

func TestEmergencyStopTool_NoController(t *testing.T) {
	s := NewMacroServer(MacroServerDeps{})
	result, err := s.handleEmergencyStop(context.Background(), buildRequest("macro.emergency_stop", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- macro.status ---

func TestStatusTool(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	result, err := s.handleStatus(context.Background(), buildRequest("macro.status", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var snap engine.Snapshot
	unmarshalResult(t, result, &snap)
	assert.Empty(t, snap.Routines)
	assert.Empty(t, snap.HeldKeys)
}

func TestStatusTool_Query(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	result, err := s.handleStatus(context.Background(), buildRequest("macro.status", map[string]any{
		"query": ".routines | length",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Equal(t, "0", extractText(t, result))
}

func TestStatusTool_BadQuery(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	result, err := s.handleStatus(context.Background(), buildRequest("macro.status", map[string]any{"query": ".["}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- macro.records ---

func TestRecordsTool_List(t *testing.T) {
	ms := newMockStore()
	require.NoError(t, ms.SaveRecord(context.Background(), quickRecord("quick")))
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{"action": "list"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Catalogue []map[string]any `json:"catalogue"`
		Stored    []string         `json:"stored"`
	}
	unmarshalResult(t, result, &payload)
	assert.NotEmpty(t, payload.Catalogue)
	assert.Equal(t, []string{"quick"}, payload.Stored)
}

func TestRecordsTool_GetFallsBackToCatalogue(t *testing.T) {
	s, _ := newTestServer(t, newMockStore(), nil)

	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "get", "name": "patrol",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var rec schema.RoutineRecord
	unmarshalResult(t, result, &rec)
	assert.Equal(t, "patrol_square", rec.Name)
	assert.Len(t, rec.Actions, 5)
}

func TestRecordsTool_GetMissing(t *testing.T) {
	s, _ := newTestServer(t, newMockStore(), nil)
	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "get", "name": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRecordsTool_SaveAndDelete(t *testing.T) {
	ms := newMockStore()
	s, _ := newTestServer(t, ms, nil)

	record := map[string]any{
		"name":        "greet",
		"description": "tap e",
		"actions": []any{
			map[string]any{"type": "tap", "params": map[string]any{"key": "e"}, "duration": 0.05},
		},
	}
	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "save", "record": record,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	require.Contains(t, ms.records, "greet")
	assert.Len(t, ms.records["greet"].Actions, 1)

	result, err = s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "delete", "name": "greet",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.NotContains(t, ms.records, "greet")
}

func TestRecordsTool_SaveRejectsInvalid(t *testing.T) {
	ms := newMockStore()
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "save",
		"record": map[string]any{
			"name":    "bad",
			"actions": []any{map[string]any{"type": "press"}},
		},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, ms.records)
}

func TestRecordsTool_SaveReturnsWarnings(t *testing.T) {
	ms := newMockStore()
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{
		"action": "save",
		"record": map[string]any{
			"name":    "drift",
			"actions": []any{map[string]any{"type": "move", "duration": 0.1, "params": map[string]any{"direction": "sideways"}}},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	warnings, ok := out["warnings"].([]any)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Equal(t, "actions[0].params.direction", warnings[0].(map[string]any)["path"])
}

func TestRecordsTool_UnknownAction(t *testing.T) {
	s, _ := newTestServer(t, newMockStore(), nil)
	result, err := s.handleRecords(context.Background(), buildRequest("macro.records", map[string]any{"action": "rename"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- macro.history ---

func seedHistory(ms *mockStore) {
	now := time.Now().UTC()
	ms.runs = []*store.Run{
		{ID: "run-1", RoutineID: 1, RoutineName: "quick", Status: "done", Outcome: schema.OutcomeCompleted, StartedAt: now},
		{ID: "run-2", RoutineID: 2, RoutineName: "slow", Status: "done", Outcome: schema.OutcomeCancelled, StartedAt: now},
	}
	idx := 0
	ms.events = []*store.Event{
		{RunID: "run-1", RoutineID: 1, Type: schema.EventRoutineStarted, Sequence: 1, Timestamp: now},
		{RunID: "run-1", RoutineID: 1, Type: schema.EventSequenceStarted, Sequence: 2, SequenceIndex: &idx, Timestamp: now},
		{RunID: "run-1", RoutineID: 1, Type: schema.EventSequenceCompleted, Sequence: 3, SequenceIndex: &idx, Timestamp: now},
		{RunID: "run-1", RoutineID: 1, Type: schema.EventRoutineCompleted, Sequence: 4, Timestamp: now},
	}
}

func TestHistoryTool_Runs(t *testing.T) {
	ms := newMockStore()
	seedHistory(ms)
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"outcome": "cancelled"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Runs []store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &payload)
	require.Len(t, payload.Runs, 1)
	assert.Equal(t, "run-2", payload.Runs[0].ID)
}

func TestHistoryTool_EventsByRun(t *testing.T) {
	ms := newMockStore()
	seedHistory(ms)
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": "run-1", "after": 2},
		"query":    "[.events[].event_type]",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var types []string
	unmarshalResult(t, result, &types)
	assert.Equal(t, []string{schema.EventSequenceCompleted, schema.EventRoutineCompleted}, types)
}

func TestHistoryTool_EventsByType(t *testing.T) {
	ms := newMockStore()
	seedHistory(ms)
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"event_type": schema.EventRoutineStarted},
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "run-1")
}

func TestHistoryTool_EventsNeedsFilter(t *testing.T) {
	s, _ := newTestServer(t, newMockStore(), nil)
	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{"resource": "events"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHistoryTool_Replay(t *testing.T) {
	ms := newMockStore()
	seedHistory(ms)
	s, _ := newTestServer(t, ms, nil)

	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{
		"resource": "replay",
		"filter":   map[string]any{"run_id": "run-1"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var replay store.RunReplay
	unmarshalResult(t, result, &replay)
	assert.Equal(t, schema.RoutineStatusDone, replay.Status)
	assert.Equal(t, schema.OutcomeCompleted, replay.Outcome)
	assert.Equal(t, []int{0}, replay.Completed)
	assert.Equal(t, 4, replay.Events)
}

func TestHistoryTool_NoStore(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	result, err := s.handleHistory(context.Background(), buildRequest("macro.history", map[string]any{"resource": "runs"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- helpers ---

func TestExtractInt(t *testing.T) {
	f := map[string]any{"a": 3.0, "b": 4, "c": "5", "d": "x"}
	assert.Equal(t, 3, extractInt(f, "a", 0))
	assert.Equal(t, 4, extractInt(f, "b", 0))
	assert.Equal(t, 5, extractInt(f, "c", 0))
	assert.Equal(t, 9, extractInt(f, "d", 9))
	assert.Equal(t, 9, extractInt(nil, "a", 9))
}

func TestExtractTime(t *testing.T) {
	ts := extractTime(map[string]any{"since": "2026-01-02T03:04:05Z"}, "since")
	require.NotNil(t, ts)
	assert.Equal(t, 2026, ts.Year())
	assert.Nil(t, extractTime(map[string]any{"since": "yesterday"}, "since"))
	assert.Nil(t, extractTime(nil, "since"))
}
