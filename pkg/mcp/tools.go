package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/pkg/schema"
)

// handleRun runs a routine in the foreground, or on the background pool
// when background is set.
func (s *MacroServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	if s.ctl == nil {
		return mcp.NewToolResultError("controller not configured"), nil
	}
	categories := req.GetStringSlice("categories", nil)

	if req.GetBool("background", false) {
		caller := req.GetString("caller", "")
		if caller != "" {
			s.captureSession(ctx, caller)
		}
		h, startErr := s.runner.Start(ctx, name, categories...)
		if startErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
		}
		go s.awaitBackground(context.WithoutCancel(ctx), h, caller)
		return marshalResult(map[string]any{
			"routine_id": h.Routine().ID(),
			"name":       h.Routine().Name(),
			"background": true,
		})
	}

	result, runErr := s.runner.Run(ctx, name, categories...)
	if runErr != nil {
		payload := map[string]any{"error": runErr.Error(), "code": schema.CodeOf(runErr)}
		if result != nil {
			payload["result"] = result
		}
		// A failed action may leave input held; the server is the
		// orchestrating caller here.
		if schema.IsActionError(runErr) {
			payload["emergency_stop"] = s.ctl.EmergencyStop(ctx)
		}
		return marshalError(payload)
	}
	return marshalResult(result)
}

func (s *MacroServer) awaitBackground(ctx context.Context, h *engine.Handle, caller string) {
	res, err := h.Wait(ctx)
	payload := map[string]any{
		"event":      "routine.finished",
		"routine_id": h.Routine().ID(),
		"name":       h.Routine().Name(),
	}
	if res != nil {
		payload["run_id"] = res.RunID
		payload["outcome"] = res.Outcome
	}
	if err != nil {
		payload["error"] = err.Error()
		if schema.IsActionError(err) {
			payload["emergency_stop"] = s.ctl.EmergencyStop(ctx)
		}
	}
	if caller == "" || s.notifier == nil {
		return
	}
	if nerr := s.notifier.Notify(ctx, caller, payload); nerr != nil {
		s.logger.WarnContext(ctx, "background run notification failed",
			"caller", caller, "error", nerr)
	}
}

// handleCancel cancels by exactly one selector.
func (s *MacroServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctl == nil {
		return mcp.NewToolResultError("controller not configured"), nil
	}
	args := req.GetArguments()
	selectors := 0
	for _, k := range []string{"id", "name", "category", "except", "expression"} {
		if _, ok := args[k]; ok {
			selectors++
		}
	}
	if selectors != 1 {
		return mcp.NewToolResultError("exactly one of id, name, category, except or expression is required"), nil
	}

	var cancelled int
	switch {
	case args["id"] != nil:
		if s.ctl.CancelByID(int64(req.GetInt("id", 0))) {
			cancelled = 1
		}
	case args["name"] != nil:
		if s.ctl.CancelByName(req.GetString("name", "")) {
			cancelled = 1
		}
	case args["category"] != nil:
		if s.ctl.CancelCategory(req.GetString("category", "")) {
			cancelled = 1
		}
	case args["except"] != nil:
		cancelled = s.ctl.CancelAllExcept(req.GetStringSlice("except", nil)...)
	default:
		n, err := s.ctl.CancelMatchingWith(ctx, req.GetString("engine", ""), req.GetString("expression", ""))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		cancelled = n
	}
	return marshalResult(map[string]any{"cancelled": cancelled})
}

// handleEmergencyStop cancels everything and releases all held input.
func (s *MacroServer) handleEmergencyStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctl == nil {
		return mcp.NewToolResultError("controller not configured"), nil
	}
	return marshalResult(s.ctl.EmergencyStop(ctx))
}

// handleStatus returns the controller snapshot, optionally projected with jq.
func (s *MacroServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ctl == nil {
		return mcp.NewToolResultError("controller not configured"), nil
	}
	return s.project(ctx, req.GetString("query", ""), s.ctl.Snapshot())
}

// handleRecords lists, reads, saves or deletes routine records.
func (s *MacroServer) handleRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "list":
		return s.listRecords(ctx)
	case "get":
		return s.getRecord(ctx, req.GetString("name", ""))
	case "save":
		return s.saveRecord(ctx, mcp.ParseStringMap(req, "record", nil))
	case "delete":
		return s.deleteRecord(ctx, req.GetString("name", ""))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown records action: %s", action)), nil
	}
}

// handleHistory queries stored runs, the events of a run, or a replay.
func (s *MacroServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("history requires a store"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)
	query := req.GetString("query", "")

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter, query)
	case "events":
		return s.queryEvents(ctx, filter, query)
	case "replay":
		return s.replayRun(ctx, filter, query)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Record helpers ---

func (s *MacroServer) listRecords(ctx context.Context) (*mcp.CallToolResult, error) {
	out := map[string]any{"catalogue": s.catalogue.List()}
	if s.store != nil {
		recs, err := s.store.ListRecords(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list records failed: %v", err)), nil
		}
		names := make([]string, 0, len(recs))
		for _, r := range recs {
			names = append(names, r.Name)
		}
		out["stored"] = names
	}
	return marshalResult(out)
}

func (s *MacroServer) getRecord(ctx context.Context, name string) (*mcp.CallToolResult, error) {
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if s.store != nil {
		rec, err := s.store.GetRecord(ctx, name)
		if err == nil {
			return marshalResult(rec)
		}
		if !schema.HasCode(err, schema.ErrCodeNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("get record failed: %v", err)), nil
		}
	}
	rec, err := s.catalogue.Record(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record %q not found", name)), nil
	}
	return marshalResult(rec)
}

func (s *MacroServer) saveRecord(ctx context.Context, raw map[string]any) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("saving records requires a store"), nil
	}
	if raw == nil {
		return mcp.NewToolResultError("record is required"), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid record: %v", err)), nil
	}

	var (
		rec    *schema.RoutineRecord
		report = &schema.ValidationResult{}
	)
	if s.validator != nil {
		rec, report, err = s.validator.Check(data)
		if err == nil {
			err = report.ToError()
		}
	} else {
		rec, err = schema.ParseRecord(data)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid record: %v", err)), nil
	}

	stored := &store.Record{Name: rec.Name, Description: rec.Description, Actions: rec.Actions}
	if err := s.store.SaveRecord(ctx, stored); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save record failed: %v", err)), nil
	}
	out := map[string]any{"id": stored.ID, "name": stored.Name, "actions": len(stored.Actions)}
	if w := report.Warnings(); len(w) > 0 {
		out["warnings"] = w
	}
	return marshalResult(out)
}

func (s *MacroServer) deleteRecord(ctx context.Context, name string) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("deleting records requires a store"), nil
	}
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if err := s.store.DeleteRecord(ctx, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete record failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"deleted": name})
}

// --- History helpers ---

func (s *MacroServer) queryRuns(ctx context.Context, filter map[string]any, query string) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["routine_name"].(string); ok {
		rf.RoutineName = name
	}
	if outcome, ok := filter["outcome"].(string); ok {
		rf.Outcome = schema.Outcome(outcome)
	}
	rf.Since = extractTime(filter, "since")

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return s.project(ctx, query, map[string]any{"runs": runs})
}

func (s *MacroServer) queryEvents(ctx context.Context, filter map[string]any, query string) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
		Since: extractTime(filter, "since"),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return s.project(ctx, query, map[string]any{"events": events})
	}

	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, extractInt(filter, "after", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return s.project(ctx, query, map[string]any{"events": events})
}

func (s *MacroServer) replayRun(ctx context.Context, filter map[string]any, query string) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("replay requires 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	replay, err := store.ReplayEvents(runID, events)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", err)), nil
	}
	return s.project(ctx, query, replay)
}

// --- Internal helpers ---

// project applies an optional jq expression to v before returning it.
func (s *MacroServer) project(ctx context.Context, query string, v any) (*mcp.CallToolResult, error) {
	if query == "" {
		return marshalResult(v)
	}
	out, err := s.jq.Query(ctx, query, v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(out)
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime reads an RFC 3339 timestamp from a filter map.
func extractTime(filter map[string]any, key string) *time.Time {
	since, ok := filter[key].(string)
	if !ok || since == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return nil
	}
	return &t
}

// captureSession binds callerID to the session the request came in on.
func (s *MacroServer) captureSession(ctx context.Context, callerID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.bind(callerID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// marshalError is marshalResult with the error flag set.
func marshalError(v any) (*mcp.CallToolResult, error) {
	res, err := marshalResult(v)
	if res != nil {
		res.IsError = true
	}
	return res, err
}
