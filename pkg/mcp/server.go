package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/expressions"
	"github.com/rendis/dsmacro/internal/library"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/validation"
)

// MacroServerDeps holds the dependencies for creating a MacroServer.
// Store and Validator are optional; the tools that need them report an
// error when they are missing.
type MacroServerDeps struct {
	Controller *engine.Controller
	Catalogue  *library.Catalogue
	Store      store.Store
	Validator  validation.Validator
	Logger     *slog.Logger
}

// MacroServer wraps an MCP server with the routine control tools.
type MacroServer struct {
	ctl       *engine.Controller
	catalogue *library.Catalogue
	runner    *library.Runner
	store     store.Store
	validator validation.Validator
	jq        *expressions.GoJQEngine
	sessions  *callerSessions
	notifier  CallerNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewMacroServer creates a new MacroServer with all tools registered.
func NewMacroServer(deps MacroServerDeps) *MacroServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cat := deps.Catalogue
	if cat == nil {
		cat = library.Builtin()
	}

	s := &MacroServer{
		ctl:       deps.Controller,
		catalogue: cat,
		store:     deps.Store,
		validator: deps.Validator,
		jq:        expressions.NewGoJQEngine(),
		sessions:  newCallerSessions(),
		logger:    logger,
	}
	var records library.RecordSource
	if deps.Store != nil {
		records = deps.Store
	}
	s.runner = library.NewRunner(cat, deps.Controller, records)

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.forget(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"dsmacro",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithHooks(hooks),
		server.WithRecovery(),
		server.WithInstructions("dsmacro drives keyboard and mouse routines. Use macro.run to start a catalogue routine or stored record, macro.cancel to stop routines by id, name, category or expression, macro.emergency_stop to cancel everything and release all held input, macro.status to inspect live state, macro.records to list or save stored records, and macro.history to read past runs and their events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = &sessionNotifier{srv: mcpSrv, sessions: s.sessions}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MacroServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MacroServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MacroServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: emergencyStopTool(), Handler: s.handleEmergencyStop},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: recordsTool(), Handler: s.handleRecords},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("macro.run",
		mcp.WithDescription("Run a catalogue routine or stored record by name"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Catalogue key or stored record name")),
		mcp.WithArray("categories", mcp.WithStringItems(), mcp.Description("Extra categories for the run")),
		mcp.WithBoolean("background", mcp.Description("Return immediately and notify the caller when the run ends")),
		mcp.WithString("caller", mcp.Description("Caller ID that receives the completion notification of a background run")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("macro.cancel",
		mcp.WithDescription("Cancel registered routines"),
		mcp.WithNumber("id", mcp.Description("Routine ID")),
		mcp.WithString("name", mcp.Description("Routine name")),
		mcp.WithString("category", mcp.Description("Cancel every routine in this category")),
		mcp.WithArray("except", mcp.WithStringItems(), mcp.Description("Cancel every routine except those in these categories")),
		mcp.WithString("expression", mcp.Description("Selector over routine.id, routine.name, routine.categories, routine.status")),
		mcp.WithString("engine", mcp.Enum("cel", "expr"), mcp.Description("Selector language (default: cel)")),
	)
}

func emergencyStopTool() mcp.Tool {
	return mcp.NewTool("macro.emergency_stop",
		mcp.WithDescription("Cancel all routines and release every held key and button"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("macro.status",
		mcp.WithDescription("Inspect live routines, held input and the pointer"),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the snapshot")),
	)
}

func recordsTool() mcp.Tool {
	return mcp.NewTool("macro.records",
		mcp.WithDescription("List catalogue routines and stored records, or save a record"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "get", "save", "delete"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("name", mcp.Description("Record name (get, delete)")),
		mcp.WithObject("record", mcp.Description("Routine record {name, description, actions} (save)")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("macro.history",
		mcp.WithDescription("Query past runs or the events of one run"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events", "replay"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (routine_name, outcome, since, limit, run_id, event_type)")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the result")),
	)
}
