package mcp

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

// CallerNotifier tells a caller that one of its background runs ended.
type CallerNotifier interface {
	Notify(ctx context.Context, callerID string, payload map[string]any) error
}

// callerSessions remembers the MCP session each caller last started a
// background run from. A caller that reconnects replaces its old session.
type callerSessions struct {
	mu       sync.RWMutex
	byCaller map[string]string
}

func newCallerSessions() *callerSessions {
	return &callerSessions{byCaller: make(map[string]string)}
}

func (c *callerSessions) bind(callerID, sessionID string) {
	c.mu.Lock()
	c.byCaller[callerID] = sessionID
	c.mu.Unlock()
}

func (c *callerSessions) lookup(callerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sid, ok := c.byCaller[callerID]
	return sid, ok
}

// forget drops every caller bound to sessionID.
func (c *callerSessions) forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for caller, sid := range c.byCaller {
		if sid == sessionID {
			delete(c.byCaller, caller)
		}
	}
}

func (c *callerSessions) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byCaller)
}

// sessionNotifier pushes a log-message notification to the caller's
// session. Callers without a live session are skipped silently.
type sessionNotifier struct {
	srv      *server.MCPServer
	sessions *callerSessions
}

func (n *sessionNotifier) Notify(_ context.Context, callerID string, payload map[string]any) error {
	sid, ok := n.sessions.lookup(callerID)
	if !ok {
		return nil
	}
	err := n.srv.SendNotificationToSpecificClient(sid, "notifications/message", map[string]any{
		"level":  "info",
		"logger": "dsmacro",
		"data":   payload,
	})
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.forget(sid)
		return nil
	}
	return err
}
