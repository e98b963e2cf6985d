// Package hub tracks live recognition sessions and fans out frames to all
// of them.
//
// Delivery is best-effort and fire-and-forget: a write failure on one
// session is logged, counted, and removes that session, but never blocks
// delivery to the rest and never surfaces as an error of the broadcast
// itself.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
)

// Session is one live client connection. Send must be safe for concurrent
// use; the hub may write from broadcast paths while the connection's own
// loop replies to frames.
type Session interface {
	// ID is the opaque per-process session handle.
	ID() string

	// Send delivers one frame to the client.
	Send(frame Frame) error

	// Close tears down the underlying transport.
	Close() error
}

// Hub is the connection registry and broadcaster.
type Hub struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]Session
}

// New creates an empty hub.
func New(logger *logging.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		logger:   logger.Named("hub"),
		metrics:  m,
		sessions: make(map[string]Session),
	}
}

// Register adds a session to the registry. Re-registering the same id is a
// no-op replacement.
func (h *Hub) Register(ctx context.Context, s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	count := len(h.sessions)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(count))
	}
	h.logger.Info(ctx, "session connected",
		zap.String("session_id", s.ID()),
		zap.Int("total", count),
	)
}

// Unregister removes a session. No-op when absent.
func (h *Hub) Unregister(ctx context.Context, s Session) {
	h.mu.Lock()
	_, present := h.sessions[s.ID()]
	delete(h.sessions, s.ID())
	count := len(h.sessions)
	h.mu.Unlock()

	if !present {
		return
	}
	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(count))
	}
	h.logger.Info(ctx, "session disconnected",
		zap.String("session_id", s.ID()),
		zap.Int("total", count),
	)
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast delivers frame to every registered session independently.
// Failed sessions are removed; the rest still receive the frame.
func (h *Hub) Broadcast(ctx context.Context, frame Frame) {
	h.mu.Lock()
	snapshot := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		h.deliver(ctx, s, frame)
	}
}

// Unicast delivers frame to a single session with the same failure
// isolation as Broadcast.
func (h *Hub) Unicast(ctx context.Context, s Session, frame Frame) {
	h.deliver(ctx, s, frame)
}

// deliver sends one frame and evicts the session on failure.
func (h *Hub) deliver(ctx context.Context, s Session, frame Frame) {
	if err := s.Send(frame); err != nil {
		if h.metrics != nil {
			h.metrics.BroadcastFailures.Inc()
		}
		h.logger.Warn(ctx, "send failed, dropping session",
			zap.String("session_id", s.ID()),
			zap.String("frame_type", frame.Type),
			zap.Error(err),
		)
		h.Unregister(ctx, s)
		_ = s.Close()
	}
}
