// Package bus fans span and trace events out to live WebSocket subscribers.
//
// A session starts unfiltered (it receives every event). Subscribing to a
// trace moves it into that trace's subscriber set; it then sees only events
// for that trace. Delivery is best effort: a session whose socket errors is
// evicted from every registry and never retried.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/beacon/internal/metrics"
	"github.com/haasonsaas/beacon/pkg/models"
)

const (
	writeWait         = 10 * time.Second
	shutdownDrainWait = 5 * time.Second
	maxPayloadBytes   = 1 << 20
)

// conn is the subset of *websocket.Conn the hub needs; tests substitute a
// scripted implementation.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one connected WebSocket client.
type Session struct {
	id   string
	conn conn

	// writeMu serializes writes; gorilla connections allow one concurrent
	// writer.
	writeMu sync.Mutex
}

func (s *Session) send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks live sessions and their per-trace subscriptions.
type Hub struct {
	logger *slog.Logger

	mu         sync.Mutex
	unfiltered map[*Session]struct{}
	byTrace    map[string]map[*Session]struct{}
}

// NewHub creates an empty hub. A nil logger falls back to slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		unfiltered: make(map[*Session]struct{}),
		byTrace:    make(map[string]map[*Session]struct{}),
	}
}

// register adds a new session to the unfiltered set.
func (h *Hub) register(c conn) *Session {
	sess := &Session{id: uuid.NewString(), conn: c}
	h.mu.Lock()
	h.unfiltered[sess] = struct{}{}
	h.mu.Unlock()
	metrics.LiveSessions.Inc()
	h.logger.Debug("session connected", "session_id", sess.id)
	return sess
}

// remove drops the session from every registry and closes its socket.
func (h *Hub) remove(sess *Session) {
	h.mu.Lock()
	_, wasUnfiltered := h.unfiltered[sess]
	delete(h.unfiltered, sess)
	wasSubscribed := false
	for traceID, set := range h.byTrace {
		if _, ok := set[sess]; ok {
			wasSubscribed = true
			delete(set, sess)
			if len(set) == 0 {
				delete(h.byTrace, traceID)
			}
		}
	}
	h.mu.Unlock()

	if wasUnfiltered || wasSubscribed {
		metrics.LiveSessions.Dec()
		h.logger.Debug("session removed", "session_id", sess.id)
	}
	_ = sess.conn.Close()
}

// subscribe moves the session out of the unfiltered set into the trace's
// subscriber set.
func (h *Hub) subscribe(sess *Session, traceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.unfiltered, sess)
	set := h.byTrace[traceID]
	if set == nil {
		set = make(map[*Session]struct{})
		h.byTrace[traceID] = set
	}
	set[sess] = struct{}{}
}

// unsubscribe moves the session back into the unfiltered set.
func (h *Hub) unsubscribe(sess *Session, traceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byTrace[traceID]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(h.byTrace, traceID)
		}
	}
	h.unfiltered[sess] = struct{}{}
}

// targets snapshots the union of unfiltered sessions and the trace's
// subscribers. Broadcasters iterate the snapshot so registry mutations during
// delivery are safe.
func (h *Hub) targets(traceID string) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.unfiltered))
	for sess := range h.unfiltered {
		out = append(out, sess)
	}
	for sess := range h.byTrace[traceID] {
		out = append(out, sess)
	}
	return out
}

// unfilteredSnapshot snapshots only the unfiltered sessions.
func (h *Hub) unfilteredSnapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.unfiltered))
	for sess := range h.unfiltered {
		out = append(out, sess)
	}
	return out
}

func (h *Hub) deliver(sessions []*Session, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}
	for _, sess := range sessions {
		if err := sess.send(payload); err != nil {
			h.logger.Warn("dropping session after send error",
				"session_id", sess.id, "error", err)
			h.remove(sess)
			continue
		}
		metrics.EventsBroadcast.Inc()
	}
}

// SpanCreated broadcasts a newly inserted span to the unfiltered sessions and
// the span's trace subscribers.
func (h *Hub) SpanCreated(span *models.Span) {
	h.deliver(h.targets(span.TraceID), map[string]any{
		"event": "span_created",
		"span":  span,
	})
}

// SpanUpdated broadcasts an in-place span rewrite.
func (h *Hub) SpanUpdated(traceID, spanID string, updates map[string]any) {
	h.deliver(h.targets(traceID), map[string]any{
		"event":   "span_updated",
		"span_id": spanID,
		"updates": updates,
	})
}

// TraceCreated broadcasts a new trace to unfiltered sessions only; per-trace
// subscribers already know their trace.
func (h *Hub) TraceCreated(trace *models.Trace) {
	h.deliver(h.unfilteredSnapshot(), map[string]any{
		"event": "trace_created",
		"trace": trace,
	})
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.unfiltered)
	for _, set := range h.byTrace {
		n += len(set)
	}
	return n
}

// Shutdown closes every session, allowing up to five seconds for close
// frames to flush.
func (h *Hub) Shutdown() {
	deadline := time.Now().Add(shutdownDrainWait)
	h.mu.Lock()
	seen := make(map[*Session]struct{}, len(h.unfiltered))
	for sess := range h.unfiltered {
		seen[sess] = struct{}{}
	}
	for _, set := range h.byTrace {
		for sess := range set {
			seen[sess] = struct{}{}
		}
	}
	h.unfiltered = make(map[*Session]struct{})
	h.byTrace = make(map[string]map[*Session]struct{})
	h.mu.Unlock()

	sessions := make([]*Session, 0, len(seen))
	for sess := range seen {
		sessions = append(sessions, sess)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, sess := range sessions {
		sess.writeMu.Lock()
		_ = sess.conn.SetWriteDeadline(deadline)
		_ = sess.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		sess.writeMu.Unlock()
		_ = sess.conn.Close()
		metrics.LiveSessions.Dec()
	}
}
