package bus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// clientAction is the inbound message shape on the live socket.
type clientAction struct {
	Action  string `json:"action"`
	TraceID string `json:"trace_id"`
}

// ServeHTTP upgrades the request and runs the session read loop until the
// client disconnects. Malformed JSON gets an error reply but keeps the
// session open.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c.SetReadLimit(maxPayloadBytes)

	sess := h.register(c)
	defer h.remove(sess)

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			return
		}
		h.handleAction(sess, payload)
	}
}

func (h *Hub) handleAction(sess *Session, payload []byte) {
	var action clientAction
	if err := json.Unmarshal(payload, &action); err != nil {
		errPayload, _ := json.Marshal(map[string]string{"error": "Invalid JSON"})
		if sendErr := sess.send(errPayload); sendErr != nil {
			h.remove(sess)
		}
		return
	}

	switch action.Action {
	case "subscribe_trace":
		if action.TraceID != "" {
			h.subscribe(sess, action.TraceID)
			h.logger.Debug("session subscribed", "session_id", sess.id, "trace_id", action.TraceID)
		}
	case "unsubscribe_trace":
		if action.TraceID != "" {
			h.unsubscribe(sess, action.TraceID)
		}
	default:
		// Unknown actions are ignored; forward compatibility with newer
		// clients.
	}
}
