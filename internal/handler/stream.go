package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/fractionex/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamHandler serves the live trade feed over WebSocket.
type StreamHandler struct {
	broadcaster *stream.Broadcaster
	logger      *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(b *stream.Broadcaster, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{broadcaster: b, logger: logger}
}

// Serve handles GET /trades/stream?share_class_id=N. Each text message is
// one trade event; without share_class_id every class is streamed.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	var classID uint64
	if v := r.URL.Query().Get("share_class_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "share_class_id must be a positive integer")
			return
		}
		classID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.broadcaster.Subscribe(classID)
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client messages and ends the subscription when the
// client goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, sub *stream.Subscription) {
	defer h.broadcaster.Unsubscribe(sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards events until the subscription closes.
func (h *StreamHandler) writePump(conn *websocket.Conn, sub *stream.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.broadcaster.Unsubscribe(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.broadcaster.Unsubscribe(sub)
				return
			}
		}
	}
}
