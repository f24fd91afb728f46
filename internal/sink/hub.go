package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/model"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

// Hub serves the live event feed of one session over a websocket at
// /ws/{session_id}. Each connection gets a connection-established greeting
// followed by every event the Broker publishes for that session.
type Hub struct {
	broker   *Broker
	log      logging.Logger
	upgrader websocket.Upgrader
	buffer   int
	now      func() time.Time
}

// NewHub returns a Hub reading from broker.
func NewHub(broker *Broker, log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		broker: broker,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer: DefaultBuffer,
		now:    time.Now,
	}
}

// Register mounts the hub on mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws/{session_id}", h)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		sessionID = strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	}
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.SessionID(sessionID), logging.Err(err))
		return
	}
	h.serveConn(r.Context(), conn, sessionID)
}

// serveConn owns conn: it is the only goroutine writing to it. A separate
// reader goroutine answers pings and notices disconnects.
func (h *Hub) serveConn(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close()

	log := h.log.With(logging.SessionID(sessionID), logging.String("remote", conn.RemoteAddr().String()))
	events, cancel := h.broker.Subscribe(sessionID, h.buffer)
	defer cancel()
	log.Info(ctx, "viewer connected", logging.Int("viewers", h.broker.SubscriberCount(sessionID)))

	greeting := model.SimulationEvent{
		Kind:      model.EventConnectionEstablished,
		SessionID: sessionID,
		Payload: map[string]any{
			"message":    "WebSocket connection established",
			"session_id": sessionID,
		},
		Timestamp: h.now().UTC(),
	}
	if err := h.write(conn, greeting); err != nil {
		log.Warn(ctx, "failed to greet viewer", logging.Err(err))
		return
	}

	pings := make(chan struct{}, 1)
	gone := make(chan struct{})
	go h.readLoop(ctx, conn, pings, gone, log)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				log.Info(ctx, "viewer dropped by broker")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, ev); err != nil {
				log.Warn(ctx, "failed to send event to viewer", logging.Err(err))
				return
			}
		case <-pings:
			pong := model.SimulationEvent{
				Kind:      model.EventPong,
				SessionID: sessionID,
				Payload:   map[string]any{},
				Timestamp: h.now().UTC(),
			}
			if err := h.write(conn, pong); err != nil {
				return
			}
		case <-gone:
			log.Info(ctx, "viewer disconnected")
			return
		}
	}
}

type inboundFrame struct {
	Type string `json:"type"`
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, pings chan<- struct{}, gone chan<- struct{}, log logging.Logger) {
	defer close(gone)
	conn.SetReadLimit(maxInboundSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn(ctx, "websocket read failed", logging.Err(err))
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug(ctx, "ignoring malformed viewer frame", logging.Err(err))
			continue
		}
		if frame.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, ev model.SimulationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
