package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"taskboard/internal/engine"
	"taskboard/internal/metrics"
	"taskboard/internal/notify"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = 4096
)

// streamer serves live project feeds over SSE and WebSocket.
type streamer struct {
	engine    *engine.Engine
	heartbeat time.Duration
	buffer    int
	logger    zerolog.Logger
}

// feed is one client's bounded queue. Publishing never blocks on it.
type feed struct {
	id  string
	ch  chan notify.Notification
	sub *notify.Subscription
}

func (s *streamer) attach(projectID string, logger zerolog.Logger) *feed {
	f := &feed{id: uuid.NewString(), ch: make(chan notify.Notification, s.buffer)}
	f.sub = s.engine.Subscribe(projectID, notify.SubscriberFunc(func(n notify.Notification) error {
		select {
		case f.ch <- n:
		default:
			metrics.RecordNotification("dropped")
			logger.Warn().Str("type", string(n.Type)).Msg("client too slow, notification dropped")
		}
		return nil
	}))
	return f
}

func (s *streamer) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	projectID := chi.URLParam(r, "project_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With().Str("project", projectID).Str("transport", "sse").Logger()
	f := s.attach(projectID, logger)
	defer f.sub.Unsubscribe()
	logger = logger.With().Str("client", f.id).Logger()
	logger.Info().Msg("client connected")
	defer func() { logger.Info().Msg("client disconnected") }()

	writeSSE(w, "connected", "connected")
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeSSE(w, "heartbeat", time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		case n := <-f.ch:
			data, err := json.Marshal(n.Payload)
			if err != nil {
				logger.Error().Err(err).Msg("encode notification")
				continue
			}
			writeSSE(w, string(n.Type), string(data))
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *streamer) serveWS(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("project", projectID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("project", projectID).Str("transport", "ws").Logger()
	f := s.attach(projectID, logger)
	defer f.sub.Unsubscribe()
	logger = logger.With().Str("client", f.id).Logger()
	logger.Info().Msg("client connected")
	defer func() { logger.Info().Msg("client disconnected") }()

	// Reader: the feed is one-way, but reading is required to observe pongs and close frames.
	closed := make(chan struct{})
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeFrame(conn, streamFrame{Type: "connected"}); err != nil {
		return
	}
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case n := <-f.ch:
			if err := s.writeFrame(conn, streamFrame{Type: string(n.Type), Data: n.Payload}); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (s *streamer) writeFrame(conn *websocket.Conn, frame streamFrame) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(frame)
}
