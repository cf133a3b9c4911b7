package controller

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/datepoll/pkg/tally"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var (
	errSubscriberFull   = errors.New("subscriber buffer full")
	errSubscriberClosed = errors.New("subscriber closed")
)

// ServerMessage is one websocket frame sent to viewers.
type ServerMessage struct {
	Type    string      `json:"type"` // "snapshot" or "tally"
	Payload tally.Event `json:"payload"`
}

// streamSubscriber adapts a websocket connection to tally.Subscriber. Sends never block; a full
// buffer drops the event.
type streamSubscriber struct {
	mu     sync.Mutex
	closed bool
	send   chan ServerMessage
}

func (s *streamSubscriber) Send(ev tally.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSubscriberClosed
	}
	select {
	case s.send <- ServerMessage{Type: "tally", Payload: ev}:
		return nil
	default:
		return errSubscriberFull
	}
}

func (s *streamSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// HandleStream upgrades to a websocket and streams tally events for one poll.
//
// Server sends:
// - {"type": "snapshot", "payload": {...}} once, right after connecting
// - {"type": "tally", "payload": {...}} after every publish
//
// The connection deregisters itself when the client goes away or stops answering pings.
func (c *Controller) HandleStream(w http.ResponseWriter, r *http.Request) {
	pollID := mux.Vars(r)["id"]
	if _, err := c.App.Store.GetPoll(r.Context(), pollID); err != nil {
		c.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	// closing the connection also unblocks the reader when the writer gives up
	closeConn := sync.OnceFunc(func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	})
	defer closeConn()

	logger := c.App.Logger.With(zap.String("poll_id", pollID), zap.String("remote_addr", r.RemoteAddr))
	logger.Info("Stream client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	buffer := c.App.Config.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}
	sub := &streamSubscriber{send: make(chan ServerMessage, buffer)}
	unsubscribe := c.App.Bus.Subscribe(pollID, sub)

	// snapshot is read after subscribing so no publish falls between the two
	snapshot, err := c.snapshot(ctx, pollID)
	if err != nil {
		unsubscribe()
		logger.Error("Failed to build snapshot", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic in stream writer goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
			cancel()
			closeConn()
		}()
		c.writeMessages(ctx, conn, snapshot, sub.send, logger)
	}()
	go func() {
		defer wg.Done()
		c.sendPings(ctx, conn, logger)
	}()

	// blocks until the connection closes
	c.readUntilClosed(conn, logger)

	unsubscribe()
	sub.close()
	cancel()
	wg.Wait()

	logger.Info("Stream client disconnected")
}

func (c *Controller) snapshot(ctx context.Context, pollID string) (ServerMessage, error) {
	at := c.App.Service.Clock.Now()
	p, err := c.App.Store.GetPoll(ctx, pollID)
	if err != nil {
		return ServerMessage{}, err
	}
	t, err := c.App.Store.Tally(ctx, pollID)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{
		Type:    "snapshot",
		Payload: tally.Event{PollID: pollID, Status: p.Poll.Status, Tally: t, At: at},
	}, nil
}

// writeMessages is the only writer of data frames: the snapshot first, then live events. Events
// queued between subscribing and the snapshot read may be older than the snapshot and are skipped.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, first ServerMessage, send <-chan ServerMessage, logger *zap.Logger) {
	write := func(msg ServerMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Failed to write WebSocket message", zap.Error(err))
			return false
		}
		return true
	}
	if !write(first) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			if !newerThan(msg, first) {
				continue
			}
			if !write(msg) {
				return
			}
		}
	}
}

// newerThan reports whether msg was read no earlier than snapshot.
func newerThan(msg, snapshot ServerMessage) bool {
	return !msg.Payload.At.Before(snapshot.Payload.At)
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// readUntilClosed discards client frames and returns on close, error or missed pongs.
func (c *Controller) readUntilClosed(conn *websocket.Conn, logger *zap.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
