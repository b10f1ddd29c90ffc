// Package wsadapter implements transport.Socket over gorilla/websocket,
// grounded on the teacher's readPump/writePump client (internal/graphql
// /subscription/websocket.go): one goroutine owns the connection's
// reads, a second owns its writes via a buffered channel, and outbound
// sends are wrapped in a circuit breaker so a stalled client can't
// wedge the server goroutine driving it.
package wsadapter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/nasnet-community/subwire/internal/apperrors"
	"github.com/nasnet-community/subwire/internal/logger"
	"github.com/nasnet-community/subwire/internal/subprotocol"
	"github.com/nasnet-community/subwire/internal/transport"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	sendBuffer            = 64
)

// Opener is the subset of *transport.Server this package depends on,
// so adapters can be tested against a stub orchestrator.
type Opener interface {
	Opened(socket transport.Socket, extra interface{}) func(code int, reason string)
}

// Handler upgrades incoming HTTP requests to the graphql-transport-ws
// subprotocol and hands each connection to a transport.Server.
type Handler struct {
	Server Opener

	// Upgrader customises the HTTP->WebSocket upgrade. Subprotocols is
	// overwritten with subprotocol.Token regardless of caller input.
	Upgrader websocket.Upgrader

	// WriteWait bounds every outbound frame write, including the
	// close handshake. Defaults to 10s.
	WriteWait time.Duration

	// MaxMessageSize caps inbound frame size. Defaults to 1MiB.
	MaxMessageSize int64

	// Breaker, if set, wraps every outbound frame write (text frames
	// from the write pump and keep-alive pings; Send itself only queues
	// the frame) through a shared gobreaker.CircuitBreaker so a connection whose writes keep
	// failing stops being retried immediately. A nil Breaker disables
	// circuit-breaking.
	Breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewHandler builds a Handler with the package defaults and a fresh
// per-handler circuit breaker.
func NewHandler(server Opener) *Handler {
	return &Handler{
		Server:         server,
		WriteWait:      defaultWriteWait,
		MaxMessageSize: defaultMaxMessageSize,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
			Subprotocols:    []string{subprotocol.Token},
		},
		Breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "wsadapter.send",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		}),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := h.Upgrader
	upgrader.Subprotocols = []string{subprotocol.Token}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if conn.Subprotocol() != subprotocol.Token {
		reason := apperrors.CloseReason(apperrors.GoingAway(), false)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(apperrors.CodeGoingAway, reason),
			time.Now().Add(h.WriteWait))
		_ = conn.Close()
		return
	}

	sock := newSocket(conn, h.WriteWait, h.MaxMessageSize, h.Breaker)
	meta := ConnMeta{Request: r, RequestID: uuid.NewString()}
	closed := h.Server.Opened(sock, meta)
	sock.run(closed)
}

// ConnMeta is the "extra" value every connection opened through this
// Handler carries into transport.Server.Opened: the originating HTTP
// request plus a request-scoped correlation id independent of the
// connection's own ulid, for joining adapter-level logs against
// upstream request tracing.
type ConnMeta struct {
	Request   *http.Request
	RequestID string
}

type socket struct {
	conn      *websocket.Conn
	writeWait time.Duration
	breaker   *gobreaker.CircuitBreaker[struct{}]

	send    chan string
	onMsg   func(string)
	onPong  func([]byte)
	closeMu sync.Mutex
	closed  bool
}

func newSocket(conn *websocket.Conn, writeWait time.Duration, maxMessage int64, breaker *gobreaker.CircuitBreaker[struct{}]) *socket {
	conn.SetReadLimit(maxMessage)
	s := &socket{conn: conn, writeWait: writeWait, breaker: breaker, send: make(chan string, sendBuffer)}
	conn.SetPongHandler(func(payload string) error {
		if s.onPong != nil {
			s.onPong([]byte(payload))
		}
		return nil
	})
	return s
}

func (s *socket) Protocol() string { return s.conn.Subprotocol() }

func (s *socket) Send(ctx context.Context, data string) error {
	select {
	case s.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *socket) Close(code int, reason string) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeWait))
	return s.conn.Close()
}

func (s *socket) OnMessage(cb func(string)) { s.onMsg = cb }

func (s *socket) OnPongFrame(cb func([]byte)) { s.onPong = cb }

func (s *socket) PingFrame() error {
	return s.writeRaw(func() error {
		return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
	})
}

// run drives the connection's read loop on the calling goroutine and
// spawns the write pump; it blocks until the connection closes, then
// invokes closed exactly once.
func (s *socket) run(closed func(code int, reason string)) {
	writeDone := make(chan struct{})
	go s.writePump(writeDone)

	code, reason := s.readPump()

	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	close(s.send)
	<-writeDone
	_ = s.conn.Close()

	closed(code, reason)
}

func (s *socket) readPump() (code int, reason string) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code, ce.Text
			}
			return apperrors.CodeGoingAway, "read failed"
		}
		if messageType != websocket.TextMessage {
			reason := apperrors.CloseReason(apperrors.BadRequest("binary frames are not supported"), false)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(apperrors.CodeBadRequest, reason),
				time.Now().Add(s.writeWait))
			return apperrors.CodeBadRequest, reason
		}
		if s.onMsg != nil {
			s.onMsg(string(data))
		}
	}
}

func (s *socket) writePump(done chan struct{}) {
	defer close(done)
	for data := range s.send {
		if err := s.writeRaw(func() error {
			return s.conn.WriteMessage(websocket.TextMessage, []byte(data))
		}); err != nil {
			return
		}
	}
}

func (s *socket) writeRaw(write func() error) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if s.breaker == nil {
		return write()
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, write()
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return err
	}
	return err
}
