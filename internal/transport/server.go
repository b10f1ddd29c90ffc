// Package transport implements the server-side orchestrator of the
// graphql-transport-ws protocol (spec.md §4.G): it wires the codec,
// subprotocol negotiator, connection state machine, subscription
// registry and keep-alive driver together into the single entry point
// an adapter calls per accepted connection.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nasnet-community/subwire/internal/apperrors"
	"github.com/nasnet-community/subwire/internal/codec"
	"github.com/nasnet-community/subwire/internal/connstate"
	"github.com/nasnet-community/subwire/internal/keepalive"
	"github.com/nasnet-community/subwire/internal/logger"
	"github.com/nasnet-community/subwire/internal/producer"
	"github.com/nasnet-community/subwire/internal/registry"
)

// Default timing, matching the reference graphql-transport-ws server's
// published defaults.
const (
	DefaultInitTimeout       = 3 * time.Second
	DefaultKeepAliveInterval = 12 * time.Second
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithInitTimeout overrides DefaultInitTimeout. A zero or negative
// value disables the init-wait timer entirely.
func WithInitTimeout(d time.Duration) Option {
	return func(s *Server) { s.initTimeout = d }
}

// WithKeepAliveInterval overrides DefaultKeepAliveInterval. A zero or
// negative value disables the transport-level keep-alive entirely.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(s *Server) { s.keepAliveInterval = d }
}

// WithProduction toggles close-reason redaction (apperrors.CloseReason).
func WithProduction(production bool) Option {
	return func(s *Server) { s.production = production }
}

// WithLogger overrides the zap logger the server uses. Defaults to
// logger.L().
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server holds the configuration shared by every connection it opens.
// A single Server can drive arbitrarily many concurrent connections;
// all per-connection state lives in the session type returned
// internally by Opened.
type Server struct {
	Hooks   Hooks
	Factory producer.Factory

	initTimeout       time.Duration
	keepAliveInterval time.Duration
	production        bool
	log               *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer builds a Server around factory, which turns every
// "subscribe" payload into a running Producer.
func NewServer(factory producer.Factory, hooks Hooks, opts ...Option) *Server {
	s := &Server{
		Hooks:             hooks,
		Factory:           factory,
		initTimeout:       DefaultInitTimeout,
		keepAliveInterval: DefaultKeepAliveInterval,
		log:               logger.L(),
		sessions:          make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// session is the per-connection state the orchestrator threads through
// every inbound message and background operation. extra carries
// whatever the adapter attached at accept time (e.g. the originating
// HTTP request), opaque to this package.
type session struct {
	id     string
	ctx    context.Context
	socket Socket
	server *Server
	extra  interface{}

	sm  *connstate.Machine
	reg *registry.Registry
	ka  *keepalive.Driver

	initTimer *time.Timer
}

// Opened is the adapter-facing entry point: call it once per accepted
// connection, after subprotocol negotiation has already selected
// subprotocol.Token. It registers socket's inbound message handler and
// starts the init-wait timer and keep-alive driver. The returned
// function must be invoked exactly once, whenever the underlying
// transport actually closes (whether the server or the remote end
// initiated it), so operations can be cleaned up and onDisconnect
// fired.
func (s *Server) Opened(socket Socket, extra interface{}) func(code int, reason string) {
	connID := ulid.Make().String()
	ctx := logger.WithConnContext(context.Background(), connID)

	sess := &session{
		id:     connID,
		ctx:    ctx,
		socket: socket,
		server: s,
		extra:  extra,
		sm:     connstate.New(),
		reg:    registry.New(),
	}

	keepAliveInterval := s.keepAliveInterval
	if _, ok := socket.(PingFramer); !ok {
		keepAliveInterval = 0
	}
	sess.ka = keepalive.New(keepAliveInterval, sess.sendPingFrame, sess.forceTerminate)
	if pinger, ok := socket.(PongFrameObserver); ok {
		pinger.OnPongFrame(func([]byte) { sess.ka.Pong() })
	}
	sess.ka.Start()

	if s.initTimeout > 0 {
		sess.initTimer = time.AfterFunc(s.initTimeout, func() {
			if sess.sm.ExpireInit() {
				sess.closeWith(apperrors.ConnectionInitTimeout())
			}
		})
	}

	socket.OnMessage(func(data string) {
		sess.handleInbound(data)
	})

	s.mu.Lock()
	s.sessions[connID] = sess
	s.mu.Unlock()

	s.log.Info("connection opened", zap.String("conn_id", connID))

	return sess.closed
}

// Shutdown closes every connection this Server currently has open with
// 1001 "Going away" and returns once every socket's Close call has
// returned or ctx has expired, whichever comes first. It does not wait
// for the adapter's closed() callbacks, so operation cleanup and
// onDisconnect may still be running when it returns. Call it once, after the
// adapter has stopped accepting new connections, as the last step of a
// graceful process shutdown.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, sess := range sessions {
			sess.closeWith(apperrors.GoingAway())
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *session) sendPingFrame() error {
	framer, ok := s.socket.(PingFramer)
	if !ok {
		return nil
	}
	return framer.PingFrame()
}

func (s *session) forceTerminate() {
	s.closeWith(apperrors.New(apperrors.CodeInternalServerError, apperrors.CategoryLiveness, "keep-alive timeout"))
}

// closeWith closes the socket for a TransportError and lets the
// eventual closed() callback from the adapter drive cleanup. The
// adapter's own read loop will observe the resulting close and invoke
// closed exactly once; we don't call it here ourselves to avoid a
// double-invocation race with the adapter.
func (s *session) closeWith(err *apperrors.TransportError) {
	s.sm.Close()
	reason := apperrors.CloseReason(err, s.server.production)
	if s.server.Hooks.OnClose != nil {
		s.server.Hooks.OnClose(s.ctx, err.Code, reason)
	}
	_ = s.socket.Close(err.Code, reason)
}

func (s *session) handleInbound(data string) {
	if s.sm.IsClosed() {
		return
	}
	msg, err := codec.Decode(data, s.server.Hooks.Reviver)
	if err != nil {
		s.closeWith(apperrors.BadRequest(err.Error()))
		return
	}

	switch msg.Type {
	case codec.TypeConnectionInit:
		s.handleConnectionInit(msg)
	case codec.TypePing:
		s.handlePing(msg)
	case codec.TypePong:
		s.handlePong(msg)
	case codec.TypeSubscribe:
		s.handleSubscribe(msg)
	case codec.TypeComplete:
		s.handleComplete(msg)
	default:
		// "next" and "error" are server-to-client only; a client that
		// sends one is violating the protocol.
		s.closeWith(apperrors.BadRequest("unexpected message type from client: " + string(msg.Type)))
	}
}

func (s *session) handleConnectionInit(msg codec.Message) {
	if !s.sm.BeginInit() {
		if s.sm.IsClosed() {
			return
		}
		s.closeWith(apperrors.TooManyInitialisationRequests())
		return
	}
	if s.initTimer != nil {
		s.initTimer.Stop()
	}

	var ackPayload json.RawMessage
	accept := true
	if s.server.Hooks.OnConnect != nil {
		ackPayload, accept = s.safeOnConnect(msg.Payload)
	}
	if !accept {
		s.closeWith(apperrors.Forbidden())
		return
	}

	s.sm.Acknowledge()
	encoded, err := codec.Encode(codec.Message{Type: codec.TypeConnectionAck, Payload: ackPayload}, s.server.Hooks.Replacer)
	if err != nil {
		s.closeWith(apperrors.Internal(err))
		return
	}
	if err := s.socket.Send(s.ctx, encoded); err != nil {
		s.closeWith(apperrors.Internal(err))
	}
}

func (s *session) safeOnConnect(params json.RawMessage) (ackPayload json.RawMessage, accept bool) {
	defer func() {
		if r := recover(); r != nil {
			accept = false
		}
	}()
	return s.server.Hooks.OnConnect(s.ctx, params)
}

func (s *session) handlePing(msg codec.Message) {
	if s.server.Hooks.OnPing != nil {
		s.server.Hooks.OnPing(s.ctx, msg.Payload)
		return
	}
	encoded, err := codec.Encode(codec.Message{Type: codec.TypePong, Payload: msg.Payload}, s.server.Hooks.Replacer)
	if err != nil {
		s.closeWith(apperrors.Internal(err))
		return
	}
	if err := s.socket.Send(s.ctx, encoded); err != nil {
		s.closeWith(apperrors.Internal(err))
	}
}

func (s *session) handlePong(msg codec.Message) {
	if s.server.Hooks.OnPong != nil {
		s.server.Hooks.OnPong(s.ctx, msg.Payload)
	}
}

func (s *session) handleSubscribe(msg codec.Message) {
	if !s.sm.Acknowledged() {
		s.closeWith(apperrors.Unauthorized())
		return
	}
	if err := s.reg.Reserve(msg.ID); err != nil {
		s.closeWith(apperrors.SubscriberAlreadyExists(msg.ID))
		return
	}
	go s.runOperation(msg)
}

func (s *session) handleComplete(msg codec.Message) {
	p, existed := s.reg.RequestStop(msg.ID)
	if !existed {
		return
	}
	if p != nil {
		_ = p.Stop()
	}
	if done := s.reg.DoneChan(msg.ID); done != nil {
		<-done
	}
	// Best-effort: the owning runOperation goroutine always performs
	// the authoritative Drop + onComplete itself before closing done;
	// this is just defensive cleanup for a reservation that somehow
	// never reached Install.
	s.reg.Drop(msg.ID)
}

// runOperation owns one subscribe operation end to end: hook
// invocation, factory build, install, run, and exactly one terminal
// wire emission (or none, if suppressed by a racing complete/close).
func (s *session) runOperation(msg codec.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.reg.Drop(msg.ID)
			s.closeWith(apperrors.Internal(nil))
		}
	}()

	if s.server.Hooks.OnSubscribe != nil {
		if errs := s.server.Hooks.OnSubscribe(s.ctx, msg); errs != nil {
			s.reg.Drop(msg.ID)
			s.emitError(msg.ID, errs)
			return
		}
	}

	p, err := s.server.Factory.Build(s.ctx, msg.ID, msg.Payload)
	if err != nil {
		s.reg.Drop(msg.ID)
		s.closeWith(apperrors.Internal(err))
		return
	}
	if s.server.Hooks.OnOperation != nil {
		if wrapped := s.server.Hooks.OnOperation(s.ctx, msg, p); wrapped != nil {
			p = wrapped
		}
	}

	done, suppressed, err := s.reg.Install(msg.ID, p)
	if err != nil {
		// The connection is already tearing down and has removed this
		// reservation; nothing left to do.
		_ = p.Stop()
		return
	}
	defer close(done)

	if suppressed {
		_ = p.Stop()
		s.finish(msg.ID)
		return
	}

	emit := s.makeEmit(msg.ID)
	errs, startErr := p.Start(s.ctx, emit)
	_ = p.Stop()

	switch {
	case startErr != nil:
		s.finish(msg.ID)
		s.closeWith(apperrors.Internal(startErr))
		return
	case errs != nil:
		if s.server.Hooks.OnError != nil {
			if transformed := s.server.Hooks.OnError(s.ctx, msg, errs); transformed != nil {
				errs = transformed
			}
		}
		s.finishWithEmission(msg.ID, func() { s.emitError(msg.ID, errs) })
		return
	default:
		s.finishWithEmission(msg.ID, func() { s.emitComplete(msg.ID) })
	}
}

// finish performs the final registry removal and fires onComplete
// exactly once, without any wire emission. Used when an operation ends
// with nothing to send (a suppressed operation, a producer whose Start
// failed, or an entry drained at connection teardown).
func (s *session) finish(operationID string) {
	if _, existed := s.reg.Drop(operationID); existed {
		if s.server.Hooks.OnComplete != nil {
			s.server.Hooks.OnComplete(s.ctx, operationID)
		}
	}
}

// finishWithEmission drops the entry and, unless a racing complete or
// socket close already flagged it suppressed, runs emit before firing
// onComplete exactly once.
func (s *session) finishWithEmission(operationID string, emit func()) {
	suppressed := s.reg.Suppressed(operationID)
	_, existed := s.reg.Drop(operationID)
	if !existed {
		return
	}
	if !suppressed {
		emit()
	}
	if s.server.Hooks.OnComplete != nil {
		s.server.Hooks.OnComplete(s.ctx, operationID)
	}
}

func (s *session) makeEmit(operationID string) producer.Emit {
	return func(ctx context.Context, payload json.RawMessage) error {
		if s.server.Hooks.OnNext != nil {
			if transformed := s.server.Hooks.OnNext(ctx, codec.Message{Type: codec.TypeNext, ID: operationID}, payload); transformed != nil {
				payload = transformed
			}
		}
		encoded, err := codec.Encode(codec.Message{Type: codec.TypeNext, ID: operationID, Payload: payload}, s.server.Hooks.Replacer)
		if err != nil {
			return err
		}
		return s.socket.Send(ctx, encoded)
	}
}

func (s *session) emitComplete(operationID string) {
	encoded, err := codec.Encode(codec.Message{Type: codec.TypeComplete, ID: operationID}, s.server.Hooks.Replacer)
	if err != nil {
		s.closeWith(apperrors.Internal(err))
		return
	}
	if err := s.socket.Send(s.ctx, encoded); err != nil {
		s.closeWith(apperrors.Internal(err))
	}
}

func (s *session) emitError(operationID string, errs producer.ErrorPayload) {
	payload, err := json.Marshal(errs)
	if err != nil {
		s.closeWith(apperrors.Internal(err))
		return
	}
	encoded, err := codec.Encode(codec.Message{Type: codec.TypeError, ID: operationID, Payload: payload}, s.server.Hooks.Replacer)
	if err != nil {
		s.closeWith(apperrors.Internal(err))
		return
	}
	if err := s.socket.Send(s.ctx, encoded); err != nil {
		s.closeWith(apperrors.Internal(err))
	}
}

// closed runs when the underlying transport actually disconnects,
// whether the server initiated it (closeWith already ran) or the
// remote end went away first. It stops the keep-alive driver and the
// init timer, drains every remaining operation, and fires
// onDisconnect.
func (s *session) closed(code int, reason string) {
	acknowledgedAtClose := s.sm.Acknowledged()
	s.sm.Close()
	if s.initTimer != nil {
		s.initTimer.Stop()
	}
	s.ka.Stop()

	for _, id := range s.reg.SnapshotIDs() {
		p, existed := s.reg.RequestStop(id)
		if !existed {
			continue
		}
		if p != nil {
			_ = p.Stop()
		}
		if done := s.reg.DoneChan(id); done != nil {
			<-done
		}
		s.finish(id)
	}

	s.server.mu.Lock()
	delete(s.server.sessions, s.id)
	s.server.mu.Unlock()

	if acknowledgedAtClose && s.server.Hooks.OnDisconnect != nil {
		s.server.Hooks.OnDisconnect(s.ctx, code, reason)
	}
	s.server.log.Info("connection closed", zap.String("conn_id", s.id), zap.Int("code", code), zap.String("reason", reason))
}
