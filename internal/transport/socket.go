package transport

import "context"

// Socket is the contract an adapter must satisfy for the orchestrator
// to drive a connection over it. It is payload- and transport-agnostic:
// nothing in this package assumes WebSocket specifically, though
// wsadapter is the only implementation shipped here.
type Socket interface {
	// Protocol reports the negotiated subprotocol token. Opened does not
	// check it; wsadapter.Handler closes a connection with 1001/Going
	// Away before calling Opened when the token isn't subprotocol.Token.
	Protocol() string

	// Send writes one text frame. Within one operation the orchestrator
	// never calls Send again until the prior call has returned, but
	// different operations (and replies to inbound messages) on the same
	// connection call it from separate goroutines, so Send must be safe
	// for concurrent use.
	Send(ctx context.Context, data string) error

	// Close closes the underlying connection with the given WebSocket
	// close code and a close reason already sanitised by apperrors.
	Close(code int, reason string) error

	// OnMessage registers the callback invoked for every inbound text
	// frame. The adapter must invoke it from a single goroutine, one
	// frame at a time, to preserve the transport's ordering guarantees.
	OnMessage(cb func(data string))
}

// PingFramer is an optional Socket capability: sending a native
// WebSocket ping frame, as opposed to a protocol-level "ping" message.
// An adapter that does not implement it simply never receives calls
// from the keep-alive driver, regardless of configured interval.
type PingFramer interface {
	PingFrame() error
}

// PongFrameObserver is an optional Socket capability: learning when a
// native WebSocket pong frame arrives, so the keep-alive driver can
// cancel its timeout timer.
type PongFrameObserver interface {
	OnPongFrame(cb func(payload []byte))
}
