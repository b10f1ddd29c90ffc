package transport

import (
	"context"
	"encoding/json"

	"github.com/nasnet-community/subwire/internal/codec"
	"github.com/nasnet-community/subwire/internal/producer"
)

// Hooks lets a server customise connection and operation lifecycle
// without touching the orchestrator itself. Every field is optional;
// a nil hook is treated as the identity/accept behaviour described on
// each field.
type Hooks struct {
	// OnConnect runs once per connection, on the first connection_init.
	// Returning accept=false refuses the handshake with 4403 Forbidden.
	// ackPayload, if non-nil, becomes the connection_ack payload.
	OnConnect func(ctx context.Context, connectionParams json.RawMessage) (ackPayload json.RawMessage, accept bool)

	// OnDisconnect runs once an acknowledged connection has fully torn
	// down, after every operation has been stopped and cleaned up. It
	// does not run for a connection that never received connection_ack.
	OnDisconnect func(ctx context.Context, code int, reason string)

	// OnClose runs whenever the server itself decides to close a
	// connection (as opposed to the remote end going away first).
	OnClose func(ctx context.Context, code int, reason string)

	// OnSubscribe runs after a subscribe message's id has been
	// reserved, before the Factory builds a producer. Returning a
	// non-nil ErrorPayload rejects the operation: the orchestrator
	// emits an "error" message with it and never calls the factory.
	OnSubscribe func(ctx context.Context, msg codec.Message) producer.ErrorPayload

	// OnOperation runs after a producer has been built, letting the
	// caller wrap or replace it (e.g. to add instrumentation). A nil
	// return leaves the original producer in place.
	OnOperation func(ctx context.Context, msg codec.Message, p producer.Producer) producer.Producer

	// OnNext runs before every "next" emission, letting the caller
	// transform the payload. A nil return leaves payload unchanged.
	OnNext func(ctx context.Context, msg codec.Message, payload json.RawMessage) json.RawMessage

	// OnError runs before an "error" message is emitted for an
	// operation, letting the caller transform the error payload. A nil
	// return leaves errs unchanged.
	OnError func(ctx context.Context, msg codec.Message, errs producer.ErrorPayload) producer.ErrorPayload

	// OnComplete runs exactly once per operation id that reached
	// Install, regardless of how it terminated (clean completion,
	// operation error, client-sent complete, or connection teardown). At
	// connection teardown it also runs once for each id that is still a
	// bare reservation (its factory had not returned yet).
	OnComplete func(ctx context.Context, operationID string)

	// OnPing and OnPong observe protocol-level ping/pong messages
	// (distinct from the transport-level keep-alive frames driven by
	// internal/keepalive).
	OnPing func(ctx context.Context, payload json.RawMessage)
	OnPong func(ctx context.Context, payload json.RawMessage)

	// Replacer and Reviver are passed straight through to codec.Encode
	// and codec.Decode for every message on the connection.
	Replacer codec.Replacer
	Reviver  codec.Reviver
}
