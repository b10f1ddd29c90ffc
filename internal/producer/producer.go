// Package producer defines the boundary the orchestrator uses to turn a
// "subscribe" message into a running emission source, without exposing
// any language-level iterator protocol across that boundary.
package producer

import (
	"context"
	"encoding/json"
)

// ErrorDescriptor is one entry of an "error" message's payload list.
// Shape is caller-defined; the transport only requires the list to be
// non-empty.
type ErrorDescriptor = json.RawMessage

// ErrorPayload is the non-empty list of error descriptors carried by an
// "error" message.
type ErrorPayload []ErrorDescriptor

// Emit delivers one intermediate ("next") result for the operation this
// function is scoped to. Emit does not return until the socket's Send
// has returned for this emission, so successive Emit calls from the
// same producer reach the socket in call order. A non-nil error means the connection is going
// away (socket closed, send failed); the producer should treat it the
// same as ctx being cancelled and stop emitting.
type Emit func(ctx context.Context, payload json.RawMessage) error

// Producer is a started subscription's emission source. Ownership is
// exclusive to the connection's registry: only the registry invokes
// Stop, though producer-internal code may also call it, so Stop must be
// idempotent.
type Producer interface {
	// Start runs the subscription to completion, calling emit for every
	// intermediate result. It returns in exactly one of three ways:
	//
	//   (nil, nil)       - clean completion; orchestrator emits "complete"
	//   (errs, nil)      - operation-level failure; orchestrator emits
	//                       "error" with errs as the payload
	//   (_, err)         - internal failure; orchestrator closes the
	//                       whole connection with code 4500
	//
	// Start must return promptly once ctx is cancelled.
	Start(ctx context.Context, emit Emit) (ErrorPayload, error)

	// Stop releases the producer's resources and causes any in-flight
	// Start call to return. It must be idempotent and safe to call even
	// if Start never ran or has already returned.
	Stop() error
}

// Factory turns a "subscribe" message's payload into a Producer. It is
// invoked after the operation id has been reserved in the registry, so
// two factory calls for the same id can never run concurrently with
// the same id unreserved.
type Factory interface {
	Build(ctx context.Context, operationID string, payload json.RawMessage) (Producer, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, operationID string, payload json.RawMessage) (Producer, error)

func (f FactoryFunc) Build(ctx context.Context, operationID string, payload json.RawMessage) (Producer, error) {
	return f(ctx, operationID, payload)
}
