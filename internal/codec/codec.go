// Package codec encodes and decodes graphql-transport-ws message
// envelopes. It never interprets payload contents: payloads are opaque
// to the transport and are only shuttled through as JSON values.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Type is the closed set of message type tags defined by the protocol.
type Type string

const (
	TypeConnectionInit Type = "connection_init"
	TypeConnectionAck  Type = "connection_ack"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeSubscribe      Type = "subscribe"
	TypeNext           Type = "next"
	TypeError          Type = "error"
	TypeComplete       Type = "complete"
)

func (t Type) valid() bool {
	switch t {
	case TypeConnectionInit, TypeConnectionAck, TypePing, TypePong,
		TypeSubscribe, TypeNext, TypeError, TypeComplete:
		return true
	}
	return false
}

func (t Type) hasID() bool {
	switch t {
	case TypeSubscribe, TypeNext, TypeError, TypeComplete:
		return true
	}
	return false
}

func (t Type) requiresPayload() bool {
	switch t {
	case TypeSubscribe, TypeNext, TypeError:
		return true
	}
	return false
}

// Message is a decoded protocol envelope. Payload is opaque JSON and is
// nil when the field was absent from the wire message.
type Message struct {
	Type    Type
	ID      string
	Payload json.RawMessage
}

// Replacer mirrors JSON.stringify's replacer: called for every key/value
// pair in the envelope (including nested payload fields), in pre-order —
// the value it returns is what gets serialised, and recursion continues
// into that returned value.
type Replacer func(key string, value interface{}) interface{}

// Reviver mirrors JSON.parse's reviver: called for every key/value pair,
// in post-order — children are revived first, then the parent is built
// from the revived children and handed to the reviver itself.
type Reviver func(key string, value interface{}) interface{}

// DecodeErrorKind distinguishes "the bytes aren't JSON at all" from
// "the bytes are JSON but not a well-formed protocol envelope".
type DecodeErrorKind int

const (
	KindNotJSON DecodeErrorKind = iota
	KindInvalidShape
)

// DecodeError is returned by Decode on any failure.
type DecodeError struct {
	Kind    DecodeErrorKind
	Message string
}

func (e *DecodeError) Error() string { return e.Message }

func notJSON(err error) *DecodeError {
	return &DecodeError{Kind: KindNotJSON, Message: fmt.Sprintf("invalid JSON: %v", err)}
}

func invalidShape(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: KindInvalidShape, Message: fmt.Sprintf(format, args...)}
}

// Encode serialises msg to its JSON text form. replacer may be nil.
func Encode(msg Message, replacer Replacer) (string, error) {
	envelope := map[string]interface{}{"type": string(msg.Type)}
	if msg.ID != "" {
		envelope["id"] = msg.ID
	}
	if len(msg.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return "", fmt.Errorf("codec: payload is not JSON-representable: %w", err)
		}
		envelope["payload"] = payload
	}

	transformed := walk("", envelope, replacer)
	out, err := json.Marshal(transformed)
	if err != nil {
		return "", fmt.Errorf("codec: encode failed: %w", err)
	}
	return string(out), nil
}

// Decode parses data into a Message, validating its shape. reviver may
// be nil.
func Decode(data string, reviver Reviver) (Message, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Message{}, notJSON(err)
	}

	revived := revive("", raw, reviver)

	obj, ok := revived.(map[string]interface{})
	if !ok {
		return Message{}, invalidShape("message envelope must be a JSON object")
	}

	typeVal, ok := obj["type"]
	if !ok {
		return Message{}, invalidShape("message is missing required field \"type\"")
	}
	typeStr, ok := typeVal.(string)
	if !ok {
		return Message{}, invalidShape("message field \"type\" must be a string")
	}
	msgType := Type(typeStr)
	if !msgType.valid() {
		return Message{}, invalidShape("unknown message type %q", typeStr)
	}

	msg := Message{Type: msgType}

	if msgType.hasID() {
		idVal, ok := obj["id"]
		if !ok {
			return Message{}, invalidShape("message of type %q is missing required field \"id\"", typeStr)
		}
		idStr, ok := idVal.(string)
		if !ok || idStr == "" {
			return Message{}, invalidShape("message of type %q must carry a non-empty string \"id\"", typeStr)
		}
		msg.ID = idStr
	}

	payloadVal, hasPayload := obj["payload"]
	if msgType.requiresPayload() && !hasPayload {
		return Message{}, invalidShape("message of type %q is missing required field \"payload\"", typeStr)
	}
	if msgType == TypeError {
		list, ok := payloadVal.([]interface{})
		if !ok || len(list) == 0 {
			return Message{}, invalidShape("\"error\" message payload must be a non-empty list")
		}
	}
	if hasPayload {
		encoded, err := json.Marshal(payloadVal)
		if err != nil {
			return Message{}, invalidShape("message payload could not be re-encoded: %v", err)
		}
		msg.Payload = encoded
	}

	return msg, nil
}

func walk(key string, value interface{}, replacer Replacer) interface{} {
	if replacer != nil {
		value = replacer(key, value)
	}
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, vv := range v {
			out[k] = walk(k, vv, replacer)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, vv := range v {
			out[i] = walk(strconv.Itoa(i), vv, replacer)
		}
		return out
	default:
		return value
	}
}

func revive(key string, value interface{}, reviver Reviver) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, vv := range v {
			out[k] = revive(k, vv, reviver)
		}
		value = out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, vv := range v {
			out[i] = revive(strconv.Itoa(i), vv, reviver)
		}
		value = out
	}
	if reviver != nil {
		return reviver(key, value)
	}
	return value
}
