// Package ticker is an infinite producer.Factory backed by
// internal/eventbus: each operation subscribes to a topic and forwards
// every bus message as a "next" payload until the client completes or
// the connection closes. Subscribing retries with exponential backoff
// (cenkalti/backoff/v4) so a transient bus hiccup doesn't fail the
// whole operation immediately.
package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"

	"github.com/nasnet-community/subwire/internal/eventbus"
	"github.com/nasnet-community/subwire/internal/producer"
)

// Payload is a "subscribe" message's payload shape: {"topic": "..."}.
type Payload struct {
	Topic string `json:"topic"`
}

// Tick is one forwarded event.
type Tick struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
	At    string          `json:"at"`
}

// Factory builds Producers that stream a Bus topic to the client.
type Factory struct {
	Bus *eventbus.Bus
}

func (f Factory) Build(ctx context.Context, operationID string, payload json.RawMessage) (producer.Producer, error) {
	var p Payload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("ticker: invalid payload: %w", err)
		}
	}
	if p.Topic == "" {
		return nil, fmt.Errorf("ticker: payload.topic is required")
	}
	return &producerImpl{bus: f.Bus, topic: p.Topic, cancel: func() {}}, nil
}

type producerImpl struct {
	bus    *eventbus.Bus
	topic  string
	once   sync.Once
	cancel context.CancelFunc
}

func (p *producerImpl) Start(ctx context.Context, emit producer.Emit) (producer.ErrorPayload, error) {
	opCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer cancel()

	var ch <-chan *message.Message
	subscribe := func() error {
		var err error
		ch, err = p.bus.Subscribe(opCtx, p.topic)
		return err
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), opCtx)
	if err := backoff.Retry(subscribe, bo); err != nil {
		return nil, fmt.Errorf("ticker: subscribing to %s: %w", p.topic, err)
	}

	for {
		select {
		case <-opCtx.Done():
			return nil, nil
		case msg, ok := <-ch:
			if !ok {
				return nil, nil
			}
			payload, err := json.Marshal(Tick{Topic: p.topic, Data: json.RawMessage(msg.Payload), At: time.Now().UTC().Format(time.RFC3339Nano)})
			if err != nil {
				msg.Ack()
				return nil, err
			}
			if err := emit(opCtx, payload); err != nil {
				msg.Ack()
				return nil, nil
			}
			msg.Ack()
		}
	}
}

func (p *producerImpl) Stop() error {
	p.once.Do(func() { p.cancel() })
	return nil
}
