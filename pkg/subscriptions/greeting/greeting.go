// Package greeting is a minimal producer.Factory that emits a fixed,
// finite greeting sequence then completes — the reference "smallest
// possible subscription" used by cmd/wsdemo.
package greeting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nasnet-community/subwire/internal/producer"
)

// Payload is a "subscribe" message's payload shape this factory
// expects: {"name": "..."}. An empty or missing name greets "World".
type Payload struct {
	Name string `json:"name"`
}

// Greeting is one emitted "next" payload.
type Greeting struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Factory builds Producers that greet Name exactly Count times before
// completing. Count defaults to 5 when zero.
type Factory struct {
	Count int
}

func (f Factory) Build(ctx context.Context, operationID string, payload json.RawMessage) (producer.Producer, error) {
	var p Payload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("greeting: invalid payload: %w", err)
		}
	}
	name := p.Name
	if name == "" {
		name = "World"
	}
	count := f.Count
	if count == 0 {
		count = 5
	}
	return &producerImpl{name: name, count: count, stop: make(chan struct{})}, nil
}

type producerImpl struct {
	name  string
	count int
	stop  chan struct{}
	once  sync.Once
}

func (p *producerImpl) Start(ctx context.Context, emit producer.Emit) (producer.ErrorPayload, error) {
	for i := 0; i < p.count; i++ {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-p.stop:
			return nil, nil
		default:
		}

		payload, err := json.Marshal(Greeting{Text: fmt.Sprintf("Hello, %s!", p.name), Index: i})
		if err != nil {
			return nil, err
		}
		if err := emit(ctx, payload); err != nil {
			return nil, nil
		}
	}
	return nil, nil
}

func (p *producerImpl) Stop() error {
	p.once.Do(func() { close(p.stop) })
	return nil
}
