package ticker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasnet-community/subwire/internal/eventbus"
)

func TestForwardsPublishedTicks(t *testing.T) {
	bus := eventbus.New(8)
	defer bus.Close()

	f := Factory{Bus: bus}
	p, err := f.Build(context.Background(), "op1", json.RawMessage(`{"topic":"room-1"}`))
	require.NoError(t, err)

	received := make(chan Tick, 1)
	go func() {
		_, _ = p.Start(context.Background(), func(ctx context.Context, payload json.RawMessage) error {
			var tick Tick
			_ = json.Unmarshal(payload, &tick)
			received <- tick
			return p.Stop()
		})
	}()

	time.Sleep(50 * time.Millisecond) // let the producer's Subscribe register
	require.NoError(t, bus.Publish("room-1", []byte(`"hi"`)))

	select {
	case tick := <-received:
		assert.Equal(t, "room-1", tick.Topic)
		assert.JSONEq(t, `"hi"`, string(tick.Data))
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded tick")
	}
}

func TestMissingTopicRejected(t *testing.T) {
	f := Factory{Bus: eventbus.New(8)}
	_, err := f.Build(context.Background(), "op1", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestStopEndsStart(t *testing.T) {
	bus := eventbus.New(8)
	defer bus.Close()

	f := Factory{Bus: bus}
	p, err := f.Build(context.Background(), "op1", json.RawMessage(`{"topic":"idle"}`))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = p.Start(context.Background(), func(ctx context.Context, payload json.RawMessage) error { return nil })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after Stop")
	}
}
