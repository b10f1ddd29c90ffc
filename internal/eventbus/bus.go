// Package eventbus wraps watermill's in-memory gochannel pub/sub
// (grounded on the teacher's internal/events/bus.go) into the minimal
// topic-based surface the bundled demo producers need: publish a
// payload to a topic, subscribe to receive every future publish on it.
// Unlike the teacher's EventBus it carries no domain event taxonomy,
// priority queues, or persistence — those are router-specific features
// with no analogue in a payload-agnostic transport.
package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus is a topic-based in-memory publish/subscribe channel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New builds a Bus with the given output channel buffer size per
// subscription (watermill's gochannel.Config.OutputChannelBuffer).
func New(bufferSize int64) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            bufferSize,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		}, watermill.NewStdLogger(false, false)),
	}
}

// Publish sends payload to every current subscriber of topic. The bus
// is not persistent: subscribers that join later do not receive it.
func (b *Bus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of every message published to topic
// from this call onward. The channel closes when ctx is cancelled or
// the Bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe to %s: %w", topic, err)
	}
	return ch, nil
}

// Close releases every topic's resources. Safe to call once.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
