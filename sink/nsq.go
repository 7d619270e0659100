package sink

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
	"i4.energy/across/smsrx/modem"
)

// publisher is the part of *nsq.Producer the sink uses.
type publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQ publishes the JSON Envelope of every message to an NSQ topic.
type NSQ struct {
	p     publisher
	topic string
}

// NewNSQ connects a producer to the nsqd at addr.
func NewNSQ(addr, topic string) (*NSQ, error) {
	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, err
	}
	return &NSQ{p: p, topic: topic}, nil
}

// Deliver publishes synchronously. go-nsq has no context support, ctx
// is only checked before publishing.
func (n *NSQ) Deliver(ctx context.Context, msg *modem.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.p.Publish(n.topic, body); err != nil {
		return fmt.Errorf("nsq: publish %s: %w", n.topic, err)
	}
	return nil
}

func (n *NSQ) Close() error {
	if n.p != nil {
		n.p.Stop()
	}
	return nil
}
