package feed

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
)

// Consumer subscribes to a NATS subject carrying JSON events and pushes
// them into a Runner. NATS delivers messages from a single subscription
// sequentially, so ordering is preserved end to end.
type Consumer struct {
	nc  *nats.Conn
	sub *nats.Subscription
	log log.Logger

	// OnEvent, when set before Subscribe, observes every message after
	// processing. err is nil when the event was applied.
	OnEvent func(ev Event, err error)

	applied atomic.Uint64
	dropped atomic.Uint64
}

// NewConsumer connects to NATS. url may be nats.DefaultURL.
func NewConsumer(url, name string, logger log.Logger) (*Consumer, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Consumer{nc: nc, log: logger}, nil
}

// Subscribe starts consuming subject into runner.
func (c *Consumer) Subscribe(subject string, runner *Runner) error {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.dropped.Add(1)
			c.log.Warn("dropping malformed event", "subject", msg.Subject, "err", err)
			c.observe(ev, err)
			return
		}
		if err := runner.Apply(ev); err != nil {
			c.dropped.Add(1)
			c.log.Warn("dropping event", "id", ev.ID, "err", err)
			c.observe(ev, err)
			return
		}
		c.applied.Add(1)
		c.observe(ev, nil)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.sub = sub
	c.log.Info("subscribed", "subject", subject)
	return nil
}

func (c *Consumer) observe(ev Event, err error) {
	if c.OnEvent != nil {
		c.OnEvent(ev, err)
	}
}

// Applied returns the number of events applied so far.
func (c *Consumer) Applied() uint64 { return c.applied.Load() }

// Dropped returns the number of events rejected so far.
func (c *Consumer) Dropped() uint64 { return c.dropped.Load() }

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	c.nc.Close()
}
