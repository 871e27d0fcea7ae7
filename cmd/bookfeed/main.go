// bookfeed publishes order-lifecycle events for bookd: either a
// recorded capture file or a synthetic random-walk stream. With no NATS
// URL it writes JSON lines to stdout, which makes capture files.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/luxfi/bookd/pkg/feed"
	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

type publisher interface {
	publish(ev feed.Event) error
	close()
}

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

func (p *natsPublisher) publish(ev feed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

func (p *natsPublisher) close() {
	p.nc.Flush()
	p.nc.Close()
}

type stdoutPublisher struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func newStdoutPublisher() *stdoutPublisher {
	w := bufio.NewWriter(os.Stdout)
	return &stdoutPublisher{w: w, enc: json.NewEncoder(w)}
}

func (p *stdoutPublisher) publish(ev feed.Event) error { return p.enc.Encode(ev) }
func (p *stdoutPublisher) close()                      { p.w.Flush() }

func main() {
	natsURL := flag.String("nats", "", "NATS server URL (empty writes to stdout)")
	subject := flag.String("subject", "book.events", "NATS subject")
	file := flag.String("file", "", "Publish a capture file instead of generating")
	rate := flag.Int("rate", 100, "Events per second")
	count := flag.Int("count", 10000, "Number of events to generate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	mid := flag.Float64("mid", 100.0, "Starting mid price")
	flag.Parse()

	logger := log.Root().New("module", "bookfeed")

	var pub publisher
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("bookfeed"))
		if err != nil {
			logger.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		pub = &natsPublisher{nc: nc, subject: *subject}
	} else {
		pub = newStdoutPublisher()
	}
	defer pub.close()

	var err error
	var published int
	if *file != "" {
		published, err = publishFile(pub, *file, *rate)
	} else {
		published, err = generate(pub, *rate, *count, *seed, *mid)
	}
	if err != nil {
		logger.Error("publish failed", "published", published, "error", err)
		os.Exit(1)
	}
	logger.Info("done", "published", published)
}

// publishFile replays a JSONL capture at the requested rate.
func publishFile(pub publisher, path string, rate int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	interval := time.Second / time.Duration(rate)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	published := 0
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev feed.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return published, fmt.Errorf("line %d: %w", published+1, err)
		}
		if err := pub.publish(ev); err != nil {
			return published, err
		}
		published++
		time.Sleep(interval)
	}
	return published, sc.Err()
}

// generate emits a synthetic lifecycle stream: adds around a drifting
// mid price, partial-fill modifies and deletes against live ids. The
// stream is self-consistent, so bookd can consume it directly.
func generate(pub publisher, rate, count int, seed int64, mid float64) (int, error) {
	rng := rand.New(rand.NewSource(seed))
	interval := time.Second / time.Duration(rate)

	type liveOrder struct {
		id     string
		side   lob.Side
		price  decimal.Decimal
		volume decimal.Decimal
	}
	var live []liveOrder
	seq := int64(0)

	newEvent := func(typ string, o liveOrder) feed.Event {
		seq++
		now := time.Now().UTC()
		return feed.Event{
			Type: typ, Source: "synthetic", ID: o.id, Seq: seq, Side: o.side,
			Price: o.price, Volume: o.volume,
			ExchangeTS: now, LocalTS: now,
		}
	}

	for i := 0; i < count; i++ {
		mid += (rng.Float64() - 0.5) * 0.1

		var ev feed.Event
		switch {
		case len(live) < 10 || rng.Float64() < 0.6:
			side := lob.Buy
			offset := -rng.Float64() * 2
			if rng.Intn(2) == 1 {
				side = lob.Sell
				offset = -offset
			}
			o := liveOrder{
				id:     fmt.Sprintf("syn-%d", seq+1),
				side:   side,
				price:  decimal.NewFromFloat(mid + offset).Round(2),
				volume: decimal.NewFromFloat(rng.Float64()*2 + 0.01).Round(8),
			}
			live = append(live, o)
			ev = newEvent(feed.TypeAdd, o)

		case rng.Float64() < 0.5:
			idx := rng.Intn(len(live))
			o := &live[idx]
			o.volume = o.volume.Mul(decimal.NewFromFloat(rng.Float64())).Round(8)
			ev = newEvent(feed.TypeMod, *o)

		default:
			idx := rng.Intn(len(live))
			o := live[idx]
			live = append(live[:idx], live[idx+1:]...)
			if rng.Float64() < 0.3 {
				o.volume = decimal.Zero // complete fill
			}
			ev = newEvent(feed.TypeDel, o)
		}

		if err := pub.publish(ev); err != nil {
			return i, err
		}
		time.Sleep(interval)
	}
	return count, nil
}
