// Package feed adapts external order-lifecycle event streams to the
// book engine: a JSON wire format, a serializing runner (the engine is
// single-threaded by contract), a NATS consumer and a file replayer.
package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/bookd/pkg/lob"
	"github.com/shopspring/decimal"
)

// Event types on the wire.
const (
	TypeAdd = "add"
	TypeMod = "mod"
	TypeDel = "del"
)

// Event is one order-lifecycle message. Mod carries the order's new
// full price and volume, not deltas. Del with zero volume means the
// order was completely filled.
type Event struct {
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Side       lob.Side        `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	ExchangeTS time.Time       `json:"exchangeTs"`
	LocalTS    time.Time       `json:"localTs"`
}

// Runner serializes access to a single engine. All reads and writes go
// through its mutex; the engine itself stays lock-free.
type Runner struct {
	mu     sync.Mutex
	engine *lob.Engine
}

func NewRunner(engine *lob.Engine) *Runner {
	return &Runner{engine: engine}
}

// Apply routes one event into the engine.
func (r *Runner) Apply(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case TypeAdd:
		r.engine.AddOrder(ev.Source, ev.ID, ev.Seq, ev.Side, ev.ExchangeTS, ev.LocalTS, ev.Volume, ev.Price)
	case TypeMod:
		r.engine.ModOrder(ev.Source, ev.ID, ev.Seq, ev.Side, ev.ExchangeTS, ev.LocalTS, ev.Volume, ev.Price)
	case TypeDel:
		r.engine.DelOrder(ev.Source, ev.ID, ev.Seq, ev.Side, ev.ExchangeTS, ev.LocalTS, ev.Volume, ev.Price)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// State returns an engine state snapshot.
func (r *Runner) State() lob.BookState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.State()
}

// Depth returns up to n levels of one side in priority order.
func (r *Runner) Depth(side lob.Side, n int) []lob.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	if side == lob.Buy {
		return r.engine.Bids().Levels(n)
	}
	return r.engine.Asks().Levels(n)
}

// LastTrade returns the most recent synthesized trade.
func (r *Runner) LastTrade() (lob.Sale, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.LastTrade()
}

// Trades returns the trade tape, oldest first.
func (r *Runner) Trades() []lob.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.RecentTrades()
}

// Render draws the book as fixed-depth text.
func (r *Runner) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Render()
}
