// Package marketdata aggregates the synthesized trade tape into OHLCV
// candles.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
)

// Aggregator collects trades and generates OHLCV candles. Prices are
// quote cents and volumes base satoshis, same fixed-point convention as
// the book engine.
type Aggregator struct {
	logger log.Logger
	db     database.Database

	// Open candle per interval, plus a bounded history of completed
	// candles, newest last.
	candles   map[Interval]*Candle
	history   map[Interval][]*Candle
	candlesMu sync.RWMutex

	// Trade buffer
	trades   []stampedTrade
	tradesMu sync.Mutex

	// Subscribers
	subscribers map[Interval][]chan *Candle
	subMu       sync.RWMutex

	totalTrades  atomic.Uint64
	totalCandles atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type stampedTrade struct {
	trade lob.Sale
	ts    time.Time
}

// Candle represents OHLCV data for one interval bucket.
type Candle struct {
	Interval   Interval  `json:"interval"`
	OpenTime   time.Time `json:"openTime"`
	CloseTime  time.Time `json:"closeTime"`
	Open       int64     `json:"open"`
	High       int64     `json:"high"`
	Low        int64     `json:"low"`
	Close      int64     `json:"close"`
	Volume     int64     `json:"volume"`
	BuyVolume  int64     `json:"buyVolume"`
	SellVolume int64     `json:"sellVolume"`
	Trades     int       `json:"trades"`
	Complete   bool      `json:"complete"`
}

// Interval represents a candle bucket width.
type Interval string

const (
	Interval1s Interval = "1s"
	Interval1m Interval = "1m"
	Interval5m Interval = "5m"
	Interval1h Interval = "1h"
	Interval1d Interval = "1d"
)

// historyDepth bounds the completed candles kept in memory per interval.
const historyDepth = 500

// Duration returns the time.Duration for an interval
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1s:
		return 1 * time.Second
	case Interval1m:
		return 1 * time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval1h:
		return 1 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 1 * time.Minute
	}
}

// AllIntervals returns all supported intervals
func AllIntervals() []Interval {
	return []Interval{Interval1s, Interval1m, Interval5m, Interval1h, Interval1d}
}

// NewAggregator creates a new market data aggregator
func NewAggregator(logger log.Logger, db database.Database) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Aggregator{
		logger:      logger,
		db:          db,
		candles:     make(map[Interval]*Candle),
		history:     make(map[Interval][]*Candle),
		trades:      make([]stampedTrade, 0, 1000),
		subscribers: make(map[Interval][]chan *Candle),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the aggregator
func (a *Aggregator) Start() error {
	for _, interval := range AllIntervals() {
		a.wg.Add(1)
		go a.generateCandles(interval)
	}

	a.wg.Add(1)
	go a.processTrades()

	a.logger.Info("market data aggregator started")
	return nil
}

// Stop shuts down the aggregator
func (a *Aggregator) Stop() {
	a.logger.Info("stopping market data aggregator")
	a.cancel()
	a.wg.Wait()
}

// AddTrade buffers a trade for aggregation. Trades are bucketed by
// arrival time; the feed does not timestamp individual fills.
func (a *Aggregator) AddTrade(trade lob.Sale) {
	a.AddTradeAt(trade, time.Now())
}

// AddTradeAt buffers a trade with an explicit timestamp.
func (a *Aggregator) AddTradeAt(trade lob.Sale, ts time.Time) {
	a.tradesMu.Lock()
	a.trades = append(a.trades, stampedTrade{trade: trade, ts: ts})
	a.tradesMu.Unlock()
	a.totalTrades.Add(1)
}

// processTrades processes buffered trades
func (a *Aggregator) processTrades() {
	defer a.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.ProcessBuffer()
		}
	}
}

// ProcessBuffer drains the trade buffer into the candles. Called on a
// timer once Start has run; exported so replay paths can flush
// synchronously.
func (a *Aggregator) ProcessBuffer() {
	a.tradesMu.Lock()
	if len(a.trades) == 0 {
		a.tradesMu.Unlock()
		return
	}

	trades := a.trades
	a.trades = make([]stampedTrade, 0, 1000)
	a.tradesMu.Unlock()

	for _, st := range trades {
		a.updateCandles(st.trade, st.ts)
	}
}

// updateCandles updates all interval candles with a trade
func (a *Aggregator) updateCandles(trade lob.Sale, ts time.Time) {
	a.candlesMu.Lock()
	defer a.candlesMu.Unlock()

	for _, interval := range AllIntervals() {
		candle := a.candles[interval]

		openTime := candleOpenTime(ts, interval)
		closeTime := openTime.Add(interval.Duration())

		if candle == nil || !candle.OpenTime.Equal(openTime) {
			if candle != nil && !candle.Complete {
				a.finishCandle(candle)
			}

			candle = &Candle{
				Interval:  interval,
				OpenTime:  openTime,
				CloseTime: closeTime,
				Open:      trade.Price,
				High:      trade.Price,
				Low:       trade.Price,
				Close:     trade.Price,
				Trades:    1,
			}
			a.applyVolume(candle, trade)
			a.candles[interval] = candle
			a.totalCandles.Add(1)
		} else {
			if trade.Price > candle.High {
				candle.High = trade.Price
			}
			if trade.Price < candle.Low {
				candle.Low = trade.Price
			}
			candle.Close = trade.Price
			candle.Trades++
			a.applyVolume(candle, trade)
		}
	}
}

func (a *Aggregator) applyVolume(candle *Candle, trade lob.Sale) {
	candle.Volume += trade.Amount
	if trade.Side == lob.Buy {
		candle.BuyVolume += trade.Amount
	} else {
		candle.SellVolume += trade.Amount
	}
}

// finishCandle marks a candle complete, records it and persists it.
// Callers hold candlesMu.
func (a *Aggregator) finishCandle(candle *Candle) {
	candle.Complete = true

	hist := append(a.history[candle.Interval], candle)
	if len(hist) > historyDepth {
		hist = hist[len(hist)-historyDepth:]
	}
	a.history[candle.Interval] = hist

	a.publishCandle(candle)
	a.storeCandle(candle)
}

// generateCandles closes out candles whose interval has elapsed.
func (a *Aggregator) generateCandles(interval Interval) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.completeCandles(interval)
		}
	}
}

// completeCandles marks candles as complete for an interval
func (a *Aggregator) completeCandles(interval Interval) {
	a.candlesMu.Lock()
	defer a.candlesMu.Unlock()

	candle := a.candles[interval]
	if candle != nil && !candle.Complete && time.Now().After(candle.CloseTime) {
		a.finishCandle(candle)
		delete(a.candles, interval)
	}
}

// candleOpenTime aligns a timestamp to its interval boundary.
func candleOpenTime(t time.Time, interval Interval) time.Time {
	intervalSeconds := int64(interval.Duration().Seconds())
	aligned := (t.Unix() / intervalSeconds) * intervalSeconds
	return time.Unix(aligned, 0).UTC()
}

// publishCandle publishes a completed candle to subscribers
func (a *Aggregator) publishCandle(candle *Candle) {
	a.subMu.RLock()
	subscribers := a.subscribers[candle.Interval]
	a.subMu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- candle:
		default:
			// Subscriber is not ready, skip
		}
	}
}

// storeCandle stores a candle in the database
func (a *Aggregator) storeCandle(candle *Candle) {
	key := fmt.Sprintf("candle:%s:%d", candle.Interval, candle.OpenTime.Unix())

	value, err := json.Marshal(candle)
	if err != nil {
		a.logger.Error("failed to marshal candle", "error", err)
		return
	}

	if err := a.db.Put([]byte(key), value); err != nil {
		a.logger.Error("failed to store candle", "error", err)
	}
}

// Subscribe subscribes to completed candles for an interval.
func (a *Aggregator) Subscribe(interval Interval) <-chan *Candle {
	ch := make(chan *Candle, 100)

	a.subMu.Lock()
	a.subscribers[interval] = append(a.subscribers[interval], ch)
	a.subMu.Unlock()

	return ch
}

// GetCandles returns up to limit completed candles, oldest first.
func (a *Aggregator) GetCandles(interval Interval, limit int) []*Candle {
	a.candlesMu.RLock()
	defer a.candlesMu.RUnlock()

	hist := a.history[interval]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]*Candle, len(hist))
	copy(out, hist)
	return out
}

// GetLatestCandle returns the open candle for an interval, if any.
func (a *Aggregator) GetLatestCandle(interval Interval) *Candle {
	a.candlesMu.RLock()
	defer a.candlesMu.RUnlock()
	return a.candles[interval]
}

// GetStats returns aggregator statistics
func (a *Aggregator) GetStats() map[string]interface{} {
	a.candlesMu.RLock()
	open := len(a.candles)
	a.candlesMu.RUnlock()

	return map[string]interface{}{
		"total_trades":  a.totalTrades.Load(),
		"total_candles": a.totalCandles.Load(),
		"open_candles":  open,
	}
}

// VolumeWeightedAveragePrice calculates VWAP in cents over recent
// completed candles using the typical price of each.
func (a *Aggregator) VolumeWeightedAveragePrice(interval Interval, periods int) int64 {
	candles := a.GetCandles(interval, periods)
	if len(candles) == 0 {
		return 0
	}

	var totalVolume, volumePrice int64
	for _, candle := range candles {
		typical := (candle.High + candle.Low + candle.Close) / 3
		volumePrice += typical * candle.Volume
		totalVolume += candle.Volume
	}

	if totalVolume == 0 {
		return 0
	}
	return volumePrice / totalVolume
}

// MovingAverage calculates the simple moving average of closes, in cents.
func (a *Aggregator) MovingAverage(interval Interval, periods int) int64 {
	candles := a.GetCandles(interval, periods)
	if len(candles) == 0 {
		return 0
	}

	var sum int64
	for _, candle := range candles {
		sum += candle.Close
	}
	return sum / int64(len(candles))
}
