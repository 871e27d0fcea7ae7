package lob

import (
	"math"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
)

// Config tunes an Engine. Zero values fall back to defaults.
type Config struct {
	// SellPriceCeiling drops sell orders priced at or above this many
	// cents before any other processing. Known-bad feed data filter.
	SellPriceCeiling int64

	// ImpactVolume is the fixed satoshi quantity used for the static
	// market-impact snapshots in BookState.
	ImpactVolume int64

	// Percentile band geometry: fractional distance from best per band
	// and number of bands.
	PercentileStep  float64
	PercentileSteps int

	// DeadIDWindow bounds the per-side set of recently removed ids.
	DeadIDWindow int

	Logger log.Logger

	// Hooks fire synchronously after the engine has finished its own
	// bookkeeping for the record. They must not call back into the
	// ingestion API.
	OnSale   func(Sale)
	OnCancel func(Cancel)
	OnFill   func(FilledOrder)
}

// DefaultConfig mirrors the venue defaults: sells priced >= 10,000.00
// quote units are noise, impact is quoted for 50 base units.
func DefaultConfig() Config {
	return Config{
		SellPriceCeiling: 1_000_000,
		ImpactVolume:     50 * 100_000_000,
		PercentileStep:   0.05,
		PercentileSteps:  20,
		DeadIDWindow:     4096,
	}
}

// Engine reconstructs one instrument's book. All methods must be called
// from a single goroutine (or behind external serialization): state is
// deliberately unsynchronized.
type Engine struct {
	cfg Config
	log log.Logger

	bids *BookSide
	asks *BookSide

	buyPending  *pendingBook
	sellPending *pendingBook

	filled  *RollingWindow[FilledOrder]
	trades  *RollingWindow[Sale]
	cancels *RollingWindow[Cancel]

	// Orders seen doing an in-place price move. Later duplicate events
	// for these ids must not be counted as fresh marketable orders.
	instant [2]map[string]struct{}

	state BookState

	// Best-change work queue: sides enqueue, the engine drains after
	// every top-level mutation. Keeps cascading pending-order
	// finalization iterative instead of re-entrant.
	bestQueue []Side
}

// NewEngine creates an engine for a single instrument.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.SellPriceCeiling == 0 {
		cfg.SellPriceCeiling = def.SellPriceCeiling
	}
	if cfg.ImpactVolume == 0 {
		cfg.ImpactVolume = def.ImpactVolume
	}
	if cfg.PercentileStep == 0 {
		cfg.PercentileStep = def.PercentileStep
	}
	if cfg.PercentileSteps == 0 {
		cfg.PercentileSteps = def.PercentileSteps
	}
	if cfg.DeadIDWindow == 0 {
		cfg.DeadIDWindow = def.DeadIDWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root().New("module", "lob")
	}

	e := &Engine{
		cfg:         cfg,
		log:         cfg.Logger,
		bids:        NewBookSide(Buy, cfg.DeadIDWindow),
		asks:        NewBookSide(Sell, cfg.DeadIDWindow),
		buyPending:  newPendingBook(),
		sellPending: newPendingBook(),
		filled:      NewRollingWindow[FilledOrder](),
		trades:      NewRollingWindow[Sale](),
		cancels:     NewRollingWindow[Cancel](),
	}
	e.instant[Buy] = make(map[string]struct{})
	e.instant[Sell] = make(map[string]struct{})
	e.bids.onBestChanged = e.enqueueBestChange
	e.asks.onBestChanged = e.enqueueBestChange
	return e
}

// AddOrder ingests a new-order event. Crossing orders become pending
// marketable orders; the rest rest in the book.
func (e *Engine) AddOrder(source, id string, seq int64, side Side, exchangeTS, localTS time.Time, volume, price decimal.Decimal) {
	e.addOrder(e.orderInfo(source, id, seq, side, exchangeTS, localTS, volume, price), false)
	e.drainBestChanges()
}

// ModOrder ingests a modify event carrying the order's new full price
// and volume (not deltas).
func (e *Engine) ModOrder(source, id string, seq int64, side Side, exchangeTS, localTS time.Time, volume, price decimal.Decimal) {
	e.modOrder(e.orderInfo(source, id, seq, side, exchangeTS, localTS, volume, price))
	e.drainBestChanges()
}

// DelOrder ingests a delete event. volume == 0 marks a complete fill;
// a nonzero volume marks a cancel or post-partial-fill removal.
func (e *Engine) DelOrder(source, id string, seq int64, side Side, exchangeTS, localTS time.Time, volume, price decimal.Decimal) {
	e.delOrder(e.orderInfo(source, id, seq, side, exchangeTS, localTS, volume, price), volume.IsZero())
	e.drainBestChanges()
}

func (e *Engine) orderInfo(source, id string, seq int64, side Side, exchangeTS, localTS time.Time, volume, price decimal.Decimal) OrderInfo {
	return OrderInfo{
		Source:     source,
		ID:         id,
		Seq:        seq,
		Side:       side,
		ExchangeTS: exchangeTS,
		LocalTS:    localTS,
		Price:      ToCents(price),
		Volume:     ToSats(volume),
	}
}

func (e *Engine) side(s Side) *BookSide {
	if s == Buy {
		return e.bids
	}
	return e.asks
}

func (e *Engine) pendingFor(s Side) *pendingBook {
	if s == Buy {
		return e.buyPending
	}
	return e.sellPending
}

// crosses reports whether an order's price crosses the opposing best.
func (e *Engine) crosses(o OrderInfo) bool {
	if o.Side == Buy {
		best, ok := e.asks.BestPrice()
		return ok && best <= o.Price
	}
	best, ok := e.bids.BestPrice()
	return ok && best >= o.Price
}

func (e *Engine) touch() {
	e.state.TS = time.Now()
}

func (e *Engine) enqueueBestChange(side Side) {
	e.bestQueue = append(e.bestQueue, side)
}

// drainBestChanges re-tests pending marketable orders whenever the side
// they are eating into moved its best price. Finalization can insert
// leftovers back into the book and cascade; the queue makes the
// cascade iterative and its ordering deterministic.
func (e *Engine) drainBestChanges() {
	for len(e.bestQueue) > 0 {
		changed := e.bestQueue[0]
		e.bestQueue = e.bestQueue[1:]

		// Ask best moved: buy-side pendings may be done, and vice versa.
		pending := e.sellPending
		if changed == Sell {
			pending = e.buyPending
		}
		for _, po := range pending.InOrder() {
			if e.finalizePending(po) {
				pending.Delete(po.Order.ID)
			}
		}
	}
}

func (e *Engine) addOrder(o OrderInfo, priceMove bool) {
	if o.Volume <= 0 || o.Price <= 0 {
		e.log.Debug("dropping degenerate add", "id", o.ID, "price", o.Price, "volume", o.Volume)
		return
	}
	if o.Side == Sell && o.Price >= e.cfg.SellPriceCeiling {
		e.log.Debug("dropping sell above price ceiling", "id", o.ID, "price", o.Price)
		return
	}
	own := e.side(o.Side)
	if own.IsDead(o.ID) {
		return
	}

	if e.crosses(o) {
		pending := e.pendingFor(o.Side)
		if _, ok := pending.Get(o.ID); ok {
			return // already tracked, stale duplicate
		}
		if !priceMove && e.isInstant(o.Side, o.ID) {
			// A finished instant order must not be re-counted as a
			// fresh marketable order.
			return
		}
		pending.Put(o)
		e.state.Event++
		e.touch()
		if o.Side == Buy {
			e.state.MOActiveBuys++
			e.state.MOOutstandingBuyVolume += o.Volume
			e.state.MOBuyTip = e.pendingTip(Buy)
		} else {
			e.state.MOActiveSells++
			e.state.MOOutstandingSellVolume += o.Volume
			e.state.MOSellTip = e.pendingTip(Sell)
		}
		return
	}

	if !own.Insert(o) {
		return // duplicate event for a still-live id
	}
	e.state.Event++
	e.touch()
	if o.Side == Buy {
		e.state.TotalBids++
		e.state.TotalBidVol += o.Volume
		e.refreshBidStats()
	} else {
		e.state.TotalAsks++
		e.state.TotalAskVol += o.Volume
		e.refreshAskStats()
	}
}

func (e *Engine) modOrder(o OrderInfo) {
	own := e.side(o.Side)
	if own.IsDead(o.ID) {
		return
	}

	if existing, ok := own.Order(o.ID); ok && existing.Price != o.Price {
		// In-place price move: some venues move an order instead of
		// cancel+replace. Decompose into remove + re-add.
		e.markInstant(o.Side, o.ID)
		removed := own.Remove(o.ID)
		if removed > 0 {
			if o.Side == Buy {
				e.state.TotalBids--
				e.state.TotalBidVol -= removed
				e.refreshBidStats()
			} else {
				e.state.TotalAsks--
				e.state.TotalAskVol -= removed
				e.refreshAskStats()
			}
		}
		e.addOrder(o, true)
		return
	}

	pending := e.pendingFor(o.Side)
	if po, ok := pending.Get(o.ID); ok {
		// Volume can only shrink while pending; anything else is stale.
		if po.Remaining > o.Volume {
			delta := po.Remaining - o.Volume
			po.Remaining = o.Volume
			if o.Side == Buy {
				e.state.MOOutstandingBuyVolume -= delta
			} else {
				e.state.MOOutstandingSellVolume -= delta
			}
			e.state.Event++
			e.touch()
			if e.finalizePending(po) {
				pending.Delete(o.ID)
			}
		}
		return
	}

	if o.Volume > 0 && e.crosses(o) {
		// Out-of-order arrival: the new-order event for this id has
		// not been seen yet, only this modify. Promote to pending.
		pending.Put(o)
		e.state.Event++
		e.touch()
		if o.Side == Buy {
			e.state.MOActiveBuys++
			e.state.MOOutstandingBuyVolume += o.Volume
			e.state.MOBuyTip = e.pendingTip(Buy)
		} else {
			e.state.MOActiveSells++
			e.state.MOOutstandingSellVolume += o.Volume
			e.state.MOSellTip = e.pendingTip(Sell)
		}
		return
	}

	existing, existedBefore := own.Order(o.ID)
	if !existedBefore && o.Volume <= 0 {
		return
	}
	removed := own.Modify(o)
	if removed == 0 {
		e.state.Event++
		e.touch()
		if !existedBefore {
			// Implicit insert: modify for an id we never saw rest.
			if o.Side == Buy {
				e.state.TotalBids++
				e.state.TotalBidVol += o.Volume
				e.refreshBidStats()
			} else {
				e.state.TotalAsks++
				e.state.TotalAskVol += o.Volume
				e.refreshAskStats()
			}
		} else if growth := o.Volume - existing.Volume; growth > 0 {
			if o.Side == Buy {
				e.state.TotalBidVol += growth
				e.refreshBidStats()
			} else {
				e.state.TotalAskVol += growth
				e.refreshAskStats()
			}
		}
		return
	}

	// A resting order on this side shrank: immediate partial
	// consumption by a marketable order on the other side.
	if _, live := own.Order(o.ID); !live {
		// Fully consumed and removed by Modify.
		if o.Side == Buy {
			e.state.TotalBids--
		} else {
			e.state.TotalAsks--
		}
	}
	e.addSale(Sale{
		Price:    o.Price,
		Amount:   removed,
		Side:     o.Side.Opposite(),
		TakerSeq: e.pendingFor(o.Side.Opposite()).FirstSeq(),
		MakerSeq: o.Seq,
	})
}

func (e *Engine) delOrder(o OrderInfo, completeFill bool) {
	own := e.side(o.Side)
	own.MarkDead(o.ID)
	e.clearInstant(o.Side, o.ID)
	e.touch()

	pending := e.pendingFor(o.Side)
	if po, ok := pending.Get(o.ID); ok {
		pending.Delete(o.ID)
		unfilled := po.Remaining
		if completeFill {
			unfilled = 0
		}
		if o.Side == Buy {
			e.state.MOActiveBuys--
			e.state.MOOutstandingBuyVolume -= po.Remaining
		} else {
			e.state.MOActiveSells--
			e.state.MOOutstandingSellVolume -= po.Remaining
		}
		e.addFilled(FilledOrder{
			ID:     po.Order.ID,
			Seq:    po.Order.Seq,
			Side:   o.Side,
			Filled: po.Initial - unfilled,
		})
		return
	}

	removed := own.Remove(o.ID)
	if removed <= 0 {
		return // unknown id: stale delete
	}
	if completeFill {
		e.addSale(Sale{
			Price:    o.Price,
			Amount:   removed,
			Side:     o.Side.Opposite(),
			TakerSeq: e.pendingFor(o.Side.Opposite()).FirstSeq(),
			MakerSeq: o.Seq,
		})
	} else {
		e.addCancel(Cancel{ID: o.ID, Side: o.Side, Amount: removed})
	}
	if o.Side == Buy {
		e.state.TotalBids--
	} else {
		e.state.TotalAsks--
	}
}

// finalizePending checks whether a pending marketable order is done:
// the opposing best has moved past its limit price. Any unfilled
// leftover is inserted into its own side as a resting order. Returns
// true when the entry should be dropped from the pending map; an order
// that never filled stays pending (its fills may still be in flight).
func (e *Engine) finalizePending(po *PendingOrder) bool {
	o := po.Order
	if o.Side == Buy {
		limit := int64(math.MaxInt64)
		if best, ok := e.asks.BestPrice(); ok {
			limit = best
		}
		if o.Price >= limit {
			return false // still crossing
		}
	} else {
		var limit int64
		if best, ok := e.bids.BestPrice(); ok {
			limit = best
		}
		if o.Price <= limit {
			return false
		}
	}

	unfilled := po.Remaining
	filledVol := po.Initial - unfilled
	if filledVol == 0 {
		return false
	}

	if unfilled > 0 {
		leftover := o
		leftover.Volume = unfilled
		own := e.side(o.Side)
		own.Modify(leftover) // unknown id: inserts as resting order
		if o.Side == Buy {
			e.state.TotalBids++
			e.state.TotalBidVol += unfilled
		} else {
			e.state.TotalAsks++
			e.state.TotalAskVol += unfilled
		}
	}
	if o.Side == Buy {
		e.state.MOActiveBuys--
		e.state.MOOutstandingBuyVolume -= unfilled
	} else {
		e.state.MOActiveSells--
		e.state.MOOutstandingSellVolume -= unfilled
	}
	e.addFilled(FilledOrder{ID: o.ID, Seq: o.Seq, Side: o.Side, Filled: filledVol})
	return true
}

func (e *Engine) pendingTip(side Side) int64 {
	if side == Buy {
		return MarketImpact(e.asks, e.state.MOOutstandingBuyVolume).Price
	}
	return MarketImpact(e.bids, e.state.MOOutstandingSellVolume).Price
}

func (e *Engine) addFilled(f FilledOrder) {
	e.filled.Add(f)
	e.state.FilledBuy = e.filled.Stats(Buy)
	e.state.FilledSell = e.filled.Stats(Sell)
	if f.Side == Buy {
		e.state.TotalMOBuys++
		e.state.TotalMOBuyVol += f.Filled
		if e.state.MOActiveBuys == 0 {
			e.state.MOBuyTip = 0
		} else {
			e.state.MOBuyTip = e.pendingTip(Buy)
		}
	} else {
		e.state.TotalMOSells++
		e.state.TotalMOSellVol += f.Filled
		if e.state.MOActiveSells == 0 {
			e.state.MOSellTip = 0
		} else {
			e.state.MOSellTip = e.pendingTip(Sell)
		}
	}
	if e.cfg.OnFill != nil {
		e.cfg.OnFill(f)
	}
}

// addSale records a synthesized trade: window and price extrema
// updates, consumed-side volume adjustment, orphan reconciliation and
// statistic refresh for the consumed side.
func (e *Engine) addSale(s Sale) {
	if s.Price > e.state.HighestPrice {
		e.state.HighestPrice = s.Price
	}
	if e.state.LowestPrice == 0 || s.Price < e.state.LowestPrice {
		e.state.LowestPrice = s.Price
	}

	e.trades.Add(s)
	e.state.TradeBuy = e.trades.Stats(Buy)
	e.state.TradeSell = e.trades.Stats(Sell)

	if s.Side == Buy {
		e.state.TotalAskVol -= s.Amount
		e.pruneOrphans(s, e.asks)
		e.refreshAskStats()
	} else {
		e.state.TotalBidVol -= s.Amount
		e.pruneOrphans(s, e.bids)
		e.refreshBidStats()
	}

	e.state.Event++
	e.touch()
	e.state.LastTrade = &s
	if e.cfg.OnSale != nil {
		e.cfg.OnSale(s)
	}
}

// pruneOrphans drops resident orders at the consumed side's best level
// whose sequence ids predate the sale's maker: the exchange already
// consumed them, their removal messages just haven't arrived.
func (e *Engine) pruneOrphans(s Sale, side *BookSide) {
	if side.best == nilSlot {
		return
	}
	bestPrice := side.levels.at(side.best).price
	if side.side == Sell {
		if s.Price <= bestPrice {
			return
		}
	} else {
		if s.Price >= bestPrice {
			return
		}
	}

	var orphanedVol int64
	var orphanedCount int
	cur := side.levels.at(side.best).head
	for cur != nilSlot {
		next := side.orders.at(cur).next
		o := side.orders.at(cur).order
		if o.Seq < s.MakerSeq {
			orphanedVol += side.Remove(o.ID)
			side.MarkDead(o.ID)
			orphanedCount++
		}
		cur = next
	}
	if orphanedCount == 0 {
		return
	}
	e.log.Warn("removed orphaned orders", "side", side.side, "count", orphanedCount, "volume", orphanedVol)
	if side.side == Sell {
		e.state.TotalAskVol -= orphanedVol
		e.state.TotalAsks -= orphanedCount
	} else {
		e.state.TotalBidVol -= orphanedVol
		e.state.TotalBids -= orphanedCount
	}
}

func (e *Engine) addCancel(c Cancel) {
	e.cancels.Add(c)
	e.state.CancelBid = e.cancels.Stats(Buy)
	e.state.CancelAsk = e.cancels.Stats(Sell)

	if c.Side == Buy {
		e.state.TotalBidVol -= c.Amount
		e.refreshBidStats()
	} else {
		e.state.TotalAskVol -= c.Amount
		e.refreshAskStats()
	}

	e.state.Event++
	e.touch()
	if e.cfg.OnCancel != nil {
		e.cfg.OnCancel(c)
	}
}

func (e *Engine) refreshBidStats() {
	e.state.BidPercentile = PercentileBands(e.bids, e.cfg.PercentileStep, e.cfg.PercentileSteps)
	e.state.SellImpact = MarketImpact(e.bids, e.cfg.ImpactVolume)
}

func (e *Engine) refreshAskStats() {
	e.state.AskPercentile = PercentileBands(e.asks, e.cfg.PercentileStep, e.cfg.PercentileSteps)
	e.state.BuyImpact = MarketImpact(e.asks, e.cfg.ImpactVolume)
}

func (e *Engine) markInstant(side Side, id string) {
	e.instant[side][id] = struct{}{}
}

func (e *Engine) isInstant(side Side, id string) bool {
	_, ok := e.instant[side][id]
	return ok
}

func (e *Engine) clearInstant(side Side, id string) {
	delete(e.instant[side], id)
}

// State returns a snapshot of the aggregate book state with the best
// level summaries refreshed.
func (e *Engine) State() BookState {
	st := e.state
	if lvl, ok := e.bids.BestLevel(); ok {
		st.BestBid = &LevelSummary{Price: lvl.Price, Volume: lvl.Volume, Orders: lvl.Orders}
	}
	if lvl, ok := e.asks.BestLevel(); ok {
		st.BestAsk = &LevelSummary{Price: lvl.Price, Volume: lvl.Volume, Orders: lvl.Orders}
	}
	return st
}

// Bids returns the buy side for depth-of-book queries.
func (e *Engine) Bids() *BookSide { return e.bids }

// Asks returns the sell side for depth-of-book queries.
func (e *Engine) Asks() *BookSide { return e.asks }

// LastTrade returns the most recent synthesized trade.
func (e *Engine) LastTrade() (Sale, bool) {
	return e.trades.Last()
}

// RecentTrades returns the trade tape, oldest first.
func (e *Engine) RecentTrades() []Sale { return e.trades.Items() }

// RecentCancels returns the cancel tape, oldest first.
func (e *Engine) RecentCancels() []Cancel { return e.cancels.Items() }

// PendingCount returns the number of pending marketable orders on a side.
func (e *Engine) PendingCount(side Side) int { return e.pendingFor(side).Len() }
