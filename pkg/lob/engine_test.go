package lob

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testTS = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine() *Engine { return NewEngine(Config{}) }

func add(e *Engine, id string, seq int64, side Side, vol, price string) {
	e.AddOrder("test", id, seq, side, testTS, testTS, dec(vol), dec(price))
}

func mod(e *Engine, id string, seq int64, side Side, vol, price string) {
	e.ModOrder("test", id, seq, side, testTS, testTS, dec(vol), dec(price))
}

func del(e *Engine, id string, seq int64, side Side, vol, price string) {
	e.DelOrder("test", id, seq, side, testTS, testTS, dec(vol), dec(price))
}

func TestRestingVsPendingClassification(t *testing.T) {
	e := newTestEngine()

	add(e, "A", 1, Buy, "1.0", "100.00")
	st := e.State()
	require.Equal(t, 1, st.TotalBids)
	require.Equal(t, int64(100_000_000), st.TotalBidVol)
	require.NotNil(t, st.BestBid)
	require.Equal(t, int64(10000), st.BestBid.Price)

	// A sell priced through the bid does not rest: it goes pending.
	add(e, "B", 2, Sell, "0.5", "99.00")
	st = e.State()
	require.Equal(t, 0, st.TotalAsks)
	require.Equal(t, 1, st.MOActiveSells)
	require.Equal(t, int64(50_000_000), st.MOOutstandingSellVolume)
	require.Nil(t, st.BestAsk)
}

func TestVolumeReductionSynthesizesTrade(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "B", 2, Sell, "0.5", "99.00")

	var sales []Sale
	e.cfg.OnSale = func(s Sale) { sales = append(sales, s) }

	mod(e, "A", 1, Buy, "0.5", "100.00")

	require.Len(t, sales, 1)
	require.Equal(t, int64(10000), sales[0].Price)
	require.Equal(t, int64(50_000_000), sales[0].Amount)
	require.Equal(t, Sell, sales[0].Side)
	require.Equal(t, int64(2), sales[0].TakerSeq)
	require.Equal(t, int64(1), sales[0].MakerSeq)

	st := e.State()
	require.Equal(t, 1, st.TradeSell.Count)
	require.Equal(t, int64(50_000_000), st.TradeSell.Volume)
	require.Equal(t, 0, st.TradeBuy.Count)
	require.Equal(t, int64(50_000_000), st.TotalBidVol)
	require.Equal(t, 1, st.TotalBids)
	require.Equal(t, int64(10000), st.HighestPrice)
	require.Equal(t, int64(10000), st.LowestPrice)
}

func TestDeleteCompleteFillVsCancel(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "B", 2, Buy, "2.0", "99.00")

	// Zero volume on delete marks a complete fill: a trade.
	del(e, "A", 3, Buy, "0", "100.00")
	st := e.State()
	require.Equal(t, 1, st.TradeSell.Count)
	require.Equal(t, int64(100_000_000), st.TradeSell.Volume)
	require.Equal(t, 0, st.CancelBid.Count)

	// Nonzero volume is a cancel.
	del(e, "B", 4, Buy, "2.0", "99.00")
	st = e.State()
	require.Equal(t, 1, st.CancelBid.Count)
	require.Equal(t, int64(200_000_000), st.CancelBid.Volume)
	require.Equal(t, 0, st.TotalBids)
	require.Equal(t, int64(0), st.TotalBidVol)
}

func TestDuplicateAddForLiveOrderIgnored(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "S", 2, Sell, "2.0", "101.00")
	ev := e.State().Event

	// Replayed add events for ids still resting in the book must not
	// touch the aggregates.
	add(e, "A", 3, Buy, "1.0", "100.00")
	add(e, "S", 4, Sell, "2.0", "101.00")

	st := e.State()
	require.Equal(t, ev, st.Event)
	require.Equal(t, 1, st.TotalBids)
	require.Equal(t, 1, st.TotalAsks)
	require.Equal(t, int64(100_000_000), st.TotalBidVol)
	require.Equal(t, int64(200_000_000), st.TotalAskVol)
	require.Equal(t, e.bids.Len(), st.TotalBids)
	require.Equal(t, e.asks.Len(), st.TotalAsks)
	require.Equal(t, e.bids.TotalVolume(), st.TotalBidVol)
	require.Equal(t, e.asks.TotalVolume(), st.TotalAskVol)
}

func TestStaleMessagesAfterDeleteIgnored(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	del(e, "A", 2, Buy, "1.0", "100.00")
	ev := e.State().Event

	// The feed sometimes replays lifecycle messages for removed ids.
	add(e, "A", 3, Buy, "1.0", "100.00")
	mod(e, "A", 3, Buy, "0.5", "100.00")
	st := e.State()
	require.Equal(t, ev, st.Event)
	require.Equal(t, 0, st.TotalBids)
}

func TestPendingFinalizationOnUncross(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "B", 2, Sell, "1.0", "99.00") // pending, crossing the bid

	// Partial fill while pending: remaining drops to 0.4.
	mod(e, "B", 2, Sell, "0.4", "99.00")
	st := e.State()
	require.Equal(t, 1, st.MOActiveSells)
	require.Equal(t, int64(40_000_000), st.MOOutstandingSellVolume)

	// The bid disappears: the book uncrosses and B is finalized, its
	// leftover resting on the ask side.
	del(e, "A", 3, Buy, "0", "100.00")
	st = e.State()
	require.Equal(t, 0, st.MOActiveSells)
	require.Equal(t, int64(0), st.MOOutstandingSellVolume)
	require.Equal(t, 1, st.FilledSell.Count)
	require.Equal(t, int64(60_000_000), st.FilledSell.Volume)
	require.Equal(t, 1, st.TotalAsks)
	require.Equal(t, int64(40_000_000), st.TotalAskVol)
	require.NotNil(t, st.BestAsk)
	require.Equal(t, int64(9900), st.BestAsk.Price)
}

func TestUnfilledPendingStaysPending(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "B", 2, Sell, "1.0", "99.00")

	// No fills observed for B yet; uncrossing must not finalize it.
	del(e, "A", 3, Buy, "1.0", "100.00")
	st := e.State()
	require.Equal(t, 1, st.MOActiveSells)
	require.Equal(t, 0, st.FilledSell.Count)
	require.Equal(t, 1, e.PendingCount(Sell))
}

func TestInstantPriceMove(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")

	mod(e, "A", 2, Buy, "1.0", "101.00")
	st := e.State()
	require.Equal(t, 1, st.TotalBids)
	require.Equal(t, int64(100_000_000), st.TotalBidVol)
	require.Equal(t, int64(10100), st.BestBid.Price)
	require.Equal(t, 1, e.bids.Len())
}

func TestInstantMoveIntoCross(t *testing.T) {
	e := newTestEngine()
	add(e, "S", 1, Sell, "1.0", "100.00")
	add(e, "A", 2, Buy, "1.0", "99.00")

	// Price move through the ask: the moved order becomes pending,
	// and a later duplicate add for the same id is not double counted.
	mod(e, "A", 3, Buy, "1.0", "100.00")
	st := e.State()
	require.Equal(t, 0, st.TotalBids)
	require.Equal(t, 1, st.MOActiveBuys)

	e.buyPending.Delete("A")
	e.state.MOActiveBuys--
	e.state.MOOutstandingBuyVolume = 0
	add(e, "A", 4, Buy, "1.0", "100.00")
	require.Equal(t, 0, e.State().MOActiveBuys)
}

func TestOutOfOrderModifyPromotes(t *testing.T) {
	e := newTestEngine()
	add(e, "S", 1, Sell, "1.0", "100.00")

	// Modify for an id never seen, priced through the ask.
	mod(e, "X", 2, Buy, "1.0", "101.00")
	st := e.State()
	require.Equal(t, 1, st.MOActiveBuys)
	require.Equal(t, int64(100_000_000), st.MOOutstandingBuyVolume)
	require.Equal(t, 0, st.TotalBids)
}

func TestOutOfOrderModifyImplicitInsert(t *testing.T) {
	e := newTestEngine()
	mod(e, "X", 1, Buy, "1.0", "100.00")
	st := e.State()
	require.Equal(t, 1, st.TotalBids)
	require.Equal(t, int64(100_000_000), st.TotalBidVol)
}

func TestSellPriceCeiling(t *testing.T) {
	e := newTestEngine()
	add(e, "S", 1, Sell, "1.0", "10000.00")
	st := e.State()
	require.Equal(t, uint64(0), st.Event)
	require.Equal(t, 0, st.TotalAsks)

	e2 := NewEngine(Config{SellPriceCeiling: 2_000_000})
	e2.AddOrder("test", "S", 1, Sell, testTS, testTS, dec("1.0"), dec("10000.00"))
	require.Equal(t, 1, e2.State().TotalAsks)
}

func TestOrphanedOrdersPruned(t *testing.T) {
	e := newTestEngine()
	add(e, "S1", 1, Sell, "1.0", "100.00")
	add(e, "S5", 5, Sell, "1.0", "100.00")

	// A complete fill at a price above the ask best implies every
	// older order at the best was already consumed upstream.
	del(e, "S5", 6, Sell, "0", "101.00")
	st := e.State()
	require.Equal(t, 0, st.TotalAsks)
	require.Equal(t, int64(0), st.TotalAskVol)
	require.Equal(t, 0, e.asks.Len())
	require.True(t, e.asks.IsDead("S1"))
}

func TestStateSnapshotIndependence(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	st := e.State()
	add(e, "B", 2, Buy, "1.0", "101.00")
	require.Equal(t, int64(10000), st.BestBid.Price)
	require.Equal(t, int64(10100), e.State().BestBid.Price)
}

func TestLastTradeAndTape(t *testing.T) {
	e := newTestEngine()
	_, ok := e.LastTrade()
	require.False(t, ok)

	add(e, "A", 1, Buy, "1.0", "100.00")
	del(e, "A", 2, Buy, "0", "100.00")

	last, ok := e.LastTrade()
	require.True(t, ok)
	require.Equal(t, int64(100_000_000), last.Amount)
	require.Len(t, e.RecentTrades(), 1)
	st := e.State()
	require.NotNil(t, st.LastTrade)
	require.Equal(t, last, *st.LastTrade)
}

func TestHooksFire(t *testing.T) {
	e := newTestEngine()
	var fills []FilledOrder
	var cancels []Cancel
	e.cfg.OnFill = func(f FilledOrder) { fills = append(fills, f) }
	e.cfg.OnCancel = func(c Cancel) { cancels = append(cancels, c) }

	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "B", 2, Sell, "0.5", "99.00")
	del(e, "B", 3, Sell, "0", "99.00") // pending order confirmed done
	del(e, "A", 4, Buy, "1.0", "100.00")

	require.Len(t, fills, 1)
	require.Equal(t, "B", fills[0].ID)
	require.Equal(t, int64(50_000_000), fills[0].Filled)
	require.Len(t, cancels, 1)
	require.Equal(t, "A", cancels[0].ID)
}

func TestRenderShowsBook(t *testing.T) {
	e := newTestEngine()
	add(e, "A", 1, Buy, "1.0", "100.00")
	add(e, "S", 2, Sell, "2.0", "101.00")
	del(e, "A", 3, Buy, "0", "100.00")

	out := e.Render()
	require.Contains(t, out, "$101.00")
	require.Contains(t, out, "2.00000000")
	require.Contains(t, out, "sell 1.00000000 @ $100.00")
}
