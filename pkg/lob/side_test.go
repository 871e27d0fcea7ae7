package lob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func order(id string, seq int64, side Side, price, vol int64) OrderInfo {
	return OrderInfo{Source: "test", ID: id, Seq: seq, Side: side, Price: price, Volume: vol}
}

func TestSidePriceOrdering(t *testing.T) {
	bids := NewBookSide(Buy, 16)
	bids.Insert(order("a", 1, Buy, 10000, 10))
	bids.Insert(order("b", 2, Buy, 10200, 20))
	bids.Insert(order("c", 3, Buy, 9900, 30))
	bids.Insert(order("d", 4, Buy, 10100, 40))

	levels := bids.Levels(10)
	require.Len(t, levels, 4)
	require.Equal(t, []int64{10200, 10100, 10000, 9900},
		[]int64{levels[0].Price, levels[1].Price, levels[2].Price, levels[3].Price})

	asks := NewBookSide(Sell, 16)
	asks.Insert(order("a", 1, Sell, 10000, 10))
	asks.Insert(order("b", 2, Sell, 9900, 20))
	asks.Insert(order("c", 3, Sell, 10100, 30))

	best, ok := asks.BestPrice()
	require.True(t, ok)
	require.Equal(t, int64(9900), best)
}

func TestSideLevelAggregation(t *testing.T) {
	s := NewBookSide(Sell, 16)
	s.Insert(order("a", 1, Sell, 10000, 10))
	s.Insert(order("b", 2, Sell, 10000, 15))

	lvl, ok := s.BestLevel()
	require.True(t, ok)
	require.Equal(t, int64(25), lvl.Volume)
	require.Equal(t, int32(2), lvl.Orders)

	require.Equal(t, int64(10), s.Remove("a"))
	lvl, _ = s.BestLevel()
	require.Equal(t, int64(15), lvl.Volume)
	require.Equal(t, int32(1), lvl.Orders)

	require.Equal(t, int64(15), s.Remove("b"))
	_, ok = s.BestPrice()
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestSideInsertRejectsDuplicates(t *testing.T) {
	s := NewBookSide(Buy, 16)
	require.True(t, s.Insert(order("a", 1, Buy, 10000, 10)))
	require.False(t, s.Insert(order("a", 2, Buy, 10000, 25)))
	require.False(t, s.Insert(order("b", 3, Buy, 10000, 0)))
	require.Equal(t, 1, s.Len())
	require.Equal(t, int64(10), s.TotalVolume())
}

func TestSideRemoveUnknown(t *testing.T) {
	s := NewBookSide(Buy, 16)
	require.Equal(t, int64(-1), s.Remove("nope"))
}

func TestSideModifySemantics(t *testing.T) {
	s := NewBookSide(Buy, 16)

	// Unknown id: implicit insert, nothing removed.
	require.Equal(t, int64(0), s.Modify(order("a", 1, Buy, 10000, 10)))
	require.Equal(t, 1, s.Len())

	// Growth is a pure update.
	require.Equal(t, int64(0), s.Modify(order("a", 1, Buy, 10000, 14)))
	o, ok := s.Order("a")
	require.True(t, ok)
	require.Equal(t, int64(14), o.Volume)

	// Shrink returns the consumed volume.
	require.Equal(t, int64(5), s.Modify(order("a", 1, Buy, 10000, 9)))
	lvl, _ := s.BestLevel()
	require.Equal(t, int64(9), lvl.Volume)

	// Shrink to zero removes the order and poisons the id.
	require.Equal(t, int64(9), s.Modify(order("a", 1, Buy, 10000, 0)))
	require.Equal(t, 0, s.Len())
	require.True(t, s.IsDead("a"))
}

func TestSideSlotReuse(t *testing.T) {
	s := NewBookSide(Buy, 64)
	for i := 0; i < 50; i++ {
		s.Insert(order(string(rune('A'+i)), int64(i), Buy, int64(10000+i), 10))
	}
	for i := 0; i < 50; i++ {
		s.Remove(string(rune('A' + i)))
	}
	require.Equal(t, 0, s.Len())

	// Freed slots are recycled; the side behaves identically after churn.
	s.Insert(order("x", 100, Buy, 10050, 7))
	s.Insert(order("y", 101, Buy, 10075, 3))
	best, ok := s.BestPrice()
	require.True(t, ok)
	require.Equal(t, int64(10075), best)
	require.Equal(t, int64(10), s.TotalVolume())
}

func TestSideBestChangeNotification(t *testing.T) {
	s := NewBookSide(Sell, 16)
	var fired int
	s.onBestChanged = func(Side) { fired++ }

	s.Insert(order("a", 1, Sell, 10000, 10)) // empty -> best
	require.Equal(t, 1, fired)
	s.Insert(order("b", 2, Sell, 10100, 10)) // worse, no change
	require.Equal(t, 1, fired)
	s.Insert(order("c", 3, Sell, 9900, 10)) // new best
	require.Equal(t, 2, fired)
	s.Remove("b") // non-best level removed, no change
	require.Equal(t, 2, fired)
	s.Remove("c") // best level removed
	require.Equal(t, 3, fired)
}

func TestDeadSetBounded(t *testing.T) {
	d := newDeadSet(3)
	d.Add("a")
	d.Add("b")
	d.Add("c")
	require.True(t, d.Contains("a"))
	d.Add("d") // evicts the oldest
	require.False(t, d.Contains("a"))
	require.True(t, d.Contains("b"))
	require.True(t, d.Contains("d"))
	require.Equal(t, 3, d.Len())
}

func TestSideFIFOWithinLevel(t *testing.T) {
	s := NewBookSide(Sell, 16)
	s.Insert(order("first", 1, Sell, 10000, 1))
	s.Insert(order("second", 2, Sell, 10000, 2))
	s.Insert(order("third", 3, Sell, 10000, 3))

	lvl := s.levels.at(s.best)
	var ids []string
	for cur := lvl.head; cur != nilSlot; cur = s.orders.at(cur).next {
		ids = append(ids, s.orders.at(cur).order.ID)
	}
	require.Equal(t, []string{"first", "second", "third"}, ids)

	// Removing from the middle keeps the chain intact.
	s.Remove("second")
	ids = ids[:0]
	for cur := lvl.head; cur != nilSlot; cur = s.orders.at(cur).next {
		ids = append(ids, s.orders.at(cur).order.ID)
	}
	require.Equal(t, []string{"first", "third"}, ids)
}
