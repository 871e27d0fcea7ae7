package lob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarketImpactWalk(t *testing.T) {
	s := askSide([2]int64{10000, 100_000_000}, [2]int64{10100, 200_000_000})

	// 2.0 consumes the first level and half the second.
	im := MarketImpact(s, 200_000_000)
	require.Equal(t, int64(10100), im.Price)
	require.Equal(t, int64(200_000_000), im.Filled)
	// (1.0*10000 + 1.0*10100) / 2.0
	require.Equal(t, int64(10050), im.VWAP)
}

func TestMarketImpactExhaustsSide(t *testing.T) {
	s := askSide([2]int64{10000, 100_000_000}, [2]int64{10100, 200_000_000})

	im := MarketImpact(s, 500_000_000)
	require.Equal(t, int64(300_000_000), im.Filled)
	require.Equal(t, int64(500_000_000), im.Volume)
	require.Equal(t, int64(10100), im.Price)
}

func TestMarketImpactSingleLevel(t *testing.T) {
	s := askSide([2]int64{10000, 100_000_000})
	im := MarketImpact(s, 50_000_000)
	require.Equal(t, int64(10000), im.Price)
	require.Equal(t, int64(10000), im.VWAP)
	require.Equal(t, int64(50_000_000), im.Filled)
}

func TestMarketImpactEmptyOrZero(t *testing.T) {
	s := NewBookSide(Sell, 16)
	im := MarketImpact(s, 100)
	require.Equal(t, int64(0), im.Filled)
	require.Equal(t, int64(0), im.Price)

	s.Insert(OrderInfo{ID: "a", Side: Sell, Price: 10000, Volume: 10})
	im = MarketImpact(s, 0)
	require.Equal(t, int64(0), im.Filled)
}
