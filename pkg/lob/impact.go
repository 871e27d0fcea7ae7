package lob

import "math"

// Impact estimates how a target volume would execute against one side
// of the book. Price is the deepest level the walk touched (the "tip"),
// VWAP the volume-weighted price over the walk, Filled how much of the
// request the side could absorb.
type Impact struct {
	Price  int64 `json:"price"`
	VWAP   int64 `json:"vwap"`
	Volume int64 `json:"volume"`
	Filled int64 `json:"filled"`
}

// MarketImpact walks a side from its best price, consuming levels in
// priority order until volume is exhausted or the side runs out.
func MarketImpact(s *BookSide, volume int64) Impact {
	im := Impact{Volume: volume}
	if volume <= 0 {
		return im
	}
	remaining := volume
	var vwapSum int64
	cur := s.best
	for cur != nilSlot && remaining > 0 {
		lvl := s.levels.at(cur)
		take := lvl.volume
		if take > remaining {
			take = remaining
		}
		vwapSum += take * lvl.price
		remaining -= take
		im.Price = lvl.price
		cur = lvl.worse
	}
	im.Filled = volume - remaining
	if im.Filled > 0 {
		im.VWAP = int64(math.Round(float64(vwapSum) / float64(im.Filled)))
	}
	return im
}
