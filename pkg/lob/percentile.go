package lob

import "math"

// Percentile is one VWAP band at a fixed fractional distance from the
// best price. Bands with no levels are left nil.
type Percentile struct {
	VWAP   int64 `json:"vwap"`
	Orders int   `json:"orders"`
	Levels int   `json:"levels"`
	Volume int64 `json:"volume"`
}

// PercentileBands walks a side from its best price outward, bucketing
// levels into bands of stepSize fractional distance from best. A level
// belongs to band ceil(|best-price|/best / stepSize) - 1; a band is
// finalized when the walk crosses into a higher one, and the band in
// progress is flushed when the side is exhausted. The walk stops once
// the band index reaches steps.
func PercentileBands(s *BookSide, stepSize float64, steps int) []*Percentile {
	bands := make([]*Percentile, steps)
	cur := s.best
	if cur == nilSlot || stepSize <= 0 || steps <= 0 {
		return bands
	}
	bestPrice := s.levels.at(cur).price

	var orders, levelCount int
	var vwapSum, volume int64
	i := 0

	flush := func(idx int) {
		if volume > 0 {
			bands[idx] = &Percentile{
				VWAP:   int64(math.Round(float64(vwapSum) / float64(volume))),
				Orders: orders,
				Levels: levelCount,
				Volume: volume,
			}
		}
	}

	for cur != nilSlot {
		lvl := s.levels.at(cur)
		pct := math.Abs(float64(bestPrice-lvl.price)) / float64(bestPrice)
		j := int(math.Ceil(pct/stepSize)) - 1
		if j > i {
			flush(i)
			if j >= steps {
				return bands
			}
			orders, levelCount = 0, 0
			vwapSum, volume = 0, 0
			i = j
		}
		vwapSum += lvl.volume * lvl.price
		volume += lvl.volume
		orders += int(lvl.orders)
		levelCount++
		cur = lvl.worse
	}
	flush(i)
	return bands
}
