package lob

// BookSide owns every price level and resident order on one half of the
// book. Bids are ordered by descending price, asks ascending. Best-price
// changes are reported through onBestChanged, which must only record the
// fact (the engine drains a queue after the mutation completes); it must
// not mutate the side re-entrantly.
type BookSide struct {
	side    Side
	orders  orderArena
	levels  levelArena
	index   map[string]int32 // external id -> order slot
	byPrice map[int64]int32  // price -> level slot
	best    int32
	dead    *deadSet

	onBestChanged func(Side)
}

// Level is a read-only snapshot of one price level.
type Level struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Orders int32 `json:"orders"`
}

// NewBookSide creates an empty side. deadWindow bounds the number of
// recently removed ids retained for stale-message rejection.
func NewBookSide(side Side, deadWindow int) *BookSide {
	return &BookSide{
		side:    side,
		index:   make(map[string]int32),
		byPrice: make(map[int64]int32),
		best:    nilSlot,
		dead:    newDeadSet(deadWindow),
	}
}

// closer reports whether price a has higher priority than b on this side.
func (s *BookSide) closer(a, b int64) bool {
	if s.side == Buy {
		return a > b
	}
	return a < b
}

func (s *BookSide) notifyBest() {
	if s.onBestChanged != nil {
		s.onBestChanged(s.side)
	}
}

// Insert places a new resting order at its price level, creating and
// linking the level if needed. Reports whether the order was actually
// inserted: duplicate ids and non-positive volumes are rejected, and
// the caller must not account for them.
func (s *BookSide) Insert(o OrderInfo) bool {
	if o.Volume <= 0 {
		return false
	}
	if _, ok := s.index[o.ID]; ok {
		return false
	}
	lvlIdx, ok := s.byPrice[o.Price]
	if !ok {
		lvlIdx = s.insertLevel(o.Price)
	}
	oIdx := s.orders.alloc()
	ro := s.orders.at(oIdx)
	ro.order = o
	ro.level = lvlIdx

	lvl := s.levels.at(lvlIdx)
	if lvl.tail == nilSlot {
		lvl.head = oIdx
		lvl.tail = oIdx
	} else {
		s.orders.at(lvl.tail).next = oIdx
		ro.prev = lvl.tail
		lvl.tail = oIdx
	}
	lvl.volume += o.Volume
	lvl.orders++
	s.index[o.ID] = oIdx
	return true
}

// insertLevel allocates a level for price and links it into price order,
// firing the best-changed notification if it becomes the new best.
func (s *BookSide) insertLevel(price int64) int32 {
	idx := s.levels.alloc()
	s.levels.at(idx).price = price
	s.byPrice[price] = idx

	if s.best == nilSlot {
		s.best = idx
		s.notifyBest()
		return idx
	}
	if s.closer(price, s.levels.at(s.best).price) {
		s.levels.at(idx).worse = s.best
		s.levels.at(s.best).better = idx
		s.best = idx
		s.notifyBest()
		return idx
	}
	cur := s.best
	for {
		curLvl := s.levels.at(cur)
		next := curLvl.worse
		if next == nilSlot {
			curLvl.worse = idx
			s.levels.at(idx).better = cur
			return idx
		}
		if s.closer(price, s.levels.at(next).price) {
			s.levels.at(idx).worse = next
			s.levels.at(idx).better = cur
			curLvl.worse = idx
			s.levels.at(next).better = idx
			return idx
		}
		cur = next
	}
}

// removeLevel splices an empty level out of the price chain.
func (s *BookSide) removeLevel(idx int32) {
	lvl := s.levels.at(idx)
	if lvl.better != nilSlot {
		s.levels.at(lvl.better).worse = lvl.worse
	}
	if lvl.worse != nilSlot {
		s.levels.at(lvl.worse).better = lvl.better
	}
	wasBest := s.best == idx
	if wasBest {
		s.best = lvl.worse
	}
	delete(s.byPrice, lvl.price)
	s.levels.release(idx)
	if wasBest {
		s.notifyBest()
	}
}

// removeOrderSlot unlinks a resident order, splicing its level if it
// becomes empty, and returns the removed volume.
func (s *BookSide) removeOrderSlot(oIdx int32) int64 {
	ro := s.orders.at(oIdx)
	lvlIdx := ro.level
	lvl := s.levels.at(lvlIdx)

	if ro.prev != nilSlot {
		s.orders.at(ro.prev).next = ro.next
	} else {
		lvl.head = ro.next
	}
	if ro.next != nilSlot {
		s.orders.at(ro.next).prev = ro.prev
	} else {
		lvl.tail = ro.prev
	}

	vol := ro.order.Volume
	lvl.volume -= vol
	lvl.orders--
	delete(s.index, ro.order.ID)
	s.orders.release(oIdx)

	if lvl.orders == 0 {
		s.removeLevel(lvlIdx)
	}
	return vol
}

// Remove deletes a resident order by id and returns its remaining
// volume, or -1 if the id is unknown.
func (s *BookSide) Remove(id string) int64 {
	oIdx, ok := s.index[id]
	if !ok {
		return -1
	}
	return s.removeOrderSlot(oIdx)
}

// Modify applies a full-value update to a resident order. An unknown id
// is treated as an implicit insert (returns 0). A volume increase or
// no-op is a pure update (returns 0). A volume decrease is immediate
// consumption by an opposing marketable order: the removed volume is
// returned so the caller can synthesize a trade. An order driven to
// zero volume is fully removed and its id marked dead.
func (s *BookSide) Modify(o OrderInfo) int64 {
	oIdx, ok := s.index[o.ID]
	if !ok {
		s.Insert(o)
		return 0
	}
	ro := s.orders.at(oIdx)
	delta := ro.order.Volume - o.Volume
	if delta <= 0 {
		s.levels.at(ro.level).volume += -delta
		ro.order.Volume = o.Volume
		return 0
	}
	if o.Volume == 0 {
		s.removeOrderSlot(oIdx)
		s.dead.Add(o.ID)
		return delta
	}
	ro.order.Volume = o.Volume
	s.levels.at(ro.level).volume -= delta
	return delta
}

// Order returns a copy of a resident order's current info.
func (s *BookSide) Order(id string) (OrderInfo, bool) {
	oIdx, ok := s.index[id]
	if !ok {
		return OrderInfo{}, false
	}
	return s.orders.at(oIdx).order, true
}

// BestPrice returns the best price on this side, if any level exists.
func (s *BookSide) BestPrice() (int64, bool) {
	if s.best == nilSlot {
		return 0, false
	}
	return s.levels.at(s.best).price, true
}

// BestLevel returns a snapshot of the best level.
func (s *BookSide) BestLevel() (Level, bool) {
	if s.best == nilSlot {
		return Level{}, false
	}
	lvl := s.levels.at(s.best)
	return Level{Price: lvl.price, Volume: lvl.volume, Orders: lvl.orders}, true
}

// Levels returns up to n level snapshots in priority order.
func (s *BookSide) Levels(n int) []Level {
	out := make([]Level, 0, n)
	cur := s.best
	for cur != nilSlot && len(out) < n {
		lvl := s.levels.at(cur)
		out = append(out, Level{Price: lvl.price, Volume: lvl.volume, Orders: lvl.orders})
		cur = lvl.worse
	}
	return out
}

// Len returns the number of resident orders.
func (s *BookSide) Len() int { return len(s.index) }

// TotalVolume walks the level chain and sums resident volume. Used by
// consistency checks; the incremental aggregates are authoritative.
func (s *BookSide) TotalVolume() int64 {
	var total int64
	cur := s.best
	for cur != nilSlot {
		lvl := s.levels.at(cur)
		total += lvl.volume
		cur = lvl.worse
	}
	return total
}

// MarkDead records id in the stale-message rejection set.
func (s *BookSide) MarkDead(id string) { s.dead.Add(id) }

// IsDead reports whether id was recently removed.
func (s *BookSide) IsDead(id string) bool { return s.dead.Contains(id) }
