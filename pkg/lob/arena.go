package lob

// The book's linked structures (price-adjacent levels, FIFO order
// queues) are stored in slot arenas addressed by stable int32 indexes
// with free-list reuse. Links are indexes, never pointers, so a splice
// can't leave a dangling reference behind.

const nilSlot = int32(-1)

// residentOrder is an OrderInfo resting in a BookSide. prev/next are
// FIFO siblings within the price level; head is consumed first.
type residentOrder struct {
	order      OrderInfo
	level      int32
	prev, next int32
	inUse      bool
}

// priceLevel aggregates the resident orders at one price. better/worse
// link price-adjacent levels; better points toward the best price.
type priceLevel struct {
	price         int64
	volume        int64
	orders        int32
	better, worse int32
	head, tail    int32
	inUse         bool
}

type orderArena struct {
	slots []residentOrder
	free  []int32
}

func (a *orderArena) alloc() int32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = residentOrder{level: nilSlot, prev: nilSlot, next: nilSlot, inUse: true}
		return idx
	}
	a.slots = append(a.slots, residentOrder{level: nilSlot, prev: nilSlot, next: nilSlot, inUse: true})
	return int32(len(a.slots) - 1)
}

func (a *orderArena) release(idx int32) {
	a.slots[idx].inUse = false
	a.free = append(a.free, idx)
}

func (a *orderArena) at(idx int32) *residentOrder { return &a.slots[idx] }

type levelArena struct {
	slots []priceLevel
	free  []int32
}

func (a *levelArena) alloc() int32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = priceLevel{better: nilSlot, worse: nilSlot, head: nilSlot, tail: nilSlot, inUse: true}
		return idx
	}
	a.slots = append(a.slots, priceLevel{better: nilSlot, worse: nilSlot, head: nilSlot, tail: nilSlot, inUse: true})
	return int32(len(a.slots) - 1)
}

func (a *levelArena) release(idx int32) {
	a.slots[idx].inUse = false
	a.free = append(a.free, idx)
}

func (a *levelArena) at(idx int32) *priceLevel { return &a.slots[idx] }

// deadSet remembers recently removed order ids so late or duplicate
// feed messages referencing them can be rejected. Bounded: once full,
// the oldest id is forgotten for each new one.
type deadSet struct {
	ids  map[string]struct{}
	ring []string
	head int
}

func newDeadSet(capacity int) *deadSet {
	return &deadSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (d *deadSet) Add(id string) {
	if _, ok := d.ids[id]; ok {
		return
	}
	if old := d.ring[d.head]; old != "" {
		delete(d.ids, old)
	}
	d.ring[d.head] = id
	d.head = (d.head + 1) % len(d.ring)
	d.ids[id] = struct{}{}
}

func (d *deadSet) Contains(id string) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *deadSet) Len() int { return len(d.ids) }
