package lob

// PendingOrder is a marketable limit order: one whose price crossed the
// opposing best at arrival. It stays pending until the opposing best
// moves past its limit price or the feed confirms it is done, at which
// point the filled volume (initial minus remaining) is finalized.
type PendingOrder struct {
	Order     OrderInfo
	Initial   int64
	Remaining int64
}

// pendingBook is an insertion-ordered external-id -> PendingOrder map.
// Insertion order matters: the oldest live entry supplies best-effort
// taker attribution for synthesized trades.
type pendingBook struct {
	byID  map[string]*PendingOrder
	order []string
}

func newPendingBook() *pendingBook {
	return &pendingBook{byID: make(map[string]*PendingOrder)}
}

func (p *pendingBook) Put(o OrderInfo) *PendingOrder {
	po := &PendingOrder{Order: o, Initial: o.Volume, Remaining: o.Volume}
	p.byID[o.ID] = po
	p.order = append(p.order, o.ID)
	return po
}

func (p *pendingBook) Get(id string) (*PendingOrder, bool) {
	po, ok := p.byID[id]
	return po, ok
}

func (p *pendingBook) Delete(id string) {
	delete(p.byID, id)
	p.compact()
}

func (p *pendingBook) Len() int { return len(p.byID) }

// compact drops leading tombstones and rebuilds the order slice when it
// has grown well past the live set.
func (p *pendingBook) compact() {
	for len(p.order) > 0 {
		if _, ok := p.byID[p.order[0]]; ok {
			break
		}
		p.order = p.order[1:]
	}
	if len(p.order) > 2*len(p.byID)+8 {
		live := p.order[:0]
		for _, id := range p.order {
			if _, ok := p.byID[id]; ok {
				live = append(live, id)
			}
		}
		p.order = live
	}
}

// FirstSeq returns the sequence id of the oldest live pending order, or
// 0 if none. This is the trade-attribution heuristic: when several
// marketable orders are outstanding the true aggressor cannot be
// recovered from the feed, so the oldest is charged.
func (p *pendingBook) FirstSeq() int64 {
	p.compact()
	if len(p.order) == 0 {
		return 0
	}
	return p.byID[p.order[0]].Order.Seq
}

// InOrder returns the live pending orders in insertion order.
func (p *pendingBook) InOrder() []*PendingOrder {
	out := make([]*PendingOrder, 0, len(p.byID))
	for _, id := range p.order {
		if po, ok := p.byID[id]; ok {
			out = append(out, po)
		}
	}
	return out
}

// OutstandingVolume sums the remaining volume of all live entries.
func (p *pendingBook) OutstandingVolume() int64 {
	var total int64
	for _, po := range p.byID {
		total += po.Remaining
	}
	return total
}
