package lob

// WindowEntry is anything a RollingWindow can aggregate by side and
// volume: sales, cancels, filled marketable orders.
type WindowEntry interface {
	WindowSide() Side
	WindowVolume() int64
}

// WindowCapacity is the fixed size of every rolling window.
const WindowCapacity = 100

// WindowStats are the running aggregates for one side of a window.
type WindowStats struct {
	Count  int   `json:"count"`
	Volume int64 `json:"volume"`
	Max    int64 `json:"max"`
}

// RollingWindow keeps the most recent WindowCapacity entries in a
// circular buffer with per-side count/volume/max aggregates maintained
// incrementally. Count and volume are decremented symmetrically for
// both sides on eviction.
type RollingWindow[T WindowEntry] struct {
	buf   []T
	head  int
	size  int
	stats [2]WindowStats
}

func NewRollingWindow[T WindowEntry]() *RollingWindow[T] {
	return &RollingWindow[T]{buf: make([]T, WindowCapacity)}
}

// Add appends an entry, evicting the oldest if the window is full.
func (w *RollingWindow[T]) Add(item T) {
	if w.size == len(w.buf) {
		w.evict()
	}
	w.buf[(w.head+w.size)%len(w.buf)] = item
	w.size++

	st := &w.stats[item.WindowSide()]
	st.Count++
	v := item.WindowVolume()
	st.Volume += v
	if v > st.Max {
		st.Max = v
	}
}

func (w *RollingWindow[T]) evict() {
	item := w.buf[w.head]
	w.head = (w.head + 1) % len(w.buf)
	w.size--

	side := item.WindowSide()
	st := &w.stats[side]
	st.Count--
	v := item.WindowVolume()
	st.Volume -= v
	if v == st.Max {
		// The evicted entry may have held the running max; rescan the
		// bounded window for that side.
		st.Max = w.maxOf(side)
	}
}

func (w *RollingWindow[T]) maxOf(side Side) int64 {
	var max int64
	for i := 0; i < w.size; i++ {
		item := w.buf[(w.head+i)%len(w.buf)]
		if item.WindowSide() != side {
			continue
		}
		if v := item.WindowVolume(); v > max {
			max = v
		}
	}
	return max
}

// Stats returns the running aggregates for one side.
func (w *RollingWindow[T]) Stats(side Side) WindowStats { return w.stats[side] }

// Len returns the number of entries currently held.
func (w *RollingWindow[T]) Len() int { return w.size }

// Items returns the window contents, oldest first.
func (w *RollingWindow[T]) Items() []T {
	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Last returns the most recent entry.
func (w *RollingWindow[T]) Last() (T, bool) {
	var zero T
	if w.size == 0 {
		return zero, false
	}
	return w.buf[(w.head+w.size-1)%len(w.buf)], true
}
