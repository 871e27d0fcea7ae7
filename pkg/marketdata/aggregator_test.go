package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

// memDB is a minimal in-memory database.Database for tests.
type memDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemDB() *memDB {
	return &memDB{data: make(map[string][]byte)}
}

func (m *memDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return val, nil
}

func (m *memDB) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *memDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memDB) Close() error { return nil }

func (m *memDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memDB) Compact(start []byte, limit []byte) error { return nil }

func (m *memDB) NewBatch() database.Batch { return &memBatch{db: m} }

func (m *memDB) NewIterator() database.Iterator                            { return nil }
func (m *memDB) NewIteratorWithStart(start []byte) database.Iterator       { return nil }
func (m *memDB) NewIteratorWithPrefix(prefix []byte) database.Iterator     { return nil }
func (m *memDB) NewIteratorWithStartAndPrefix(s, p []byte) database.Iterator { return nil }

func (m *memDB) HealthCheck(ctx context.Context) (interface{}, error) {
	return map[string]interface{}{"type": "memDB"}, nil
}

type memBatch struct {
	db  *memDB
	ops []memOp
}

type memOp struct {
	delete bool
	key    []byte
	value  []byte
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: key, value: value})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{delete: true, key: key})
	return nil
}

func (b *memBatch) ValueSize() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.value)
	}
	return size
}

func (b *memBatch) Size() int {
	size := 0
	for _, op := range b.ops {
		size += len(op.key) + len(op.value)
	}
	return size
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *memBatch) Reset() { b.ops = b.ops[:0] }

func (b *memBatch) Replay(w database.KeyValueWriterDeleter) error {
	for _, op := range b.ops {
		if op.delete {
			if err := w.Delete(op.key); err != nil {
				return err
			}
		} else {
			if err := w.Put(op.key, op.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *memBatch) Inner() database.Batch { return b }

func testAggregator() (*Aggregator, *memDB) {
	db := newMemDB()
	return NewAggregator(log.Root().New("module", "test"), db), db
}

func TestCandleAggregation(t *testing.T) {
	a, _ := testAggregator()
	ts := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)

	a.AddTradeAt(lob.Sale{Price: 10000, Amount: 100, Side: lob.Buy}, ts)
	a.AddTradeAt(lob.Sale{Price: 10200, Amount: 50, Side: lob.Sell}, ts.Add(5*time.Second))
	a.AddTradeAt(lob.Sale{Price: 9900, Amount: 25, Side: lob.Buy}, ts.Add(10*time.Second))
	a.ProcessBuffer()

	c := a.GetLatestCandle(Interval1m)
	require.NotNil(t, c)
	require.Equal(t, int64(10000), c.Open)
	require.Equal(t, int64(10200), c.High)
	require.Equal(t, int64(9900), c.Low)
	require.Equal(t, int64(9900), c.Close)
	require.Equal(t, int64(175), c.Volume)
	require.Equal(t, int64(125), c.BuyVolume)
	require.Equal(t, int64(50), c.SellVolume)
	require.Equal(t, 3, c.Trades)
	require.False(t, c.Complete)
}

func TestCandleRollover(t *testing.T) {
	a, db := testAggregator()
	ts := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

	sub := a.Subscribe(Interval1m)

	a.AddTradeAt(lob.Sale{Price: 10000, Amount: 100, Side: lob.Buy}, ts)
	a.AddTradeAt(lob.Sale{Price: 10100, Amount: 100, Side: lob.Buy}, ts.Add(time.Minute))
	a.ProcessBuffer()

	// The first minute closed: it is in history, published and stored.
	hist := a.GetCandles(Interval1m, 10)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Complete)
	require.Equal(t, int64(10000), hist[0].Close)

	select {
	case c := <-sub:
		require.Equal(t, int64(10000), c.Open)
	default:
		t.Fatal("expected a published candle")
	}

	key := fmt.Sprintf("candle:1m:%d", hist[0].OpenTime.Unix())
	raw, err := db.Get([]byte(key))
	require.NoError(t, err)
	var stored Candle
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Equal(t, *hist[0], stored)

	open := a.GetLatestCandle(Interval1m)
	require.NotNil(t, open)
	require.Equal(t, int64(10100), open.Open)
}

func TestCandleOpenTimeAlignment(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC)
	require.Equal(t, time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC), candleOpenTime(ts, Interval1s))
	require.Equal(t, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC), candleOpenTime(ts, Interval1m))
	require.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), candleOpenTime(ts, Interval5m))
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), candleOpenTime(ts, Interval1h))
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), candleOpenTime(ts, Interval1d))
}

func TestStatsSafeDuringIngestion(t *testing.T) {
	a, _ := testAggregator()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			a.AddTrade(lob.Sale{Price: 10000, Amount: 1, Side: lob.Buy})
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			a.ProcessBuffer()
			stats := a.GetStats()
			require.Equal(t, uint64(1000), stats["total_trades"])
			return
		default:
			a.GetStats()
		}
	}
}

func TestIndicators(t *testing.T) {
	a, _ := testAggregator()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Three closed 1m candles at 100.00, 101.00, 102.00.
	for i := 0; i < 4; i++ {
		price := int64(10000 + 100*i)
		a.AddTradeAt(lob.Sale{Price: price, Amount: 10, Side: lob.Buy}, base.Add(time.Duration(i)*time.Minute))
	}
	a.ProcessBuffer()

	require.Equal(t, int64(10100), a.MovingAverage(Interval1m, 3))
	require.Equal(t, int64(10100), a.VolumeWeightedAveragePrice(Interval1m, 3))
	require.Equal(t, int64(0), a.MovingAverage(Interval1h, 3))
}
