// Package metrics exports book reconstruction metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for one book daemon.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	eventsProcessed *prometheus.CounterVec
	tradesObserved  *prometheus.CounterVec
	cancelsObserved *prometheus.CounterVec
	fillsObserved   *prometheus.CounterVec

	bookOrders    *prometheus.GaugeVec
	bookVolume    *prometheus.GaugeVec
	bestPrice     *prometheus.GaugeVec
	pendingOrders *prometheus.GaugeVec
	spread        prometheus.Gauge

	feedReceived prometheus.Counter
	feedDropped  prometheus.Counter

	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

// New creates the metric set under a namespace.
func New(namespace string) (*Metrics, error) {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Feed events processed, by type",
		}, []string{"type"}),

		tradesObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_observed_total",
			Help:      "Trades synthesized from the feed, by aggressor side",
		}, []string{"side"}),

		cancelsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_observed_total",
			Help:      "Cancels observed, by side",
		}, []string{"side"}),

		fillsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketable_fills_total",
			Help:      "Marketable orders finalized, by side",
		}, []string{"side"}),

		bookOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_orders",
			Help:      "Resting orders in the book, by side",
		}, []string{"side"}),

		bookVolume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_volume_sats",
			Help:      "Resting volume in the book in satoshis, by side",
		}, []string{"side"}),

		bestPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_price_cents",
			Help:      "Best price in cents, by side",
		}, []string{"side"}),

		pendingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_marketable_orders",
			Help:      "Marketable orders awaiting finalization, by side",
		}, []string{"side"}),

		spread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spread_cents",
			Help:      "Bid-ask spread in cents",
		}),

		feedReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_received_total",
			Help:      "Feed messages received",
		}),

		feedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_dropped_total",
			Help:      "Feed messages dropped as malformed or stale",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.eventsProcessed,
		m.tradesObserved,
		m.cancelsObserved,
		m.fillsObserved,
		m.bookOrders,
		m.bookVolume,
		m.bestPrice,
		m.pendingOrders,
		m.spread,
		m.feedReceived,
		m.feedDropped,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("metrics initialized", "namespace", namespace)
	return m, nil
}

// Handler returns the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent records a processed feed event.
func (m *Metrics) RecordEvent(eventType string) {
	m.eventsProcessed.WithLabelValues(eventType).Inc()
}

// RecordTrade records a synthesized trade.
func (m *Metrics) RecordTrade(side lob.Side) {
	m.tradesObserved.WithLabelValues(side.String()).Inc()
}

// RecordCancel records an observed cancel.
func (m *Metrics) RecordCancel(side lob.Side) {
	m.cancelsObserved.WithLabelValues(side.String()).Inc()
}

// RecordFill records a finalized marketable order.
func (m *Metrics) RecordFill(side lob.Side) {
	m.fillsObserved.WithLabelValues(side.String()).Inc()
}

// RecordFeedMessage records feed intake.
func (m *Metrics) RecordFeedMessage(dropped bool) {
	m.feedReceived.Inc()
	if dropped {
		m.feedDropped.Inc()
	}
}

// ObserveState refreshes the book gauges from a state snapshot.
func (m *Metrics) ObserveState(st lob.BookState) {
	m.bookOrders.WithLabelValues("buy").Set(float64(st.TotalBids))
	m.bookOrders.WithLabelValues("sell").Set(float64(st.TotalAsks))
	m.bookVolume.WithLabelValues("buy").Set(float64(st.TotalBidVol))
	m.bookVolume.WithLabelValues("sell").Set(float64(st.TotalAskVol))
	m.pendingOrders.WithLabelValues("buy").Set(float64(st.MOActiveBuys))
	m.pendingOrders.WithLabelValues("sell").Set(float64(st.MOActiveSells))

	if st.BestBid != nil {
		m.bestPrice.WithLabelValues("buy").Set(float64(st.BestBid.Price))
	}
	if st.BestAsk != nil {
		m.bestPrice.WithLabelValues("sell").Set(float64(st.BestAsk.Price))
	}
	if st.BestBid != nil && st.BestAsk != nil {
		m.spread.Set(float64(st.BestAsk.Price - st.BestBid.Price))
	}
}

// CollectSystemMetrics samples runtime stats until ctx is cancelled.
func (m *Metrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
