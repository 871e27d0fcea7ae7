// bookd reconstructs a venue's limit order book from an order-lifecycle
// event feed and serves the result over JSON-RPC, WebSocket and
// Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/luxfi/bookd/pkg/api"
	"github.com/luxfi/bookd/pkg/feed"
	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/bookd/pkg/marketdata"
	"github.com/luxfi/bookd/pkg/metrics"
	"github.com/luxfi/bookd/pkg/websocket"
	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

// Config holds the daemon configuration.
type Config struct {
	DataDir     string
	HTTPPort    int
	NATSUrl     string
	NATSSubject string
	ReplayFile  string

	SellPriceCeiling string
	ImpactVolume     string

	BroadcastInterval time.Duration
}

func parseFlags() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.DataDir, "data-dir", ".bookd", "Data directory (relative to $HOME)")
	flag.IntVar(&cfg.HTTPPort, "http-port", 8080, "HTTP port for RPC, WebSocket and metrics")
	flag.StringVar(&cfg.NATSUrl, "nats-url", "", "NATS server URL (empty disables the live feed)")
	flag.StringVar(&cfg.NATSSubject, "nats-subject", "book.events", "NATS subject carrying order events")
	flag.StringVar(&cfg.ReplayFile, "replay", "", "Replay a capture file before serving")
	flag.StringVar(&cfg.SellPriceCeiling, "sell-ceiling", "10000.00", "Drop sell orders at or above this price")
	flag.StringVar(&cfg.ImpactVolume, "impact-volume", "50", "Base volume for market-impact snapshots")
	flag.DurationVar(&cfg.BroadcastInterval, "broadcast-interval", time.Second, "Book broadcast and gauge refresh period")
	flag.Parse()
	return cfg
}

func openDatabase(dataDir string, logger log.Logger) (database.Database, error) {
	dataPath := filepath.Join(os.Getenv("HOME"), dataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "bookd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open badgerdb, falling back to memory", "error", err)
		db, err = dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		return db, nil
	}
	logger.Info("badgerdb initialized", "path", filepath.Join(dataPath, "badgerdb"))
	return db, nil
}

func run() error {
	cfg := parseFlags()
	logger := log.Root().New("module", "bookd")

	ceiling, err := decimal.NewFromString(cfg.SellPriceCeiling)
	if err != nil {
		return fmt.Errorf("invalid -sell-ceiling: %w", err)
	}
	impact, err := decimal.NewFromString(cfg.ImpactVolume)
	if err != nil {
		return fmt.Errorf("invalid -impact-volume: %w", err)
	}

	db, err := openDatabase(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := metrics.New("bookd")
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	aggregator := marketdata.NewAggregator(log.Root().New("module", "marketdata"), db)
	if err := aggregator.Start(); err != nil {
		return fmt.Errorf("failed to start aggregator: %w", err)
	}
	defer aggregator.Stop()

	var runner *feed.Runner
	var ws *websocket.Server

	engineCfg := lob.Config{
		SellPriceCeiling: lob.ToCents(ceiling),
		ImpactVolume:     lob.ToSats(impact),
		Logger:           log.Root().New("module", "lob"),
		OnSale: func(s lob.Sale) {
			m.RecordTrade(s.Side)
			aggregator.AddTrade(s)
			if ws != nil {
				ws.BroadcastTrade(s)
			}
		},
		OnCancel: func(c lob.Cancel) {
			m.RecordCancel(c.Side)
			if ws != nil {
				ws.BroadcastCancel(c)
			}
		},
		OnFill: func(f lob.FilledOrder) {
			m.RecordFill(f.Side)
			if ws != nil {
				ws.BroadcastFill(f)
			}
		},
	}
	runner = feed.NewRunner(lob.NewEngine(engineCfg))

	if cfg.ReplayFile != "" {
		replayer := feed.NewReplayer(runner, log.Root().New("module", "replay"))
		n, err := replayer.ReplayFile(cfg.ReplayFile)
		if err != nil {
			return fmt.Errorf("replay failed after %d events: %w", n, err)
		}
	}

	ws = websocket.NewServer(runner, log.Root().New("module", "websocket"))
	ws.Start()
	defer ws.Stop()

	var consumer *feed.Consumer
	if cfg.NATSUrl != "" {
		url := cfg.NATSUrl
		if url == "nats" {
			url = nats.DefaultURL
		}
		consumer, err = feed.NewConsumer(url, "bookd", log.Root().New("module", "feed"))
		if err != nil {
			return err
		}
		defer consumer.Close()
		consumer.OnEvent = func(ev feed.Event, err error) {
			m.RecordFeedMessage(err != nil)
			if err == nil {
				m.RecordEvent(ev.Type)
			}
		}
		if err := consumer.Subscribe(cfg.NATSSubject, runner); err != nil {
			return err
		}
	}

	rpc := api.NewJSONRPCServer(runner, log.Root().New("module", "api"))

	mux := http.NewServeMux()
	mux.Handle("/rpc", rpc)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ws", ws.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","event":%d}`, runner.State().Event)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.CollectSystemMetrics(ctx)

	// Periodic gauge refresh and book broadcast.
	go func() {
		ticker := time.NewTicker(cfg.BroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ObserveState(runner.State())
				ws.BroadcastBook()
			}
		}
	}()

	go func() {
		logger.Info("http server starting", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if consumer != nil {
		logger.Info("feed totals", "applied", consumer.Applied(), "dropped", consumer.Dropped())
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bookd:", err)
		os.Exit(1)
	}
}
