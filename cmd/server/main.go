package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"realmsync.ai/internal/arena"
	"realmsync.ai/internal/config"
	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path (defaults are used when the file is missing)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		seed       = flag.Int64("seed", 1337, "arena seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	path := strings.TrimSpace(*configPath)
	if _, err := os.Stat(path); err != nil {
		logger.Printf("config %s not found; using defaults", path)
		path = ""
	}
	cfg, err := config.LoadServer(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	var rec journal.Recorder
	if cfg.Journal {
		j := journal.New(cfg.DataDir, "server")
		defer j.Close()
		rec = j
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	w := arena.New(arena.Config{
		Seed:             *seed,
		SnapshotInterval: cfg.SnapshotInterval(),
		Throttle:         cfg.Throttle.Wire(),
		Logger:           log.New(os.Stdout, "[arena] ", log.LstdFlags|log.Lmicroseconds),
	})
	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("arena stopped: %v", err)
		}
	}()

	wsSrv := ws.NewServer(w, logger, ws.Options{
		Journal:   rec,
		Validator: validator,
		RateLimit: cfg.RateLimit.PerSecond,
		Burst:     cfg.RateLimit.Burst,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		wsSrv.Metrics().WritePrometheus(rw)

		m := w.Metrics()
		fmt.Fprintf(rw, "# HELP realmsync_arena_players Players currently in the arena.\n")
		fmt.Fprintf(rw, "# TYPE realmsync_arena_players gauge\n")
		fmt.Fprintf(rw, "realmsync_arena_players %d\n", m.Players)

		fmt.Fprintf(rw, "# HELP realmsync_snapshots_pushed_total Snapshots pushed to clients.\n")
		fmt.Fprintf(rw, "# TYPE realmsync_snapshots_pushed_total counter\n")
		fmt.Fprintf(rw, "realmsync_snapshots_pushed_total %d\n", m.SnapshotsPushed)

		fmt.Fprintf(rw, "# HELP realmsync_arena_commands_total Verified commands handled by the arena.\n")
		fmt.Fprintf(rw, "# TYPE realmsync_arena_commands_total counter\n")
		fmt.Fprintf(rw, "realmsync_arena_commands_total %d\n", m.Commands)
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (throttle enabled=%v interval=%dms override_allowed=%v)",
		cfg.Listen, cfg.Throttle.Enabled, cfg.Throttle.IntervalMS, cfg.Throttle.OverrideAllowed)
	for _, z := range cfg.ExemptZones {
		logger.Printf("exempt zone %s", z.Zone())
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
