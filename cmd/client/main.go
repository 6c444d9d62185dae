package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"realmsync.ai/internal/client"
	"realmsync.ai/internal/config"
	"realmsync.ai/internal/localstore"
	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/throttle"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/client.yaml", "client config path (defaults are used when the file is missing)")
		url        = flag.String("url", "", "ws url (overrides config)")
		name       = flag.String("name", "", "player name (overrides config)")
		dataDir    = flag.String("data", "", "local data directory (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)

	path := strings.TrimSpace(*configPath)
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *url != "" {
		cfg.URL = *url
	}
	if *name != "" {
		cfg.PlayerName = *name
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	store, err := localstore.Open(filepath.Join(cfg.DataDir, "client.db"))
	if err != nil {
		logger.Fatalf("open local store: %v", err)
	}
	defer store.Close()
	installID, err := store.InstallationID()
	if err != nil {
		logger.Fatalf("installation id: %v", err)
	}

	var rec journal.Recorder
	if cfg.Journal {
		j := journal.New(cfg.DataDir, "client")
		defer j.Close()
		rec = j
	}

	var validator *protocol.Validator
	if cfg.ValidateInbound {
		if validator, err = protocol.NewValidator(); err != nil {
			logger.Fatalf("schemas: %v", err)
		}
	}

	exempt := append(append([]protocol.Zone(nil), throttle.DefaultExemptZones...), cfg.ExemptZones()...)
	out := bufio.NewWriter(os.Stdout)
	printf := func(format string, args ...any) {
		fmt.Fprintf(out, format, args...)
		_ = out.Flush()
	}

	c := client.New(client.Config{
		URL:            cfg.URL,
		PlayerName:     cfg.PlayerName,
		InstallationID: installID,
		QueueCap:       cfg.QueueCap,
		MinBackoff:     cfg.Reconnect.Min(),
		MaxBackoff:     cfg.Reconnect.Max(),
		ExemptZones:    throttle.NewZoneSet(exempt...),
		Validator:      validator,
		Prefs:          store,
		Journal:        rec,
		Logger:         logger,
		OnRender:       func(v client.View) { printf("%s", formatView(v)) },
		OnNarrative: func(lines []string) {
			for _, l := range lines {
				printf("  %s\n", l)
			}
		},
		OnHistory: func(lines []string) {
			printf("-- last %d lines --\n", len(lines))
			for _, l := range lines {
				printf("  %s\n", l)
			}
		},
		OnAck: func(a protocol.AckMsg) {
			if !a.Accepted {
				printf("! seq %d rejected: %s\n", a.Seq, a.Code)
			}
		},
	})
	c.Start()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleInput(c, line, printf, logger)
		}
	}
}

// handleInput runs local slash commands; anything else goes to the server.
func handleInput(c *client.Client, line string, printf func(string, ...any), logger *log.Logger) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	switch {
	case line == "/override on" || line == "/override off":
		if err := c.SetOverride(line == "/override on"); err != nil {
			logger.Printf("override: %v", err)
			return
		}
		printf("override %v\n", c.Override())
	case line == "/status":
		st := c.Status()
		printf("connected=%v keyed=%v pending=%d throttle=%s server_session=%s\n",
			st.Connected, st.Keyed, st.Pending, st.Throttle, st.ServerSession)
	case line == "/view":
		printf("%s", formatView(c.View()))
	default:
		if err := c.Submit(line, "input"); err != nil {
			logger.Printf("submit: %v", err)
		}
	}
}

func formatView(v client.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s hp %d/%d mp %d/%d exp %d/%d\n",
		v.Zone, v.Self.Name, v.Self.Health.HP, v.Self.Health.MaxHP, v.MP, v.MaxMP, v.Exp, v.MaxExp)
	for _, p := range v.Players {
		fmt.Fprintf(&b, "  player  %-12s hp %d/%d\n", p.Name, p.Health.HP, p.Health.MaxHP)
	}
	for _, h := range v.Hostiles {
		fmt.Fprintf(&b, "  hostile %-12s hp %d/%d\n", h.Name, h.Health.HP, h.Health.MaxHP)
	}
	return b.String()
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
