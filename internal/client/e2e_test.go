package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"realmsync.ai/internal/arena"
	"realmsync.ai/internal/localstore"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/transport/ws"
)

func startWorld(t *testing.T) string {
	t.Helper()
	w := arena.New(arena.Config{
		Seed:             42,
		SnapshotInterval: time.Hour,
		Throttle:         protocol.ThrottleConfig{Enabled: true, IntervalMS: 10000, OverrideAllowed: true},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()

	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	srv := ws.NewServer(w, nil, ws.Options{Validator: v})
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", srv.Handler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func waitFor[T any](t *testing.T, ch chan T, what string, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestEndToEnd_QueueKeyNarrativeReconnect(t *testing.T) {
	url := startWorld(t)
	store, err := localstore.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("localstore: %v", err)
	}
	defer store.Close()

	v, _ := protocol.NewValidator()
	acks := make(chan protocol.AckMsg, 64)
	views := make(chan View, 64)
	lines := make(chan string, 256)
	history := make(chan []string, 4)
	c := New(Config{
		URL:        url,
		PlayerName: "Aria",
		MinBackoff: 20 * time.Millisecond,
		MaxBackoff: 100 * time.Millisecond,
		Validator:  v,
		Prefs:      store,
		OnAck:      func(a protocol.AckMsg) { offer(acks, a) },
		OnRender:   func(v View) { offer(views, v) },
		OnNarrative: func(ls []string) {
			for _, l := range ls {
				offer(lines, l)
			}
		},
		OnHistory: func(ls []string) { offer(history, ls) },
	})
	defer c.Close()

	// Typed before the connection exists: queued, then flushed once keyed.
	if err := c.Submit("move forest glade", "input"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	c.Start()

	ack := waitFor(t, acks, "ack for queued move", func(a protocol.AckMsg) bool { return true })
	if !ack.Accepted || ack.Seq != 1 {
		t.Fatalf("queued command ack=%+v", ack)
	}
	waitFor(t, views, "forest render", func(v View) bool { return v.Zone == forest })

	if err := c.Submit("attack goblin", "input"); err != nil {
		t.Fatalf("attack: %v", err)
	}
	waitFor(t, lines, "goblin counterattack", func(l string) bool { return strings.HasPrefix(l, "Goblin hits you for ") })
	if hp := c.View().Self.Health.HP; hp >= 100 || hp <= 0 {
		t.Fatalf("narrative did not lower live hp: %d", hp)
	}

	// Reconnect: new server session, new key, sequence starts again.
	before := c.Status().LocalSession
	c.Disconnect()
	waitFor(t, history, "narrative replay", func(ls []string) bool { return len(ls) >= 2 })
	after := c.Status()
	if after.LocalSession == before {
		t.Fatalf("session survived reconnect")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !c.Status().Keyed {
		if time.Now().After(deadline) {
			t.Fatalf("new session never keyed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := c.Submit("say back again", "chat"); err != nil {
		t.Fatalf("submit after reconnect: %v", err)
	}
	ack = waitFor(t, acks, "ack after reconnect", func(a protocol.AckMsg) bool { return a.Seq == 1 })
	if !ack.Accepted {
		t.Fatalf("post-reconnect ack=%+v", ack)
	}
}

func TestEndToEnd_OverrideAnnouncedAndPersisted(t *testing.T) {
	url := startWorld(t)
	store, err := localstore.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("localstore: %v", err)
	}
	defer store.Close()

	views := make(chan View, 64)
	c := New(Config{URL: url, PlayerName: "Bram", Prefs: store, OnRender: func(v View) { offer(views, v) }})
	defer c.Close()
	c.Start()
	waitFor(t, views, "first render", func(View) bool { return true })

	if err := c.SetOverride(true); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if on, _ := store.Override(); !on {
		t.Fatalf("override not persisted")
	}
	// The announcement must not disturb the command stream.
	if err := c.Submit("heal", "input"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Submit("move forest glade", "input"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, views, "render after move", func(v View) bool { return v.Zone == forest })
}
