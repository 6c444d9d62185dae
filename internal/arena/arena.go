// Package arena is a small authoritative world for exercising the sync
// layer end to end: a handful of zones, hostiles that fight back, and
// narration of every verified command.
//
// All state is owned by the Run goroutine; other goroutines talk to it via
// the Join, Leave and Inbox channels.
package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"realmsync.ai/internal/protocol"
)

type Config struct {
	Seed             int64
	SnapshotInterval time.Duration
	Throttle         protocol.ThrottleConfig
	Spawn            protocol.Zone
	Now              func() time.Time
	Logger           *log.Logger
}

type JoinRequest struct {
	Name string
	// Bootstrap is attached to the first STATE the player receives.
	Bootstrap *protocol.SessionBootstrap
	// Out carries snapshots and narration; the world drops the oldest frame
	// when it is full. Control, when set, carries the bootstrap STATE and
	// is never dropped from. It must be buffered and empty at join.
	Out     chan []byte
	Control chan []byte
	Resp    chan JoinResponse
}

type JoinResponse struct {
	PlayerID string
	Welcome  protocol.WelcomeMsg
}

// CommandEnvelope is a command that already passed signature and sequence
// verification.
type CommandEnvelope struct {
	PlayerID string
	Cmd      protocol.CmdMsg
}

type Metrics struct {
	Players         int    `json:"players"`
	SnapshotsPushed uint64 `json:"snapshots_pushed"`
	Commands        uint64 `json:"commands"`
}

type World struct {
	cfg Config
	log *log.Logger
	rng *rand.Rand

	join  chan JoinRequest
	leave chan string
	inbox chan CommandEnvelope
	stop  chan struct{}

	players  map[string]*player
	hostiles map[protocol.Zone][]*hostile
	nextID   uint64

	pending map[string][]string

	snapshots uint64
	commands  uint64
	metrics   atomic.Value
}

type player struct {
	id     string
	name   string
	hp     int
	maxHP  int
	mp     int
	maxMP  int
	exp    int64
	maxExp int64
	zone   protocol.Zone
	out    chan []byte

	control   chan []byte
	bootstrap *protocol.SessionBootstrap
}

type hostile struct {
	id     string
	name   string
	hp     int
	maxHP  int
	damage int
	exp    int64
}

func New(cfg Config) *World {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 2 * time.Second
	}
	if cfg.Spawn.IsZero() {
		cfg.Spawn = protocol.Zone{Map: "town", Room: "square"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:      cfg,
		log:      cfg.Logger,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		inbox:    make(chan CommandEnvelope, 1024),
		stop:     make(chan struct{}),
		players:  map[string]*player{},
		hostiles: map[protocol.Zone][]*hostile{},
		pending:  map[string][]string{},
	}
	w.populate()
	w.publishMetrics()
	return w
}

func (w *World) Join() chan<- JoinRequest          { return w.join }
func (w *World) Leave() chan<- string              { return w.leave }
func (w *World) Inbox() chan<- CommandEnvelope     { return w.inbox }
func (w *World) Throttle() protocol.ThrottleConfig { return w.cfg.Throttle }

func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case env := <-w.inbox:
			w.handleCommand(env)
		case <-ticker.C:
			w.pushAll()
		}
		w.flushNarrative()
		w.publishMetrics()
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) Metrics() Metrics {
	v := w.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, _ := v.(Metrics)
	return m
}

func (w *World) publishMetrics() {
	w.metrics.Store(Metrics{
		Players:         len(w.players),
		SnapshotsPushed: w.snapshots,
		Commands:        w.commands,
	})
}

func (w *World) newID(prefix string) string {
	w.nextID++
	return fmt.Sprintf("%s%d", prefix, w.nextID)
}

func (w *World) handleJoin(req JoinRequest) {
	name := w.uniqueName(strings.TrimSpace(req.Name))
	p := &player{
		id:        w.newID("p"),
		name:      name,
		hp:        100,
		maxHP:     100,
		mp:        50,
		maxMP:     50,
		maxExp:    1000,
		zone:      w.cfg.Spawn,
		out:       req.Out,
		control:   req.Control,
		bootstrap: req.Bootstrap,
	}
	w.players[p.id] = p
	w.log.Printf("join %s (%s) at %s", p.name, p.id, p.zone)

	// The keyed STATE is queued before the joiner hears back, so it is the
	// first frame on its control channel.
	w.push(p)

	if req.Resp != nil {
		req.Resp <- JoinResponse{
			PlayerID: p.id,
			Welcome: protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				PlayerName:      p.name,
				ServerTimeMS:    w.cfg.Now().UnixMilli(),
			},
		}
	}
	w.narrateZone(p.zone, p, fmt.Sprintf("%s arrives.", p.name))
}

func (w *World) uniqueName(name string) string {
	if name == "" {
		name = "player"
	}
	taken := func(n string) bool {
		for _, p := range w.players {
			if strings.EqualFold(p.name, n) {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		n := fmt.Sprintf("%s%d", name, i)
		if !taken(n) {
			return n
		}
	}
}

func (w *World) handleLeave(id string) {
	p := w.players[id]
	if p == nil {
		return
	}
	delete(w.players, id)
	delete(w.pending, id)
	w.log.Printf("leave %s (%s)", p.name, p.id)
	w.narrateZone(p.zone, nil, fmt.Sprintf("%s leaves.", p.name))
}

func (w *World) pushAll() {
	for _, id := range w.playerIDs() {
		w.push(w.players[id])
	}
}

// push sends p a full snapshot of its zone.
func (w *World) push(p *player) {
	st := w.snapshotFor(p)
	keyed := p.bootstrap != nil
	if keyed {
		st.Session = p.bootstrap
		p.bootstrap = nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		w.log.Printf("marshal state: %v", err)
		return
	}
	switch {
	case keyed && p.control != nil:
		select {
		case p.control <- b:
		default:
			w.log.Printf("control channel of %s full; keyed state not delivered", p.id)
		}
	case p.out != nil:
		sendLatest(p.out, b)
	}
	w.snapshots++
}

func (w *World) snapshotFor(p *player) protocol.StateMsg {
	st := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		ServerTimeMS:    w.cfg.Now().UnixMilli(),
		Zone:            p.zone,
		Throttle:        w.cfg.Throttle,
		Self:            p.state(),
		Players:         []protocol.EntityState{},
		Hostiles:        []protocol.EntityState{},
	}
	for _, id := range w.playerIDs() {
		o := w.players[id]
		if o == p || o.zone != p.zone {
			continue
		}
		st.Players = append(st.Players, o.state())
	}
	for _, h := range w.hostiles[p.zone] {
		st.Hostiles = append(st.Hostiles, protocol.EntityState{
			ID: h.id, Name: h.name, HP: h.hp, MaxHP: h.maxHP,
		})
	}
	return st
}

func (p *player) state() protocol.EntityState {
	return protocol.EntityState{
		Name:   p.name,
		HP:     p.hp,
		MaxHP:  p.maxHP,
		MP:     p.mp,
		MaxMP:  p.maxMP,
		Exp:    p.exp,
		MaxExp: p.maxExp,
	}
}

func (w *World) playerIDs() []string {
	ids := make([]string, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *World) narrate(p *player, line string) {
	if p == nil {
		return
	}
	w.pending[p.id] = append(w.pending[p.id], line)
}

// narrateZone tells everyone in z except skip.
func (w *World) narrateZone(z protocol.Zone, skip *player, line string) {
	for _, id := range w.playerIDs() {
		o := w.players[id]
		if o == skip || o.zone != z {
			continue
		}
		w.narrate(o, line)
	}
}

func (w *World) flushNarrative() {
	if len(w.pending) == 0 {
		return
	}
	now := w.cfg.Now().UnixMilli()
	for id, lines := range w.pending {
		p := w.players[id]
		if p == nil || p.out == nil {
			continue
		}
		b, err := json.Marshal(protocol.NarrativeMsg{
			Type:            protocol.TypeNarrative,
			ProtocolVersion: protocol.Version,
			ServerTimeMS:    now,
			Lines:           lines,
		})
		if err != nil {
			continue
		}
		sendLatest(p.out, b)
	}
	w.pending = map[string][]string{}
}

// sendLatest never blocks the world loop; when the client falls behind the
// oldest queued frame is dropped.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
