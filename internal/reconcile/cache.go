// Package reconcile keeps best-effort live health for on-screen entities.
//
// Authoritative snapshots set the baseline; narrative lines nudge it between
// snapshots. Values are for display only and are overwritten, never merged,
// by the next snapshot.
package reconcile

import (
	"sort"
	"strings"
	"sync"

	"realmsync.ai/internal/protocol"
)

type Namespace string

const (
	Players  Namespace = "players"
	Hostiles Namespace = "hostiles"
)

// Ref identifies a cached entity. Players are keyed by name; hostiles by
// id when the server supplies one, else by name.
type Ref struct {
	Namespace Namespace
	Key       string
}

type Health struct {
	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`
}

type entry struct {
	name    string
	hp      int
	maxHP   int
	engaged uint64
}

type Cache struct {
	matcher Matcher

	mu      sync.Mutex
	self    Ref
	entries map[Ref]*entry
	byName  map[string]map[Ref]struct{}
	clock   uint64
}

func NewCache(m Matcher) *Cache {
	if m == nil {
		m = NewRegexMatcher()
	}
	return &Cache{
		matcher: m,
		entries: map[Ref]*entry{},
		byName:  map[string]map[Ref]struct{}{},
	}
}

// SelfRef is the local player's entry, zero until the first snapshot.
func (c *Cache) SelfRef() Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// ApplySnapshot overwrites every entity present in snap with its
// authoritative values. Entities missing from snap are left as they are
// until Remove.
func (c *Cache) ApplySnapshot(snap *protocol.StateMsg) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Self.Name != "" {
		c.self = Ref{Namespace: Players, Key: snap.Self.Name}
		c.putLocked(c.self, snap.Self)
	}
	for _, p := range snap.Players {
		if p.Name == "" {
			continue
		}
		c.putLocked(Ref{Namespace: Players, Key: p.Name}, p)
	}
	for _, h := range snap.Hostiles {
		key := h.ID
		if key == "" {
			key = h.Name
		}
		if key == "" {
			continue
		}
		c.putLocked(Ref{Namespace: Hostiles, Key: key}, h)
	}
}

func (c *Cache) putLocked(ref Ref, st protocol.EntityState) {
	e, ok := c.entries[ref]
	if !ok {
		e = &entry{}
		c.entries[ref] = e
	}
	if e.name != st.Name {
		if e.name != "" {
			c.unindexLocked(e.name, ref)
		}
		e.name = st.Name
		c.indexLocked(e.name, ref)
	}
	e.maxHP = max(st.MaxHP, 0)
	e.hp = clamp(st.HP, 0, e.maxHP)
}

// ApplyDelta adjusts ref's cached hp by amount (a magnitude) of kind,
// clamped to [0, maxHP].
func (c *Cache) ApplyDelta(ref Ref, amount int, kind Kind) bool {
	if amount < 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(ref, Delta{Amount: amount, Kind: kind}.Signed())
}

// ApplyNarrativeDelta resolves d.Target to a cached entity and applies it.
func (c *Cache) ApplyNarrativeDelta(d Delta) (Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.resolveLocked(d)
	if !ok {
		return Ref{}, false
	}
	return ref, c.applyLocked(ref, d.Signed())
}

// ApplyNarrative parses line and applies the resulting delta. Unrecognised
// lines and unknown targets are ignored.
func (c *Cache) ApplyNarrative(line string) (Ref, bool) {
	d, ok := c.matcher.Match(line)
	if !ok {
		return Ref{}, false
	}
	return c.ApplyNarrativeDelta(d)
}

func (c *Cache) applyLocked(ref Ref, signed int) bool {
	e, ok := c.entries[ref]
	if !ok {
		return false
	}
	c.clock++
	e.engaged = c.clock
	switch {
	case signed >= e.maxHP-e.hp:
		e.hp = e.maxHP
	case signed <= -e.hp:
		e.hp = 0
	default:
		e.hp += signed
	}
	return true
}

// resolveLocked picks the entity a narrated name refers to. First-person
// narration is the local player. Otherwise same-named hostiles win, lowest
// cached hp first, then the most recently engaged; players are the fallback.
func (c *Cache) resolveLocked(d Delta) (Ref, bool) {
	if d.FirstPerson {
		if _, ok := c.entries[c.self]; ok {
			return c.self, true
		}
		return Ref{}, false
	}
	refs := c.byName[strings.ToLower(d.Target)]
	if len(refs) == 0 {
		return Ref{}, false
	}
	var hostiles, players []Ref
	for r := range refs {
		if r.Namespace == Hostiles {
			hostiles = append(hostiles, r)
		} else {
			players = append(players, r)
		}
	}
	cands := hostiles
	if len(cands) == 0 {
		cands = players
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := c.entries[cands[i]], c.entries[cands[j]]
		if a.hp != b.hp {
			return a.hp < b.hp
		}
		if a.engaged != b.engaged {
			return a.engaged > b.engaged
		}
		return cands[i].Key < cands[j].Key
	})
	return cands[0], true
}

func (c *Cache) Read(ref Ref) (Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ref]
	if !ok {
		return Health{}, false
	}
	return Health{HP: e.hp, MaxHP: e.maxHP}, true
}

// Self reads the local player's entry.
func (c *Cache) Self() (Health, bool) {
	return c.Read(c.SelfRef())
}

// Remove drops ref, e.g. when the entity left the zone.
func (c *Cache) Remove(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ref]
	if !ok {
		return
	}
	c.unindexLocked(e.name, ref)
	delete(c.entries, ref)
}

// Len is the number of cached entities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) indexLocked(name string, ref Ref) {
	k := strings.ToLower(name)
	m := c.byName[k]
	if m == nil {
		m = map[Ref]struct{}{}
		c.byName[k] = m
	}
	m[ref] = struct{}{}
}

func (c *Cache) unindexLocked(name string, ref Ref) {
	k := strings.ToLower(name)
	if m := c.byName[k]; m != nil {
		delete(m, ref)
		if len(m) == 0 {
			delete(c.byName, k)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
