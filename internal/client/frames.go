package client

import (
	"encoding/json"
	"errors"

	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/reconcile"
	"realmsync.ai/internal/session"
)

// handleFrame dispatches one inbound server frame.
func (c *Client) handleFrame(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	if !protocol.IsSupportedVersion(base.ProtocolVersion) {
		return
	}
	if err := c.cfg.Validator.Validate(base.Type, msg); err != nil {
		c.log.Printf("drop invalid %s: %v", base.Type, err)
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		c.onWelcome(w)
	case protocol.TypeState:
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			return
		}
		c.onState(&st)
	case protocol.TypeNarrative:
		var n protocol.NarrativeMsg
		if err := json.Unmarshal(msg, &n); err != nil {
			return
		}
		c.onNarrative(n.Lines)
	case protocol.TypeAck:
		var a protocol.AckMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			return
		}
		c.onAck(a)
	}
}

func (c *Client) onWelcome(w protocol.WelcomeMsg) {
	c.mu.Lock()
	c.connected = true
	c.serverSession = w.SessionID
	if w.PlayerName != "" {
		c.playerName = w.PlayerName
	}
	name := c.playerName
	sess := c.sess
	c.mu.Unlock()

	_ = c.journal.Record(journal.Entry{Kind: journal.KindSessionOpen, Session: sess.ID(), Text: w.SessionID})
	c.log.Printf("connected as %s (server session %s)", name, w.SessionID)

	if c.cfg.Prefs != nil && c.cfg.OnHistory != nil {
		lines, err := c.cfg.Prefs.RecentNarrative(c.cfg.PlayerName, 0)
		if err != nil {
			c.log.Printf("load narrative: %v", err)
		} else if len(lines) > 0 {
			c.cfg.OnHistory(lines)
		}
	}
}

func (c *Client) onState(st *protocol.StateMsg) {
	c.mu.Lock()
	c.overrideAllowed = st.Throttle.OverrideAllowed
	announce := c.connected && c.overrideAllowed && !c.prefSent
	if announce {
		c.prefSent = true
	}
	override := c.override
	sess, ctrl := c.sess, c.ctrl
	c.mu.Unlock()

	if announce {
		if err := c.sendPref(override); err != nil {
			c.log.Printf("announce override: %v", err)
		}
	}
	if st.Session != nil {
		if err := sess.OnKeyIssued(st.Session.Key, st.Session.Seq); err != nil && !errors.Is(err, session.ErrUnsigned) {
			c.log.Printf("key issued: %v", err)
		}
		// The key must not reach the cache or the render callback.
		st.Session = nil
	}
	ctrl.OnSnapshot(st)
}

func (c *Client) onNarrative(lines []string) {
	if len(lines) == 0 {
		return
	}
	for _, l := range lines {
		c.cache.ApplyNarrative(l)
	}
	if c.cfg.Prefs != nil {
		if err := c.cfg.Prefs.AppendNarrative(c.cfg.PlayerName, lines...); err != nil {
			c.log.Printf("store narrative: %v", err)
		}
	}
	if c.cfg.OnNarrative != nil {
		c.cfg.OnNarrative(lines)
	}
}

func (c *Client) onAck(a protocol.AckMsg) {
	c.mu.Lock()
	id := c.sess.ID()
	c.mu.Unlock()
	_ = c.journal.Record(journal.Entry{Kind: journal.KindAck, Session: id, Seq: a.Seq, Code: a.Code})
	if !a.Accepted {
		c.log.Printf("command seq=%d rejected: %s %s", a.Seq, a.Code, a.Message)
	}
	if c.cfg.OnAck != nil {
		c.cfg.OnAck(a)
	}
}

// render is the throttle controller's RenderFunc. The rendered snapshot
// becomes the cache baseline; entities that left the view are dropped.
func (c *Client) render(st *protocol.StateMsg) {
	c.mu.Lock()
	prev := c.rendered
	c.rendered = st
	c.mu.Unlock()

	c.cache.ApplySnapshot(st)
	if prev != nil {
		keep := map[reconcile.Ref]struct{}{}
		for _, r := range refsOf(st) {
			keep[r] = struct{}{}
		}
		for _, r := range refsOf(prev) {
			if _, ok := keep[r]; !ok {
				c.cache.Remove(r)
			}
		}
	}
	if c.cfg.OnRender != nil {
		c.cfg.OnRender(c.View())
	}
}

func refsOf(st *protocol.StateMsg) []reconcile.Ref {
	out := make([]reconcile.Ref, 0, 1+len(st.Players)+len(st.Hostiles))
	if st.Self.Name != "" {
		out = append(out, reconcile.Ref{Namespace: reconcile.Players, Key: st.Self.Name})
	}
	for _, p := range st.Players {
		out = append(out, reconcile.Ref{Namespace: reconcile.Players, Key: p.Name})
	}
	for _, h := range st.Hostiles {
		key := h.ID
		if key == "" {
			key = h.Name
		}
		out = append(out, reconcile.Ref{Namespace: reconcile.Hostiles, Key: key})
	}
	return out
}
