package client

import (
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/reconcile"
)

type EntityView struct {
	Ref    reconcile.Ref
	Name   string
	Health reconcile.Health
}

// View is the last rendered snapshot with health taken from the live cache.
type View struct {
	Zone         protocol.Zone
	ServerTimeMS int64
	Self         EntityView
	MP           int
	MaxMP        int
	Exp          int64
	MaxExp       int64
	Players      []EntityView
	Hostiles     []EntityView
}

// View returns the zero View until the first render.
func (c *Client) View() View {
	c.mu.Lock()
	st := c.rendered
	c.mu.Unlock()
	if st == nil {
		return View{}
	}
	v := View{
		Zone:         st.Zone,
		ServerTimeMS: st.ServerTimeMS,
		MP:           st.Self.MP,
		MaxMP:        st.Self.MaxMP,
		Exp:          st.Self.Exp,
		MaxExp:       st.Self.MaxExp,
	}
	refs := refsOf(st)
	i := 0
	if st.Self.Name != "" {
		v.Self = c.entityView(refs[0], st.Self)
		i = 1
	}
	for _, p := range st.Players {
		v.Players = append(v.Players, c.entityView(refs[i], p))
		i++
	}
	for _, h := range st.Hostiles {
		v.Hostiles = append(v.Hostiles, c.entityView(refs[i], h))
		i++
	}
	return v
}

func (c *Client) entityView(ref reconcile.Ref, e protocol.EntityState) EntityView {
	h, ok := c.cache.Read(ref)
	if !ok {
		h = reconcile.Health{HP: e.HP, MaxHP: e.MaxHP}
	}
	return EntityView{Ref: ref, Name: e.Name, Health: h}
}
