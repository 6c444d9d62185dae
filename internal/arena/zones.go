package arena

import "realmsync.ai/internal/protocol"

type hostileSpec struct {
	name   string
	hp     int
	damage int
	exp    int64
}

var layout = []struct {
	zone     protocol.Zone
	hostiles []hostileSpec
}{
	{zone: protocol.Zone{Map: "town", Room: "square"}},
	{zone: protocol.Zone{Map: "forest", Room: "glade"}, hostiles: []hostileSpec{
		{name: "Goblin", hp: 30, damage: 6, exp: 10},
		{name: "Goblin", hp: 30, damage: 6, exp: 10},
		{name: "Wolf", hp: 45, damage: 8, exp: 15},
	}},
	{zone: protocol.Zone{Map: "wb", Room: "lair"}, hostiles: []hostileSpec{
		{name: "Dragon", hp: 500, damage: 30, exp: 400},
	}},
	{zone: protocol.Zone{Map: "xs", Room: "arena"}, hostiles: []hostileSpec{
		{name: "Gladiator", hp: 120, damage: 12, exp: 60},
	}},
	{zone: protocol.Zone{Map: "siege", Room: "keep"}, hostiles: []hostileSpec{
		{name: "Guard", hp: 80, damage: 10, exp: 30},
		{name: "Guard", hp: 80, damage: 10, exp: 30},
	}},
}

func (w *World) populate() {
	for _, z := range layout {
		hs := make([]*hostile, 0, len(z.hostiles))
		for _, s := range z.hostiles {
			hs = append(hs, &hostile{
				id:     w.newID("h"),
				name:   s.name,
				hp:     s.hp,
				maxHP:  s.hp,
				damage: s.damage,
				exp:    s.exp,
			})
		}
		w.hostiles[z.zone] = hs
	}
}

func knownZone(z protocol.Zone) bool {
	for _, l := range layout {
		if l.zone == z {
			return true
		}
	}
	return false
}
