package arena

import (
	"fmt"
	"strings"

	"realmsync.ai/internal/protocol"
)

const healCost = 5

func (w *World) handleCommand(env CommandEnvelope) {
	p := w.players[env.PlayerID]
	if p == nil {
		return
	}
	w.commands++
	fields := strings.Fields(env.Cmd.Text)
	if len(fields) == 0 {
		return
	}
	verb := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.Join(fields[1:], " "))
	switch verb {
	case "attack":
		w.attack(p, arg)
	case "heal":
		w.heal(p, arg)
	case "move":
		if len(fields) != 3 {
			w.narrate(p, "Usage: move <map> <room>.")
			return
		}
		w.move(p, protocol.Zone{Map: fields[1], Room: fields[2]})
	case "say":
		if arg == "" {
			return
		}
		w.narrate(p, fmt.Sprintf("You say: %s", arg))
		w.narrateZone(p.zone, p, fmt.Sprintf("%s says: %s", p.name, arg))
	default:
		w.narrate(p, fmt.Sprintf("Unknown command: %s.", verb))
	}
}

func (w *World) attack(p *player, name string) {
	h := w.findHostile(p.zone, name)
	if h == nil {
		w.narrate(p, fmt.Sprintf("There is no %s here.", name))
		return
	}
	dmg := 5 + w.rng.Intn(11)
	h.hp = max(h.hp-dmg, 0)
	w.narrate(p, fmt.Sprintf("You hit %s for %d damage.", h.name, dmg))
	w.narrateZone(p.zone, p, fmt.Sprintf("%s hits %s for %d damage.", p.name, h.name, dmg))

	if h.hp == 0 {
		w.narrateZone(p.zone, nil, fmt.Sprintf("%s is slain.", h.name))
		p.exp = min(p.exp+h.exp, p.maxExp)
		h.hp = h.maxHP
		return
	}

	hit := 1 + w.rng.Intn(h.damage)
	p.hp = max(p.hp-hit, 0)
	w.narrate(p, fmt.Sprintf("%s hits you for %d damage.", h.name, hit))
	w.narrateZone(p.zone, p, fmt.Sprintf("%s hits %s for %d damage.", h.name, p.name, hit))
	if p.hp == 0 {
		w.narrate(p, "You are defeated.")
		p.hp = p.maxHP / 2
		w.move(p, w.cfg.Spawn)
	}
}

// findHostile picks the weakest living hostile called name in z.
func (w *World) findHostile(z protocol.Zone, name string) *hostile {
	var best *hostile
	for _, h := range w.hostiles[z] {
		if !strings.EqualFold(h.name, name) || h.hp <= 0 {
			continue
		}
		if best == nil || h.hp < best.hp {
			best = h
		}
	}
	return best
}

func (w *World) heal(p *player, name string) {
	target := p
	if name != "" && !strings.EqualFold(name, "me") && !strings.EqualFold(name, p.name) {
		target = w.findPlayer(p.zone, name)
		if target == nil {
			w.narrate(p, fmt.Sprintf("There is no %s here.", name))
			return
		}
	}
	if p.mp < healCost {
		w.narrate(p, "Not enough mana.")
		return
	}
	p.mp -= healCost
	amt := 10 + w.rng.Intn(11)
	target.hp = min(target.hp+amt, target.maxHP)

	if target == p {
		w.narrate(p, fmt.Sprintf("You heal yourself for %d.", amt))
		w.narrateZone(p.zone, p, fmt.Sprintf("%s heals themself for %d.", p.name, amt))
		return
	}
	w.narrate(p, fmt.Sprintf("You heal %s for %d.", target.name, amt))
	w.narrate(target, fmt.Sprintf("%s heals you for %d.", p.name, amt))
	for _, id := range w.playerIDs() {
		o := w.players[id]
		if o == p || o == target || o.zone != p.zone {
			continue
		}
		w.narrate(o, fmt.Sprintf("%s heals %s for %d.", p.name, target.name, amt))
	}
}

func (w *World) findPlayer(z protocol.Zone, name string) *player {
	for _, id := range w.playerIDs() {
		o := w.players[id]
		if o.zone == z && strings.EqualFold(o.name, name) {
			return o
		}
	}
	return nil
}

// move changes p's zone and pushes a snapshot right away.
func (w *World) move(p *player, to protocol.Zone) {
	if !knownZone(to) {
		w.narrate(p, fmt.Sprintf("There is no way to %s.", to))
		return
	}
	if to == p.zone {
		w.narrate(p, "You are already there.")
		return
	}
	from := p.zone
	p.zone = to
	w.narrateZone(from, p, fmt.Sprintf("%s leaves.", p.name))
	w.narrateZone(to, p, fmt.Sprintf("%s arrives.", p.name))
	w.narrate(p, fmt.Sprintf("You travel to %s.", to))
	w.push(p)
}
