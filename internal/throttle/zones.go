package throttle

import "realmsync.ai/internal/protocol"

// ZoneSet is a fixed set of zones that always bypass throttling.
type ZoneSet map[protocol.Zone]struct{}

// DefaultExemptZones are the boss arenas where stale health is unfair: the
// world boss lair, the cross-server boss arena and the guild siege keep.
var DefaultExemptZones = []protocol.Zone{
	{Map: "wb", Room: "lair"},
	{Map: "xs", Room: "arena"},
	{Map: "siege", Room: "keep"},
}

func NewZoneSet(zones ...protocol.Zone) ZoneSet {
	s := make(ZoneSet, len(zones))
	for _, z := range zones {
		if z.IsZero() {
			continue
		}
		s[z] = struct{}{}
	}
	return s
}

// Contains reports membership. The zero zone is never a member.
func (s ZoneSet) Contains(z protocol.Zone) bool {
	if z.IsZero() {
		return false
	}
	_, ok := s[z]
	return ok
}
