package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type             string `json:"type"`
	ProtocolVersion  string `json:"protocol_version"`
	PlayerName       string `json:"player_name"`
	InstallationID   string `json:"installation_id,omitempty"`
	ThrottleOverride *bool  `json:"throttle_override,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	PlayerName      string `json:"player_name"`
	ServerTimeMS    int64  `json:"server_time_ms"`
}

// Zone is the composite identity of the area a snapshot describes.
type Zone struct {
	Map  string `json:"map"`
	Room string `json:"room"`
}

func (z Zone) IsZero() bool { return z.Map == "" && z.Room == "" }

func (z Zone) String() string {
	if z.IsZero() {
		return ""
	}
	return z.Map + "/" + z.Room
}

type ThrottleConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMS      int  `json:"interval_ms,omitempty"`
	OverrideAllowed bool `json:"override_allowed,omitempty"`
}

// SessionBootstrap carries the signing key. It appears on at most one STATE
// per connection, right after authentication.
type SessionBootstrap struct {
	Key string `json:"key"`
	Seq uint64 `json:"seq"`
}

type EntityState struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"max_hp"`
	MP     int    `json:"mp,omitempty"`
	MaxMP  int    `json:"max_mp,omitempty"`
	Exp    int64  `json:"exp,omitempty"`
	MaxExp int64  `json:"max_exp,omitempty"`
}

// STATE (server -> client): one authoritative snapshot.
type StateMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ServerTimeMS    int64             `json:"server_time_ms"`
	Zone            Zone              `json:"zone"`
	Throttle        ThrottleConfig    `json:"throttle"`
	Session         *SessionBootstrap `json:"session,omitempty"`
	Self            EntityState       `json:"self"`
	Players         []EntityState     `json:"players"`
	Hostiles        []EntityState     `json:"hostiles"`
}

// NARRATIVE (server -> client): free-text combat/heal/chat lines.
type NarrativeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ServerTimeMS    int64    `json:"server_time_ms"`
	Lines           []string `json:"lines"`
}

// CMD (client -> server). Seq and Tag are only ever zero/empty on the
// client side while the command sits in the pending queue.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Text            string `json:"text"`
	Source          string `json:"source,omitempty"`
	Seq             uint64 `json:"seq"`
	Tag             string `json:"tag"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// THROTTLE_PREF (client -> server)
type ThrottlePrefMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Override        bool   `json:"override"`
}
