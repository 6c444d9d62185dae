package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello        = "HELLO"
	TypeWelcome      = "WELCOME"
	TypeState        = "STATE"
	TypeNarrative    = "NARRATIVE"
	TypeCmd          = "CMD"
	TypeAck          = "ACK"
	TypeThrottlePref = "THROTTLE_PREF"
)

var supportedVersions = map[string]struct{}{
	Version: {},
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	_, ok := supportedVersions[v]
	return ok
}
