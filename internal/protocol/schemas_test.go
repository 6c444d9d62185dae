package protocol_test

import (
	"encoding/json"
	"testing"

	"realmsync.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	samples := map[string]string{
		protocol.TypeHello: `{
		  "type":"HELLO",
		  "protocol_version":"1.0",
		  "player_name":"ayla",
		  "installation_id":"2d1f4c1e-5b0e-4f44-9b2b-8f1d3f0f5a11",
		  "throttle_override":true
		}`,
		protocol.TypeWelcome: `{
		  "type":"WELCOME",
		  "protocol_version":"1.0",
		  "session_id":"S1",
		  "player_name":"ayla",
		  "server_time_ms":1700000000000
		}`,
		protocol.TypeState: `{
		  "type":"STATE",
		  "protocol_version":"1.0",
		  "server_time_ms":1700000000000,
		  "zone":{"map":"wb","room":"lair"},
		  "throttle":{"enabled":true,"interval_ms":10000,"override_allowed":true},
		  "session":{"key":"deadbeef","seq":0},
		  "self":{"name":"ayla","hp":90,"max_hp":100,"mp":10,"max_mp":20,"exp":5,"max_exp":100},
		  "players":[{"name":"bram","hp":40,"max_hp":80}],
		  "hostiles":[{"id":"h1","name":"Goblin","hp":30,"max_hp":30}]
		}`,
		protocol.TypeNarrative: `{
		  "type":"NARRATIVE",
		  "protocol_version":"1.0",
		  "server_time_ms":1700000000000,
		  "lines":["You hit Goblin for 12 damage."]
		}`,
		protocol.TypeCmd: `{
		  "type":"CMD",
		  "protocol_version":"1.0",
		  "text":"attack Goblin",
		  "source":"input",
		  "seq":1,
		  "tag":"8d8937fdcea524a9301a74e8e2e4b3ee64ea5ae993f29219d57d0cd3d276613b"
		}`,
		protocol.TypeAck: `{
		  "type":"ACK",
		  "protocol_version":"1.0",
		  "seq":1,
		  "accepted":false,
		  "code":"E_STALE"
		}`,
		protocol.TypeThrottlePref: `{
		  "type":"THROTTLE_PREF",
		  "protocol_version":"1.0",
		  "override":false
		}`,
	}
	for typ, raw := range samples {
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}
}

func TestSchemas_RejectsMalformed(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	bad := map[string]string{
		protocol.TypeState: `{"type":"STATE","protocol_version":"1.0","server_time_ms":1,"throttle":{"enabled":true},"self":{"name":"a","hp":-1,"max_hp":10}}`,
		protocol.TypeCmd:   `{"type":"CMD","protocol_version":"1.0","text":"x","seq":0,"tag":""}`,
		protocol.TypeHello: `{"type":"HELLO","protocol_version":"1.0"}`,
	}
	for typ, raw := range bad {
		if err := v.Validate(typ, []byte(raw)); err == nil {
			t.Fatalf("expected %s sample rejected", typ)
		}
	}
}

func TestSchemas_MarshalledStateValidates(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		ServerTimeMS:    1,
		Zone:            protocol.Zone{Map: "town", Room: "square"},
		Throttle:        protocol.ThrottleConfig{Enabled: true, IntervalMS: 10000},
		Self:            protocol.EntityState{Name: "ayla", HP: 10, MaxHP: 10},
	}
	b, _ := json.Marshal(msg)
	if err := v.Validate(protocol.TypeState, b); err != nil {
		t.Fatalf("validate marshalled state: %v", err)
	}
}

func TestValidator_UnknownTypePasses(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	if err := v.Validate("PING", []byte(`{"type":"PING"}`)); err != nil {
		t.Fatalf("unknown type should pass: %v", err)
	}
}
