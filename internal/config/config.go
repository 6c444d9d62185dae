// Package config loads the client and server yaml files. A missing path
// yields Defaults; env vars then override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"realmsync.ai/internal/protocol"
)

type ZoneSpec struct {
	Map  string `yaml:"map"`
	Room string `yaml:"room"`
}

func (z ZoneSpec) Zone() protocol.Zone {
	return protocol.Zone{Map: strings.TrimSpace(z.Map), Room: strings.TrimSpace(z.Room)}
}

func zones(specs []ZoneSpec) []protocol.Zone {
	out := make([]protocol.Zone, 0, len(specs))
	for _, s := range specs {
		if z := s.Zone(); !z.IsZero() {
			out = append(out, z)
		}
	}
	return out
}

func validateZones(field string, specs []ZoneSpec) error {
	for i, s := range specs {
		if strings.TrimSpace(s.Map) == "" || strings.TrimSpace(s.Room) == "" {
			return fmt.Errorf("%s[%d] needs both map and room", field, i)
		}
	}
	return nil
}

func readYAML(path, name string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
