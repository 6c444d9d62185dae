package ws

import (
	"bytes"
	"strings"
	"testing"

	"realmsync.ai/internal/protocol"
)

func TestMetrics_WritePrometheus(t *testing.T) {
	var m Metrics
	m.sessionOpened()
	m.sessionOpened()
	m.sessionClosed()
	m.accepted()
	m.rejected(protocol.ErrStale)
	m.rejected(protocol.ErrStale)
	m.rejected(protocol.ErrBadSignature)

	if m.SessionsOpen() != 1 || m.CommandsAccepted() != 1 || m.CommandsRejected(protocol.ErrStale) != 2 {
		t.Fatalf("open=%d accepted=%d stale=%d", m.SessionsOpen(), m.CommandsAccepted(), m.CommandsRejected(protocol.ErrStale))
	}

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()
	for _, want := range []string{
		"realmsync_sessions_open 1\n",
		"realmsync_sessions_total 2\n",
		"realmsync_commands_accepted_total 1\n",
		`realmsync_commands_rejected_total{code="E_STALE"} 2` + "\n",
		`realmsync_commands_rejected_total{code="E_BAD_SIGNATURE"} 1` + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	// Codes are sorted.
	if strings.Index(out, "E_BAD_SIGNATURE") > strings.Index(out, "E_STALE") {
		t.Fatalf("codes not sorted:\n%s", out)
	}
}
