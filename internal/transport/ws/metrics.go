package ws

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics counts session and command outcomes for /metrics.
type Metrics struct {
	open    atomic.Int64
	opened  atomic.Uint64
	accepts atomic.Uint64

	mu      sync.Mutex
	rejects map[string]uint64
}

func (m *Metrics) sessionOpened() {
	m.open.Add(1)
	m.opened.Add(1)
}

func (m *Metrics) sessionClosed() { m.open.Add(-1) }

func (m *Metrics) accepted() { m.accepts.Add(1) }

func (m *Metrics) rejected(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejects == nil {
		m.rejects = map[string]uint64{}
	}
	m.rejects[code]++
}

func (m *Metrics) SessionsOpen() int64      { return m.open.Load() }
func (m *Metrics) CommandsAccepted() uint64 { return m.accepts.Load() }

func (m *Metrics) CommandsRejected(code string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejects[code]
}

// WritePrometheus writes the counters in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	fmt.Fprintf(w, "# HELP realmsync_sessions_open Currently connected keyed sessions.\n")
	fmt.Fprintf(w, "# TYPE realmsync_sessions_open gauge\n")
	fmt.Fprintf(w, "realmsync_sessions_open %d\n", m.open.Load())

	fmt.Fprintf(w, "# HELP realmsync_sessions_total Sessions opened since start.\n")
	fmt.Fprintf(w, "# TYPE realmsync_sessions_total counter\n")
	fmt.Fprintf(w, "realmsync_sessions_total %d\n", m.opened.Load())

	fmt.Fprintf(w, "# HELP realmsync_commands_accepted_total Commands that passed verification.\n")
	fmt.Fprintf(w, "# TYPE realmsync_commands_accepted_total counter\n")
	fmt.Fprintf(w, "realmsync_commands_accepted_total %d\n", m.accepts.Load())

	m.mu.Lock()
	codes := make([]string, 0, len(m.rejects))
	for code := range m.rejects {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	fmt.Fprintf(w, "# HELP realmsync_commands_rejected_total Commands rejected, by code.\n")
	fmt.Fprintf(w, "# TYPE realmsync_commands_rejected_total counter\n")
	for _, code := range codes {
		fmt.Fprintf(w, "realmsync_commands_rejected_total{code=%q} %d\n", code, m.rejects[code])
	}
	m.mu.Unlock()
}
