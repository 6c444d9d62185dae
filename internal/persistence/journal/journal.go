// Package journal records session traffic (commands, renders, acks) as
// compressed JSON lines for later inspection with cmd/replay.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry kinds.
const (
	KindSessionOpen   = "session_open"
	KindSessionClose  = "session_close"
	KindKeyIssued     = "key_issued"
	KindCmdQueued     = "cmd_queued"
	KindCmdEvicted    = "cmd_evicted"
	KindCmdSent       = "cmd_sent"
	KindCmdUnsigned   = "cmd_unsigned"
	KindCmdAccepted   = "cmd_accepted"
	KindCmdRejected   = "cmd_rejected"
	KindAck           = "ack"
	KindStateRendered = "state_rendered"
	KindStateDeferred = "state_deferred"
	KindStateDropped  = "state_dropped"
	KindThrottlePref  = "throttle_pref"
)

type Entry struct {
	TimeMS  int64  `json:"t"`
	Kind    string `json:"kind"`
	Session string `json:"session,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Text    string `json:"text,omitempty"`
	Source  string `json:"source,omitempty"`
	Code    string `json:"code,omitempty"`
	Zone    string `json:"zone,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Recorder receives journal entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(e Entry) error
}

// Discard drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) error { return nil }

const (
	msPerHour = int64(time.Hour / time.Millisecond)
	// flushEvery bounds how many entries can sit in the encoder between
	// compressed blocks.
	flushEvery = 64
)

// flushesNow reports kinds written through to disk at once, so a crash
// never loses where a session started or ended.
func flushesNow(kind string) bool {
	switch kind {
	case KindSessionOpen, KindSessionClose, KindKeyIssued:
		return true
	}
	return false
}

// Journal writes entries to <dataDir>/journal/<prefix>-<yyyymmddThh>.jsonl.zst,
// one segment per UTC hour of the entries' own timestamps. An entry older
// than the open segment goes into it rather than reopening a past hour.
type Journal struct {
	dir    string
	prefix string
	now    func() time.Time

	mu       sync.Mutex
	hour     int64
	f        *os.File
	zw       *zstd.Encoder
	enc      *json.Encoder
	unsynced int
}

func New(dataDir, prefix string) *Journal {
	return &Journal{
		dir:    filepath.Join(dataDir, "journal"),
		prefix: prefix,
		now:    time.Now,
	}
}

func (j *Journal) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.TimeMS == 0 {
		e.TimeMS = j.now().UnixMilli()
	}
	if hour := e.TimeMS / msPerHour; j.f == nil || hour > j.hour {
		if err := j.openLocked(hour); err != nil {
			return fmt.Errorf("journal segment: %w", err)
		}
	}
	if err := j.enc.Encode(e); err != nil {
		return err
	}
	j.unsynced++
	if j.unsynced >= flushEvery || flushesNow(e.Kind) {
		j.unsynced = 0
		return j.zw.Flush()
	}
	return nil
}

// SegmentName is the file name holding entries of the given hour.
func SegmentName(prefix string, hour time.Time) string {
	return fmt.Sprintf("%s-%s.jsonl.zst", prefix, hour.UTC().Format("20060102T15"))
}

func (j *Journal) openLocked(hour int64) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	name := SegmentName(j.prefix, time.UnixMilli(hour*msPerHour))
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f, j.zw, j.enc, j.hour = f, zw, json.NewEncoder(zw), hour
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) closeLocked() error {
	if j.f == nil {
		return nil
	}
	err := j.zw.Close()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f, j.zw, j.enc, j.unsynced = nil, nil, nil, 0
	return err
}

// Or returns r, or Discard when r is nil.
func Or(r Recorder) Recorder {
	if r == nil {
		return Discard
	}
	return r
}
