package signing

import "sync"

// Verifier is the server half of one keyed session: it checks each command's
// tag and enforces strictly increasing sequence numbers, which makes a
// captured command useless for replay within the session.
type Verifier struct {
	mu      sync.Mutex
	key     string
	lastSeq uint64
}

// NewVerifier starts a session whose client must sign with seq > baseline.
func NewVerifier(key string, baseline uint64) *Verifier {
	return &Verifier{key: key, lastSeq: baseline}
}

func (v *Verifier) Key() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key
}

func (v *Verifier) LastSeq() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeq
}

// Verify accepts the command and advances the sequence, or returns one of
// ErrNoKey, ErrUnsigned, ErrStaleSequence, ErrBadTag. Rejected commands do
// not move the sequence.
func (v *Verifier) Verify(seq uint64, text, tag string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == "" {
		return ErrNoKey
	}
	if tag == "" {
		return ErrUnsigned
	}
	if seq <= v.lastSeq {
		return ErrStaleSequence
	}
	if !Equal(tag, Tag(v.key, seq, text)) {
		return ErrBadTag
	}
	v.lastSeq = seq
	return nil
}
