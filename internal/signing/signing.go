// Package signing derives and checks the per-command authentication tag.
//
// A tag is hex(HMAC-SHA256(key, "<seq>|<text>")). The key is issued once per
// connection by the server and never persisted.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strconv"
)

// TagLen is the length of a hex tag produced by Tag.
const TagLen = sha256.Size * 2

var (
	ErrUnsigned      = errors.New("signing: command has no tag")
	ErrBadTag        = errors.New("signing: tag mismatch")
	ErrStaleSequence = errors.New("signing: sequence not increasing")
	ErrNoKey         = errors.New("signing: no key issued")
)

// Signer produces tags. An empty result means the command could not be
// signed and must not be sent.
type Signer interface {
	Sign(key string, seq uint64, text string) string
}

// HMACSigner is the default Signer.
type HMACSigner struct {
	// New is the hash constructor; nil means sha256.New.
	New func() hash.Hash
}

func (s HMACSigner) Sign(key string, seq uint64, text string) string {
	newHash := s.New
	if newHash == nil {
		newHash = sha256.New
	}
	return tag(newHash, key, seq, text)
}

// Tag signs with the default HMAC-SHA256 signer.
func Tag(key string, seq uint64, text string) string {
	return tag(sha256.New, key, seq, text)
}

func tag(newHash func() hash.Hash, key string, seq uint64, text string) (out string) {
	if key == "" {
		return ""
	}
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()
	h := hmac.New(newHash, []byte(key))
	_, _ = h.Write([]byte(canonical(seq, text)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonical(seq uint64, text string) string {
	return strconv.FormatUint(seq, 10) + "|" + text
}

// Equal compares two hex tags in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
