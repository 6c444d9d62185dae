// Package session owns the per-connection signing state: the key issued by
// the server, the outgoing sequence counter and the queue of commands typed
// before the key arrived. A Session lives exactly as long as one connection.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/signing"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrNoKey        = errors.New("session has no signing key")
	ErrUnsigned     = errors.New("command could not be signed")
	ErrKeyImmutable = errors.New("session key already issued")
	ErrEmptyCommand = errors.New("empty command")
)

// Sender transmits one signed command. It must not call back into the
// Session.
type Sender interface {
	SendCommand(cmd protocol.CmdMsg) error
}

type SenderFunc func(cmd protocol.CmdMsg) error

func (f SenderFunc) SendCommand(cmd protocol.CmdMsg) error { return f(cmd) }

type Config struct {
	ID       string
	QueueCap int
	Signer   signing.Signer
	Journal  journal.Recorder
	Logger   *log.Logger
}

type Session struct {
	id      string
	sender  Sender
	signer  signing.Signer
	journal journal.Recorder
	log     *log.Logger

	mu     sync.Mutex
	key    string
	seq    uint64
	queue  *Queue
	closed bool
}

func New(sender Sender, cfg Config) *Session {
	if cfg.Signer == nil {
		cfg.Signer = signing.HMACSigner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		id:      cfg.ID,
		sender:  sender,
		signer:  cfg.Signer,
		journal: journal.Or(cfg.Journal),
		log:     cfg.Logger,
		queue:   NewQueue(cfg.QueueCap),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Keyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != ""
}

// Sequence returns the last sequence number used (or the server baseline).
func (s *Session) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Session) Pending() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Items()
}

// NextSequence reserves and returns the next outgoing sequence number.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequenceLocked()
}

func (s *Session) nextSequenceLocked() uint64 {
	s.seq++
	return s.seq
}

// Submit sends text signed when the session is keyed, otherwise queues it.
func (s *Session) Submit(text, source string) error {
	if text == "" {
		return ErrEmptyCommand
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	c := Command{Text: text, Source: source}
	if s.key == "" {
		s.enqueueLocked(c)
		return nil
	}
	// A failed flush left a backlog: c goes behind it.
	if s.queue.Len() > 0 {
		s.enqueueLocked(c)
		return s.flushLocked()
	}
	return s.sendLocked(c)
}

func (s *Session) enqueueLocked(c Command) {
	if old, evicted := s.queue.Enqueue(c); evicted {
		s.record(journal.Entry{Kind: journal.KindCmdEvicted, Text: old.Text, Source: old.Source})
	}
	s.record(journal.Entry{Kind: journal.KindCmdQueued, Text: c.Text, Source: c.Source})
}

// OnKeyIssued installs the session key, raises the sequence to the server's
// baseline (never lowers it) and flushes queued commands.
func (s *Session) OnKeyIssued(key string, seq uint64) error {
	if key == "" {
		return ErrNoKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.key != "" && s.key != key {
		return ErrKeyImmutable
	}
	s.key = key
	if seq > s.seq {
		s.seq = seq
	}
	s.record(journal.Entry{Kind: journal.KindKeyIssued, Seq: s.seq})
	return s.flushLocked()
}

// Flush drains the queue in submission order. It requires a key.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if s.key == "" {
		return ErrNoKey
	}
	var unsigned error
	for {
		c, ok := s.queue.Pop()
		if !ok {
			return unsigned
		}
		err := s.sendLocked(c)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnsigned):
			unsigned = err
		default:
			if dropped, ok := s.queue.pushFront(c); ok {
				s.record(journal.Entry{Kind: journal.KindCmdEvicted, Text: dropped.Text, Source: dropped.Source})
			}
			return err
		}
	}
}

func (s *Session) sendLocked(c Command) error {
	seq := s.nextSequenceLocked()
	tag := s.signer.Sign(s.key, seq, c.Text)
	if tag == "" {
		s.log.Printf("session %s: unsigned command dropped seq=%d", s.id, seq)
		s.record(journal.Entry{Kind: journal.KindCmdUnsigned, Seq: seq, Text: c.Text, Source: c.Source})
		return ErrUnsigned
	}
	msg := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		Text:            c.Text,
		Source:          c.Source,
		Seq:             seq,
		Tag:             tag,
	}
	if err := s.sender.SendCommand(msg); err != nil {
		return fmt.Errorf("send seq=%d: %w", seq, err)
	}
	s.record(journal.Entry{Kind: journal.KindCmdSent, Seq: seq, Text: c.Text, Source: c.Source})
	return nil
}

// OnDisconnect clears key, sequence and queue. The Session refuses further
// use; a reconnect gets a fresh Session.
func (s *Session) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.key = ""
	s.seq = 0
	s.queue.Clear()
	s.closed = true
}

func (s *Session) record(e journal.Entry) {
	e.Session = s.id
	_ = s.journal.Record(e)
}
