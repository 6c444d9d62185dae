package session

import (
	"errors"
	"fmt"
	"testing"

	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/signing"
)

type recordingSender struct {
	sent []protocol.CmdMsg
	fail error
}

func (r *recordingSender) SendCommand(cmd protocol.CmdMsg) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, cmd)
	return nil
}

type failingSigner struct{}

func (failingSigner) Sign(string, uint64, string) string { return "" }

func TestQueue_BoundDropsOldest(t *testing.T) {
	s := New(&recordingSender{}, Config{})
	for i := 1; i <= 11; i++ {
		if err := s.Submit(fmt.Sprintf("cmd%d", i), "input"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	p := s.Pending()
	if len(p) != 10 {
		t.Fatalf("pending=%d want 10", len(p))
	}
	if p[0].Text != "cmd2" {
		t.Fatalf("oldest retained=%q want cmd2", p[0].Text)
	}
	if p[9].Text != "cmd11" {
		t.Fatalf("newest=%q want cmd11", p[9].Text)
	}
}

func TestSubmit_UnkeyedNeverTransmits(t *testing.T) {
	snd := &recordingSender{}
	s := New(snd, Config{})
	_ = s.Submit("say hi", "chat")
	if len(snd.sent) != 0 {
		t.Fatalf("unkeyed session transmitted %d commands", len(snd.sent))
	}
	if err := s.Flush(); !errors.Is(err, ErrNoKey) {
		t.Fatalf("flush without key: got %v", err)
	}
}

func TestOnKeyIssued_FlushesInOrderWithIncreasingSeq(t *testing.T) {
	snd := &recordingSender{}
	s := New(snd, Config{})
	for _, c := range []string{"a", "b", "c"} {
		_ = s.Submit(c, "input")
	}
	if err := s.OnKeyIssued("k", 5); err != nil {
		t.Fatalf("key: %v", err)
	}
	if len(snd.sent) != 3 {
		t.Fatalf("sent=%d want 3", len(snd.sent))
	}
	for i, want := range []string{"a", "b", "c"} {
		got := snd.sent[i]
		if got.Text != want {
			t.Fatalf("sent[%d]=%q want %q", i, got.Text, want)
		}
		if got.Seq != uint64(6+i) {
			t.Fatalf("sent[%d].seq=%d want %d", i, got.Seq, 6+i)
		}
		if got.Tag != signing.Tag("k", got.Seq, got.Text) {
			t.Fatalf("sent[%d] bad tag", i)
		}
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestSequence_MonotonicAcrossFlushes(t *testing.T) {
	snd := &recordingSender{}
	s := New(snd, Config{})
	_ = s.OnKeyIssued("k", 0)
	_ = s.Submit("one", "")
	_ = s.Flush()
	_ = s.Submit("two", "")
	_ = s.Flush()
	_ = s.Submit("three", "")
	var last uint64
	for i, c := range snd.sent {
		if c.Seq <= last {
			t.Fatalf("sent[%d].seq=%d not > %d", i, c.Seq, last)
		}
		if c.Tag == "" {
			t.Fatalf("sent[%d] has empty tag after key issuance", i)
		}
		last = c.Seq
	}
	if len(snd.sent) != 3 {
		t.Fatalf("sent=%d want 3", len(snd.sent))
	}
}

func TestOnKeyIssued_NeverLowersSequence(t *testing.T) {
	s := New(&recordingSender{}, Config{})
	_ = s.OnKeyIssued("k", 10)
	_ = s.Submit("x", "")
	if err := s.OnKeyIssued("k", 3); err != nil {
		t.Fatalf("re-issue same key: %v", err)
	}
	if got := s.NextSequence(); got != 12 {
		t.Fatalf("next seq=%d want 12", got)
	}
	if err := s.OnKeyIssued("other", 100); !errors.Is(err, ErrKeyImmutable) {
		t.Fatalf("replacing key: got %v", err)
	}
}

func TestSignFailure_CommandNotSent(t *testing.T) {
	snd := &recordingSender{}
	s := New(snd, Config{Signer: failingSigner{}})
	_ = s.Submit("queued", "")
	if err := s.OnKeyIssued("k", 0); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("flush with failing signer: got %v", err)
	}
	if err := s.Submit("direct", ""); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("direct send: got %v", err)
	}
	if len(snd.sent) != 0 {
		t.Fatalf("unsigned commands were transmitted: %+v", snd.sent)
	}
}

func TestFlush_SendFailureKeepsCommandQueued(t *testing.T) {
	snd := &recordingSender{fail: errors.New("conn closed")}
	s := New(snd, Config{})
	_ = s.Submit("a", "")
	_ = s.Submit("b", "")
	if err := s.OnKeyIssued("k", 0); err == nil {
		t.Fatalf("expected send error")
	}
	p := s.Pending()
	if len(p) != 2 || p[0].Text != "a" {
		t.Fatalf("pending after failed flush: %+v", p)
	}
	snd.fail = nil
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(snd.sent) != 2 || snd.sent[0].Seq >= snd.sent[1].Seq || snd.sent[0].Seq <= 1 {
		t.Fatalf("unexpected resend: %+v", snd.sent)
	}
}

func TestOnDisconnect_ClearsEverything(t *testing.T) {
	snd := &recordingSender{}
	s := New(snd, Config{})
	_ = s.Submit("a", "")
	_ = s.OnKeyIssued("k", 4)
	_ = s.Submit("b", "")
	s.OnDisconnect()
	if s.Keyed() || s.Sequence() != 0 || len(s.Pending()) != 0 {
		t.Fatalf("state not cleared: keyed=%v seq=%d pending=%d", s.Keyed(), s.Sequence(), len(s.Pending()))
	}
	if err := s.Submit("c", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after disconnect: got %v", err)
	}
	if err := s.OnKeyIssued("k", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("key after disconnect: got %v", err)
	}
}

func TestSubmit_EmptyRejected(t *testing.T) {
	s := New(&recordingSender{}, Config{})
	if err := s.Submit("", "input"); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("got %v", err)
	}
}

// failOnce fails the first send of one command text.
type failOnce struct {
	recordingSender
	text   string
	failed bool
}

func (f *failOnce) SendCommand(cmd protocol.CmdMsg) error {
	if cmd.Text == f.text && !f.failed {
		f.failed = true
		return errors.New("write timeout")
	}
	return f.recordingSender.SendCommand(cmd)
}

func TestSubmit_AfterFailedFlushKeepsOrder(t *testing.T) {
	snd := &failOnce{text: "b"}
	s := New(snd, Config{})
	for _, c := range []string{"a", "b", "c"} {
		_ = s.Submit(c, "t")
	}
	if err := s.OnKeyIssued("k", 0); err == nil {
		t.Fatalf("expected send error for b")
	}
	if err := s.Submit("d", "t"); err != nil {
		t.Fatalf("submit d: %v", err)
	}
	var got []string
	for i, cmd := range snd.sent {
		got = append(got, cmd.Text)
		if i > 0 && cmd.Seq <= snd.sent[i-1].Seq {
			t.Fatalf("seq not increasing: %+v", snd.sent)
		}
	}
	if fmt.Sprint(got) != "[a b c d]" {
		t.Fatalf("sent order=%v want [a b c d]", got)
	}
	if p := s.Pending(); len(p) != 0 {
		t.Fatalf("pending=%+v", p)
	}
}

func TestQueue_PushFrontOnFullQueueDropsNewest(t *testing.T) {
	q := NewQueue(3)
	for _, c := range []string{"b", "c", "d"} {
		q.Enqueue(Command{Text: c})
	}
	dropped, ok := q.pushFront(Command{Text: "a"})
	if !ok || dropped.Text != "d" {
		t.Fatalf("dropped=%+v ok=%v want d", dropped, ok)
	}
	items := q.Items()
	if len(items) != 3 || items[0].Text != "a" || items[2].Text != "c" {
		t.Fatalf("items=%+v", items)
	}
	q.Pop()
	if _, ok := q.pushFront(Command{Text: "a"}); ok {
		t.Fatalf("pushFront with room must not drop")
	}
}
