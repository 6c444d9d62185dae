package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"realmsync.ai/internal/arena"
	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/signing"
)

type Options struct {
	Journal   journal.Recorder
	Validator *protocol.Validator
	// RateLimit is commands per second per connection; zero disables it.
	RateLimit float64
	Burst     int
	// NewKey issues the per-connection signing key.
	NewKey func() (string, error)
}

type Server struct {
	world   *arena.World
	log     *log.Logger
	opts    Options
	journal journal.Recorder
	metrics *Metrics

	upgrader websocket.Upgrader
}

func NewServer(w *arena.World, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.NewKey == nil {
		opts.NewKey = NewKey
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	s := &Server{
		world:   w,
		log:     logger,
		opts:    opts,
		journal: journal.Or(opts.Journal),
		metrics: &Metrics{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Metrics() *Metrics { return s.metrics }

// NewKey returns 32 random bytes, hex encoded.
func NewKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// conn is the server side of one keyed session.
type conn struct {
	sessionID string
	playerID  string
	name      string
	verifier  *signing.Verifier
	limiter   *rate.Limiter
	override  bool

	// out is fed by the arena and drops its oldest frame when full; ctrl
	// carries ACKs and the keyed STATE and is never dropped from.
	out  chan []byte
	ctrl chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := s.handshake(ws)
		if c == nil {
			return
		}
		s.metrics.sessionOpened()
		defer s.metrics.sessionClosed()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. Control frames go first.
		go func() {
			write := func(b []byte) bool {
				_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return false
				}
				return true
			}
			for {
				select {
				case b := <-c.ctrl:
					if !write(b) {
						return
					}
					continue
				default:
				}
				select {
				case <-ctx.Done():
					return
				case b := <-c.ctrl:
					if !write(b) {
						return
					}
				case b := <-c.out:
					if !write(b) {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeCmd:
				s.handleCmd(ctx, c, msg)
			case protocol.TypeThrottlePref:
				s.handleThrottlePref(c, msg)
			}
		}

		// Cleanup.
		s.world.Leave() <- c.playerID
		_ = s.journal.Record(journal.Entry{Kind: journal.KindSessionClose, Session: c.sessionID, Seq: c.verifier.LastSeq()})
		s.log.Printf("session %s closed (%s, last seq %d, override %v)", c.sessionID, c.name, c.verifier.LastSeq(), c.override)
	}
}

func (s *Server) handshake(ws *websocket.Conn) *conn {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(ws, "expected HELLO")
		return nil
	}
	if err := s.opts.Validator.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(ws, "invalid HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(ws, "invalid HELLO")
		return nil
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		closeWith(ws, "bad protocol_version")
		return nil
	}

	key, err := s.opts.NewKey()
	if err != nil || key == "" {
		s.log.Printf("issue key: %v", err)
		closeWith(ws, "internal error")
		return nil
	}
	c := &conn{
		sessionID: uuid.NewString(),
		verifier:  signing.NewVerifier(key, 0),
		out:       make(chan []byte, 64),
		ctrl:      make(chan []byte, 64),
	}
	if s.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.Burst)
	}

	respCh := make(chan arena.JoinResponse, 1)
	s.world.Join() <- arena.JoinRequest{
		Name:      strings.TrimSpace(hello.PlayerName),
		Bootstrap: &protocol.SessionBootstrap{Key: key, Seq: 0},
		Out:       c.out,
		Control:   c.ctrl,
		Resp:      respCh,
	}
	resp := <-respCh
	c.playerID = resp.PlayerID
	c.name = resp.Welcome.PlayerName

	welcome := resp.Welcome
	welcome.SessionID = c.sessionID
	if err := writeJSON(ws, welcome); err != nil {
		s.world.Leave() <- c.playerID
		return nil
	}

	_ = s.journal.Record(journal.Entry{Kind: journal.KindSessionOpen, Session: c.sessionID, Text: c.name})
	_ = s.journal.Record(journal.Entry{Kind: journal.KindKeyIssued, Session: c.sessionID})
	s.log.Printf("session %s opened for %s (installation %s)", c.sessionID, c.name, hello.InstallationID)

	if hello.ThrottleOverride != nil {
		s.applyOverride(c, *hello.ThrottleOverride)
	}
	return c
}

func (s *Server) handleCmd(ctx context.Context, c *conn, raw []byte) {
	if err := s.opts.Validator.Validate(protocol.TypeCmd, raw); err != nil {
		s.reject(ctx, c, 0, "", protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.reject(ctx, c, 0, "", protocol.ErrProtoBadRequest, "bad CMD")
		return
	}
	if !protocol.IsSupportedVersion(cmd.ProtocolVersion) {
		s.reject(ctx, c, cmd.Seq, cmd.Text, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		s.reject(ctx, c, cmd.Seq, cmd.Text, protocol.ErrRateLimit, "too many commands")
		return
	}
	if err := c.verifier.Verify(cmd.Seq, cmd.Text, cmd.Tag); err != nil {
		code := verifyCode(err)
		s.reject(ctx, c, cmd.Seq, cmd.Text, code, err.Error())
		return
	}

	select {
	case s.world.Inbox() <- arena.CommandEnvelope{PlayerID: c.playerID, Cmd: cmd}:
	case <-ctx.Done():
		return
	}
	s.metrics.accepted()
	_ = s.journal.Record(journal.Entry{Kind: journal.KindCmdAccepted, Session: c.sessionID, Seq: cmd.Seq, Text: cmd.Text, Source: cmd.Source})
	s.send(ctx, c, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		Seq:             cmd.Seq,
		Accepted:        true,
	})
}

func (s *Server) reject(ctx context.Context, c *conn, seq uint64, text, code, msg string) {
	s.metrics.rejected(code)
	_ = s.journal.Record(journal.Entry{Kind: journal.KindCmdRejected, Session: c.sessionID, Seq: seq, Text: text, Code: code})
	s.send(ctx, c, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Accepted:        false,
		Code:            code,
		Message:         msg,
	})
}

func verifyCode(err error) string {
	switch {
	case errors.Is(err, signing.ErrUnsigned):
		return protocol.ErrUnsigned
	case errors.Is(err, signing.ErrBadTag):
		return protocol.ErrBadSignature
	case errors.Is(err, signing.ErrStaleSequence):
		return protocol.ErrStale
	case errors.Is(err, signing.ErrNoKey):
		return protocol.ErrNoSession
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) handleThrottlePref(c *conn, raw []byte) {
	if err := s.opts.Validator.Validate(protocol.TypeThrottlePref, raw); err != nil {
		return
	}
	var pref protocol.ThrottlePrefMsg
	if err := json.Unmarshal(raw, &pref); err != nil {
		return
	}
	s.applyOverride(c, pref.Override)
}

// applyOverride records the client's render preference. Clients are told
// whether overrides are allowed; a disallowed announcement is ignored.
func (s *Server) applyOverride(c *conn, on bool) {
	if !s.world.Throttle().OverrideAllowed {
		return
	}
	c.override = on
	reason := "off"
	if on {
		reason = "on"
	}
	_ = s.journal.Record(journal.Entry{Kind: journal.KindThrottlePref, Session: c.sessionID, Reason: reason})
}

// send queues v on the control channel, blocking until there is room;
// acks must not be dropped.
func (s *Server) send(ctx context.Context, c *conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.ctrl <- b:
	case <-ctx.Done():
	}
}

func closeWith(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, b)
}
