// Package client is the player-side connection runtime. It dials the
// server, owns one session.Session and one throttle.Controller per
// connection, and feeds snapshots and narration into a reconcile.Cache that
// outlives reconnects.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realmsync.ai/internal/persistence/journal"
	"realmsync.ai/internal/protocol"
	"realmsync.ai/internal/reconcile"
	"realmsync.ai/internal/session"
	"realmsync.ai/internal/throttle"
)

var ErrNotConnected = errors.New("not connected")

// Prefs is the durable local state the client needs. *localstore.Store
// implements it.
type Prefs interface {
	Override() (bool, error)
	SetOverride(on bool) error
	AppendNarrative(player string, lines ...string) error
	RecentNarrative(player string, n int) ([]string, error)
}

type Config struct {
	URL            string
	PlayerName     string
	InstallationID string
	QueueCap       int
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	ExemptZones    throttle.ZoneSet
	Clock          throttle.Clock
	Validator      *protocol.Validator
	Prefs          Prefs
	Matcher        reconcile.Matcher
	Journal        journal.Recorder
	Logger         *log.Logger

	// OnRender runs on every rendered snapshot, from the throttle
	// controller's goroutine and under its lock: it must not call back into
	// the Client's override or submit methods.
	OnRender func(View)
	// OnNarrative receives live narration; OnHistory the stored lines
	// replayed after each WELCOME.
	OnNarrative func(lines []string)
	OnHistory   func(lines []string)
	OnAck       func(ack protocol.AckMsg)
}

type Client struct {
	cfg     Config
	log     *log.Logger
	journal journal.Recorder
	cache   *reconcile.Cache

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu              sync.Mutex
	conn            *websocket.Conn
	sess            *session.Session
	ctrl            *throttle.Controller
	connected       bool
	lastErr         string
	serverSession   string
	playerName      string
	override        bool
	overrideAllowed bool
	prefSent        bool
	rendered        *protocol.StateMsg

	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.ExemptZones == nil {
		cfg.ExemptZones = throttle.NewZoneSet(throttle.DefaultExemptZones...)
	}
	if strings.TrimSpace(cfg.PlayerName) == "" {
		cfg.PlayerName = "player"
	}
	c := &Client{
		cfg:        cfg,
		log:        cfg.Logger,
		journal:    journal.Or(cfg.Journal),
		cache:      reconcile.NewCache(cfg.Matcher),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		playerName: cfg.PlayerName,
	}
	if cfg.Prefs != nil {
		on, err := cfg.Prefs.Override()
		if err != nil {
			c.log.Printf("load override: %v", err)
		}
		c.override = on
	}
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	return c
}

// resetLocked installs a fresh, unkeyed session and controller.
func (c *Client) resetLocked() {
	id := uuid.NewString()
	c.sess = session.New(c, session.Config{
		ID:       id,
		QueueCap: c.cfg.QueueCap,
		Journal:  c.journal,
		Logger:   c.log,
	})
	c.ctrl = throttle.New(c.render, throttle.Config{
		Clock:       c.cfg.Clock,
		ExemptZones: c.cfg.ExemptZones,
		Override:    c.override,
		Journal:     c.journal,
		SessionID:   id,
		Logger:      c.log,
	})
	c.prefSent = false
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		// Never started: nothing will close done.
		c.startOnce.Do(func() { close(c.done) })
		c.Disconnect()
		<-c.done
	})
}

// Disconnect drops the current connection. Unless the client is closed the
// run loop reconnects with backoff.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Submit sends a command, or queues it until the session is keyed.
func (c *Client) Submit(text, source string) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	return sess.Submit(strings.TrimSpace(text), source)
}

// SetOverride persists the flag, applies it locally and tells the server
// when it allows overrides.
func (c *Client) SetOverride(on bool) error {
	if c.cfg.Prefs != nil {
		if err := c.cfg.Prefs.SetOverride(on); err != nil {
			return fmt.Errorf("persist override: %w", err)
		}
	}
	c.mu.Lock()
	c.override = on
	ctrl := c.ctrl
	announce := c.connected && c.overrideAllowed
	c.mu.Unlock()
	ctrl.SetOverride(on)
	if announce {
		return c.sendPref(on)
	}
	return nil
}

func (c *Client) Override() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.override
}

type Status struct {
	Connected     bool
	ServerSession string
	LocalSession  string
	PlayerName    string
	Keyed         bool
	Pending       int
	Throttle      throttle.State
	LastError     string
}

func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		Connected:     c.connected,
		ServerSession: c.serverSession,
		LocalSession:  c.sess.ID(),
		PlayerName:    c.playerName,
		LastError:     c.lastErr,
	}
	sess, ctrl := c.sess, c.ctrl
	c.mu.Unlock()
	st.Keyed = sess.Keyed()
	st.Pending = len(sess.Pending())
	st.Throttle = ctrl.State()
	return st
}

// Cache exposes live health values.
func (c *Client) Cache() *reconcile.Cache { return c.cache }

// History returns the stored narrative for the configured player. The ring
// is keyed by the login name, not the name the server assigned.
func (c *Client) History(n int) ([]string, error) {
	if c.cfg.Prefs == nil {
		return nil, nil
	}
	return c.cfg.Prefs.RecentNarrative(c.cfg.PlayerName, n)
}

// SendCommand implements session.Sender.
func (c *Client) SendCommand(cmd protocol.CmdMsg) error {
	return c.writeJSON(cmd)
}

func (c *Client) sendPref(on bool) error {
	return c.writeJSON(protocol.ThrottlePrefMsg{
		Type:            protocol.TypeThrottlePref,
		ProtocolVersion: protocol.Version,
		Override:        on,
	})
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) run() {
	defer close(c.done)

	backoff := c.cfg.MinBackoff
	for {
		select {
		case <-c.stop:
			c.teardown()
			return
		default:
		}

		err := c.connectAndReadLoop()
		c.teardown()
		if err == nil {
			// Clean exit.
			return
		}
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.log.Printf("connection lost: %v (retry in %s)", err, backoff)
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if c.connectedOnce() {
			backoff = c.cfg.MinBackoff
			continue
		}
		if backoff < c.cfg.MaxBackoff {
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

// connectedOnce reports and clears whether the last attempt got a WELCOME.
func (c *Client) connectedOnce() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.serverSession != ""
	c.serverSession = ""
	return ok
}

// teardown ends the current session: the pending render is dropped, key,
// sequence and queue are cleared, and a fresh unkeyed session takes over so
// input typed while reconnecting is queued.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	wasConnected := c.connected
	c.connected = false
	sess, ctrl := c.sess, c.ctrl
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	ctrl.Stop()
	sess.OnDisconnect()
	if wasConnected {
		_ = c.journal.Record(journal.Entry{Kind: journal.KindSessionClose, Session: sess.ID()})
	}

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Client) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      c.cfg.PlayerName,
		InstallationID:  c.cfg.InstallationID,
	}
	c.mu.Lock()
	if c.overrideAllowed {
		on := c.override
		hello.ThrottleOverride = &on
	}
	c.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.lastErr = ""
	c.mu.Unlock()

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				return nil
			default:
			}
			return err
		}
		c.handleFrame(msg)
	}
}
