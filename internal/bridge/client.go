package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/sessionrelay/internal/lifecycle"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("bridge: address required")
	ErrNotConnected    = errors.New("bridge: not connected")
)

// Client is the messaging-client connection. It is both the dispatcher's
// signal source and its lifecycle.Client.
type Client struct {
	cfg     Config
	dialer  websocket.Dialer
	rng     *rand.Rand
	signals chan lifecycle.Signal

	loggedIn atomic.Bool

	connMu sync.Mutex
	conn   *websocket.Conn
}

var (
	_ lifecycle.Source = (*Client)(nil)
	_ lifecycle.Client = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	return &Client{
		cfg:     cfg,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		signals: make(chan lifecycle.Signal, cfg.SignalBuffer),
	}, nil
}

func (c *Client) Signals() <-chan lifecycle.Signal {
	return c.signals
}

// IsLoggedIn reports the last session flag the messaging client sent. It
// drops to false while no socket is open.
func (c *Client) IsLoggedIn() bool {
	return c.loggedIn.Load()
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Logout asks the messaging client to end its session.
func (c *Client) Logout(ctx context.Context) error {
	data, err := json.Marshal(commandFrame{Action: actionLogout})
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run keeps a connection open until ctx ends, then closes Signals.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.signals)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.Address, nil)
		if err != nil {
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Str("address", c.cfg.Address).Msg("bridge_dial_failed")
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		c.setConn(conn)
		log.Info().Str("address", c.cfg.Address).Msg("bridge_connected")

		err = c.readLoop(ctx, conn)
		c.clearConn(conn)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("bridge_connection_lost")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		loggedIn := loggedInAfter(f, c.loggedIn.Load())
		c.loggedIn.Store(loggedIn)

		sig, ok, err := decodeFrame(f)
		if err != nil {
			log.Warn().Err(err).Msg("bridge_frame_dropped")
			continue
		}
		if !ok {
			continue
		}
		sig.LoggedIn = &loggedIn
		select {
		case c.signals <- sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.loggedIn.Store(false)
	}
	_ = conn.Close()
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.cfg.Backoff.Delay(attempt, c.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
