// Package whatsapp connects to the WhatsApp bridge process over WebSocket
// and exposes it as a session.Connection.
//
// Frames are JSON objects with a "type" field. Outbound: auth, init, send,
// info. Inbound: qr, authenticated, ready, auth_failure, disconnected, status,
// sent, info, error. Request/response pairs are matched on "requestId".
package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crystaldolphin/whatscast/internal/session"
)

const (
	defaultBridgeURL      = "ws://localhost:3002"
	defaultReconnectDelay = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

var (
	ErrNotConnected = errors.New("whatsapp: bridge not connected")
	ErrClosed       = errors.New("whatsapp: client closed")
)

// Config configures the bridge client.
type Config struct {
	BridgeURL      string
	BridgeToken    string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BridgeURL == "" {
		c.BridgeURL = defaultBridgeURL
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// frame is the union of every bridge message.
type frame struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId,omitempty"`
	Token     string        `json:"token,omitempty"`
	ClientID  string        `json:"clientId,omitempty"`
	DataPath  string        `json:"dataPath,omitempty"`
	To        string        `json:"to,omitempty"`
	Text      string        `json:"text,omitempty"`
	Media     *mediaFrame   `json:"media,omitempty"`
	QR        string        `json:"qr,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Status    string        `json:"status,omitempty"`
	ID        string        `json:"id,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"`
	Info      *session.Info `json:"info,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type mediaFrame struct {
	Kind     string `json:"kind"` // url | path | inline
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Data     string `json:"data,omitempty"` // base64
	Mimetype string `json:"mimetype,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func encodeMedia(m session.Media) *mediaFrame {
	switch v := m.(type) {
	case session.MediaURL:
		return &mediaFrame{Kind: "url", URL: v.URL}
	case session.MediaPath:
		return &mediaFrame{Kind: "path", Path: v.Path}
	case session.MediaInline:
		return &mediaFrame{
			Kind:     "inline",
			Data:     base64.StdEncoding.EncodeToString(v.Data),
			Mimetype: v.Mime,
			Filename: v.Filename,
		}
	}
	return nil
}

// Client is a bridge connection. It reconnects on socket loss until Close.
type Client struct {
	cfg  Config
	opts session.ConnectOptions
	h    session.Handlers
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan frame

	seq       atomic.Uint64
	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnector returns a session.Connector that builds bridge clients.
func NewConnector(cfg Config, log *slog.Logger) session.Connector {
	return func(_ context.Context, opts session.ConnectOptions, h session.Handlers) (session.Connection, error) {
		return New(cfg, opts, h, log), nil
	}
}

// New creates a Client. Nothing is dialed until Initialize.
func New(cfg Config, opts session.ConnectOptions, h session.Handlers, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg.withDefaults(),
		opts:    opts,
		h:       h,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
}

// Initialize dials the bridge, asks it to start pairing and starts the read
// loop. ctx bounds the first dial only.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("whatsapp: already initialized")
	}
	c.log.Info("whatsapp: connecting to bridge", "url", c.cfg.BridgeURL)
	conn, err := c.dial(ctx)
	if err != nil {
		close(c.done)
		return err
	}
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.BridgeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: dial %s: %w", c.cfg.BridgeURL, err)
	}

	if c.cfg.BridgeToken != "" {
		if err := conn.WriteJSON(frame{Type: "auth", Token: c.cfg.BridgeToken}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("whatsapp: send auth: %w", err)
		}
	}
	if err := conn.WriteJSON(frame{Type: "init", ClientID: c.opts.ClientID, DataPath: c.opts.DataPath}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("whatsapp: send init: %w", err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("whatsapp: connected to bridge")
	return conn, nil
}

// run reads from conn and reconnects after socket loss until Close.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.failPending(ErrNotConnected)

		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("whatsapp: connection lost, reconnecting", "err", err, "delay", c.cfg.ReconnectDelay)
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(err.Error())
		}

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
			conn, err = c.dial(c.ctx)
			if err == nil {
				break
			}
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("whatsapp: reconnect failed", "err", err)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("whatsapp: invalid frame", "err", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case "qr":
		if c.h.OnQR != nil {
			c.h.OnQR(f.QR)
		}
	case "authenticated":
		if c.h.OnAuthenticated != nil {
			c.h.OnAuthenticated()
		}
	case "ready":
		if c.h.OnReady != nil {
			c.h.OnReady()
		}
	case "auth_failure":
		if c.h.OnAuthFailure != nil {
			c.h.OnAuthFailure(f.Reason)
		}
	case "disconnected":
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(f.Reason)
		}
	case "status":
		c.log.Info("whatsapp: status", "status", f.Status)
	case "sent", "info", "error":
		if f.RequestID == "" {
			if f.Type == "error" {
				c.log.Error("whatsapp: bridge error", "error", f.Error)
			}
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	default:
		c.log.Debug("whatsapp: unhandled frame", "type", f.Type)
	}
}

// Send delivers text and optional media to the routing id `to`.
func (c *Client) Send(ctx context.Context, to, text string, media session.Media) (session.Receipt, error) {
	resp, err := c.request(ctx, frame{Type: "send", To: to, Text: text, Media: encodeMedia(media)})
	if err != nil {
		return session.Receipt{}, err
	}
	r := session.Receipt{ID: resp.ID}
	if resp.Timestamp > 0 {
		r.Timestamp = time.Unix(resp.Timestamp, 0)
	} else {
		r.Timestamp = time.Now()
	}
	return r, nil
}

// Info asks the bridge for the logged-in account.
func (c *Client) Info(ctx context.Context) (session.Info, error) {
	resp, err := c.request(ctx, frame{Type: "info"})
	if err != nil {
		return session.Info{}, err
	}
	if resp.Info == nil {
		return session.Info{}, errors.New("whatsapp: empty info response")
	}
	return *resp.Info, nil
}

func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	f.RequestID = strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[f.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Type == "error" {
			return frame{}, fmt.Errorf("whatsapp: bridge: %s", resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return frame{}, fmt.Errorf("whatsapp: %s request timed out after %s", f.Type, c.cfg.RequestTimeout)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.ctx.Done():
		return frame{}, ErrClosed
	}
}

func (c *Client) write(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- frame{Type: "error", RequestID: id, Error: err.Error()}
	}
}

// Close stops reconnecting, closes the socket and fails pending requests.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			conn.Close()
		}
		c.failPending(ErrClosed)
	})
	if c.started.Load() {
		<-c.done
	}
	return nil
}
