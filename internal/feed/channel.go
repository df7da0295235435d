package feed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"orderflow/internal/domain"

	"github.com/gorilla/websocket"
)

// Channel is a single duplex message channel carrying raw frames.
// It knows nothing about message semantics.
type Channel interface {
	Open(ctx context.Context, endpoint string, header http.Header) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close(reason string) error
}

// ChannelFactory returns a fresh, unopened channel for each connection attempt.
type ChannelFactory func() Channel

// WSOptions tunes the websocket transport.
type WSOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	UserAgent        string
}

var errChannelClosed = errors.New("channel is not open")

// WSChannel is a Channel over gorilla/websocket.
type WSChannel struct {
	opts    WSOptions
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
}

// NewWSChannel creates an unopened websocket channel
func NewWSChannel(opts WSOptions) *WSChannel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &WSChannel{opts: opts}
}

// WSFactory returns a ChannelFactory producing WSChannels with the given options.
func WSFactory(opts WSOptions) ChannelFactory {
	return func() Channel { return NewWSChannel(opts) }
}

// Open dials the endpoint. header is passed through on the handshake.
func (c *WSChannel) Open(ctx context.Context, endpoint string, header http.Header) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if c.opts.UserAgent != "" && h.Get("User-Agent") == "" {
		h.Set("User-Agent", c.opts.UserAgent)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, h)
	if err != nil {
		// 4xx on the handshake will not improve by retrying
		retriable := resp == nil || resp.StatusCode >= 500
		return &domain.TransportError{Op: "dial", Err: err, Retriable: retriable}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Send writes one text frame. Writes are serialized.
func (c *WSChannel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return domain.NewTransportError("send", errChannelClosed)
	}

	if c.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return domain.NewTransportError("send", err)
	}
	return nil
}

// Receive blocks for the next frame. Only one goroutine may call it.
func (c *WSChannel) Receive() ([]byte, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, domain.NewTransportError("receive", errChannelClosed)
	}

	if c.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, domain.NewTransportError("receive", err)
	}
	return data, nil
}

// Close sends a close frame and tears down the connection. Safe to call twice.
func (c *WSChannel) Close(reason string) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return conn.Close()
}
