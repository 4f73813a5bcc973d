// Package hass talks to the Home Assistant WebSocket API.
//
// Non-blocking calls return as soon as the call_service frame is written to
// the socket. Home Assistant's result frame is read in the background and only
// logged.
package hass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrAuthInvalid = errors.New("home assistant rejected access token")
	ErrClosed      = errors.New("home assistant connection closed")
)

const handshakeTimeout = 10 * time.Second

type message struct {
	ID          int64          `json:"id,omitempty"`
	Type        string         `json:"type"`
	AccessToken string         `json:"access_token,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	ServiceData map[string]any `json:"service_data,omitempty"`
	Success     *bool          `json:"success,omitempty"`
	Error       *resultError   `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
	HAVersion   string         `json:"ha_version,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *resultError) Error() string { return e.Code + ": " + e.Message }

// Client is a lazily (re)connecting Home Assistant WebSocket client.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan error
	closed  bool
}

func NewClient(url, token string) *Client {
	return &Client{
		url:     url,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pending: make(map[int64]chan error),
	}
}

// Connect dials and authenticates if there is no live connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connLocked(ctx)
	return err
}

func (c *Client) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial home assistant: %w", err)
	}
	if err := authenticate(ctx, conn, c.token); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.conn = conn
	go c.readLoop(conn)
	slog.Info("home assistant connected", "url", c.url)
	return conn, nil
}

func authenticate(ctx context.Context, conn *websocket.Conn, token string) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
		_ = conn.SetWriteDeadline(time.Time{})
	}()

	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}
	if err := conn.WriteJSON(message{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	var reply message
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, reply.Message)
	default:
		return fmt.Errorf("unexpected auth reply %q", reply.Type)
	}
}

// Dispatch sends a call_service frame. With blocking false it returns once
// the frame is written; with blocking true it also waits for Home Assistant's
// result or for ctx to end.
func (c *Client) Dispatch(ctx context.Context, domain, action string, payload map[string]any, blocking bool) error {
	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	var waiter chan error
	if blocking {
		waiter = make(chan error, 1)
		c.pending[id] = waiter
	}
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(d)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	err = conn.WriteJSON(message{
		ID:          id,
		Type:        "call_service",
		Domain:      domain,
		Service:     action,
		ServiceData: payload,
	})
	if err != nil {
		delete(c.pending, id)
		c.dropLocked(conn, err)
		c.mu.Unlock()
		return fmt.Errorf("send call_service: %w", err)
	}
	c.mu.Unlock()

	if !blocking {
		return nil
	}
	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.dropLocked(conn, err)
			c.mu.Unlock()
			return
		}
		if msg.Type != "result" || msg.ID == 0 {
			continue
		}

		var resErr error
		if msg.Success != nil && !*msg.Success {
			if msg.Error != nil {
				resErr = msg.Error
			} else {
				resErr = errors.New("service call failed")
			}
			slog.Warn("home assistant service call failed", "id", msg.ID, "error", resErr)
		}

		c.mu.Lock()
		waiter, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			waiter <- resErr
		}
	}
}

// dropLocked forgets conn if it is still current and fails any waiters.
func (c *Client) dropLocked(conn *websocket.Conn, cause error) {
	if c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	for id, w := range c.pending {
		w <- fmt.Errorf("%w: %v", ErrClosed, cause)
		delete(c.pending, id)
	}
	if !c.closed {
		slog.Warn("home assistant connection dropped", "error", cause)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		c.dropLocked(c.conn, ErrClosed)
	}
	return nil
}
