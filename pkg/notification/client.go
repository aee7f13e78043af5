// Package notification delivers per-user notifications over websockets: a hub that
// pushes them and a client that subscribes with bounded reconnects.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectInterval = 3 * time.Second
	defaultBuffer            = 64
)

// ErrSubscriptionClosed is reported when the subscription gave up reconnecting.
var ErrSubscriptionClosed = errors.New("notification subscription closed")

// Client subscribes to the notification stream of a user.
type Client struct {
	baseURL  string
	dialer   *websocket.Dialer
	attempts uint64
	interval time.Duration
	buffer   int
	logger   *slog.Logger
}

type ClientOption func(*Client)

// WithReconnect sets how many reconnects are attempted after a drop and the fixed wait between them.
func WithReconnect(attempts int, interval time.Duration) ClientOption {
	return func(c *Client) {
		if attempts >= 0 {
			c.attempts = uint64(attempts)
		}

		if interval > 0 {
			c.interval = interval
		}
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// NewClient returns a client for the hub at baseURL (ws:// or wss://, http(s) is rewritten).
func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.Replace(baseURL, "http://", "ws://", 1)
	baseURL = strings.Replace(baseURL, "https://", "wss://", 1)

	c := &Client{
		baseURL:  baseURL,
		dialer:   websocket.DefaultDialer,
		attempts: DefaultReconnectAttempts,
		interval: DefaultReconnectInterval,
		buffer:   defaultBuffer,
		logger:   logger.With("module", "notification_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// URL returns the websocket endpoint of a user.
func (c *Client) URL(userID int64) string {
	return fmt.Sprintf("%s/ws/%d", c.baseURL, userID)
}

// Subscribe opens the stream of userID. The returned channel is closed when ctx is
// cancelled or when reconnecting failed after the configured attempts. Missed
// notifications are not replayed after a reconnect.
func (c *Client) Subscribe(ctx context.Context, userID int64) (<-chan models.Notification, error) {
	conn, err := c.dial(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Notification, c.buffer)
	sub := &subscription{client: c, userID: userID, out: out, done: make(chan struct{})}
	sub.setConn(conn)

	go func() {
		select {
		case <-ctx.Done():
			sub.closeConn()
		case <-sub.done:
		}
	}()

	go sub.run(ctx)

	return out, nil
}

func (c *Client) dial(ctx context.Context, userID int64) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.URL(userID), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.URL(userID), err)
	}

	return conn, nil
}

type subscription struct {
	client *Client
	userID int64
	out    chan models.Notification
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = conn
}

func (s *subscription) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *subscription) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	logger := s.client.logger.With("user_id", s.userID)

	for {
		s.read(ctx, s.current())

		if ctx.Err() != nil {
			return
		}

		logger.Warn("notification stream dropped, reconnecting",
			"attempts", s.client.attempts, "interval", s.client.interval)

		conn, err := s.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("giving up on notification stream", "error", err)
			}

			return
		}

		s.setConn(conn)

		// The context may have been cancelled while dialing.
		if ctx.Err() != nil {
			_ = conn.Close()

			return
		}

		logger.Info("notification stream reconnected")
	}
}

// reconnect tries up to the configured number of times, waiting the interval before
// each try. Every drop starts a fresh attempt budget.
func (s *subscription) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	if s.client.attempts == 0 {
		return nil, ErrSubscriptionClosed
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.client.interval), s.client.attempts-1),
		ctx,
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.client.interval):
	}

	err := backoff.Retry(func() error {
		c, err := s.client.dial(ctx, s.userID)
		if err != nil {
			s.client.logger.Debug("reconnect attempt failed", "user_id", s.userID, "error", err)

			return err
		}

		conn = c

		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionClosed, err)
	}

	return conn, nil
}

func (s *subscription) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()

			return
		}

		select {
		case s.out <- Decode(data, s.userID):
		case <-ctx.Done():
			return
		}
	}
}

// Decode parses a pushed frame. Frames that are not notification JSON become an
// error notification carrying the raw text.
func Decode(data []byte, userID int64) models.Notification {
	var n models.Notification
	if err := json.Unmarshal(data, &n); err != nil || n.Message == "" {
		return models.Notification{
			Message:   string(data),
			Type:      models.NotificationError,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
		}
	}

	if n.UserID == 0 {
		n.UserID = userID
	}

	if n.Type == "" {
		n.Type = models.NotificationInfo
	}

	return n
}
