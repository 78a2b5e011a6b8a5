package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultReconnectDelay is the first delay before redialing a lost
	// realtime connection.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultMaxReconnectDelay caps the redial backoff.
	DefaultMaxReconnectDelay = 30 * time.Second
)

// WSFeedConfig configures a realtime client.
type WSFeedConfig struct {
	// URL is the realtime endpoint, e.g. ws://host:port/v1/realtime.
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// ReconnectDelay and MaxReconnectDelay bound the redial backoff.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// WSFeed is a Feed backed by a remote realtime endpoint. Each subscription
// owns one connection and redials it with backoff until closed. After a
// redial a KindResync event is delivered, since events may have been
// missed.
type WSFeed struct {
	cfg WSFeedConfig
	log *slog.Logger
}

// NewWSFeed creates a realtime client feed.
func NewWSFeed(cfg WSFeedConfig, log *slog.Logger) *WSFeed {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &WSFeed{
		cfg: cfg,
		log: log.With("component", "realtime_feed"),
	}
}

// Subscribe dials the endpoint for the user. The first dial is done
// synchronously so a bad URL or rejected token is reported here.
func (f *WSFeed) Subscribe(ctx context.Context,
	userID string) (*Subscription, error) {

	if userID == "" {
		return nil, errors.New("subscribe: empty user id")
	}

	conn, err := f.dial(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The connection outlives the ctx used to dial it; the subscription
	// is bound to ctx separately.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := newSubscription(userID, DefaultBufferSize)
	sub.onClose = cancel
	sub.bindContext(ctx)

	go f.run(runCtx, sub, conn)

	return sub, nil
}

// dial opens one connection for the user.
func (f *WSFeed) dial(ctx context.Context,
	userID string) (*websocket.Conn, error) {

	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if f.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+f.cfg.Token)
	}

	conn, resp, err := f.cfg.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime endpoint: %w "+
				"(HTTP %d)", err, resp.StatusCode)
		}

		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	return conn, nil
}

// run reads events until the subscription is closed, redialing whenever
// the connection drops.
func (f *WSFeed) run(ctx context.Context, sub *Subscription,
	conn *websocket.Conn) {

	defer sub.Close()

	for {
		err := f.readLoop(ctx, sub, conn)
		if ctx.Err() != nil {
			return
		}

		f.log.Warn("Realtime connection lost",
			"user_id", sub.UserID(), "error", err,
		)

		conn = f.redial(ctx, sub.UserID())
		if conn == nil {
			return
		}

		sub.deliver(Event{
			UserID: sub.UserID(),
			Kind:   KindResync,
			At:     time.Now().UTC(),
		})
	}
}

// redial dials with exponential backoff until it succeeds or ctx is done.
func (f *WSFeed) redial(ctx context.Context, userID string) *websocket.Conn {
	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := f.dial(ctx, userID)
		if err == nil {
			f.log.Info("Realtime connection restored",
				"user_id", userID,
			)

			return conn
		}

		f.log.Debug("Realtime redial failed",
			"user_id", userID, "retry_in", delay, "error", err,
		)

		delay = min(delay*2, f.cfg.MaxReconnectDelay)
	}
}

// readLoop forwards change frames until the connection fails or ctx is
// done.
func (f *WSFeed) readLoop(ctx context.Context, sub *Subscription,
	conn *websocket.Conn) error {

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		stop()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(
			websocket.PongMessage, []byte(data),
			time.Now().Add(writeWait),
		)
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Debug("Dropping malformed realtime frame",
				"error", err,
			)
			continue
		}

		if msg.Type != MsgTypeChange || msg.Event == nil {
			continue
		}

		// Only the user this connection was opened for is trusted.
		ev := *msg.Event
		ev.UserID = sub.UserID()
		sub.deliver(ev)
	}
}
