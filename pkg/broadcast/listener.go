package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/swr/pkg/swr"
)

// Invalidator receives the keys a hub announced. *swr.Store satisfies
// it.
type Invalidator interface {
	Invalidate(key swr.Key)
}

// Listener connects to a Hub and forwards every invalidation it
// receives to a local Invalidator.
type Listener struct {
	url    string
	target Invalidator
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewListener creates a listener for the hub at url (a ws:// or wss://
// endpoint). A nil logger falls back to slog.Default.
func NewListener(url string, target Invalidator, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:    url,
		target: target,
		logger: logger.With("component", "broadcast_listener"),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run dials the hub and forwards invalidations until ctx is canceled or
// the connection fails. It returns nil on cancellation and the read or
// dial error otherwise; reconnect policy belongs to the caller.
func (l *Listener) Run(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}

	// Closing the connection is the only way to interrupt a blocked
	// read, so cancellation works through it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPingHandler(func(msg string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(msg), time.Now().Add(writeTimeout))
	})

	l.logger.Info("connected", "url", l.url)
	for {
		var inv Invalidation
		if err := conn.ReadJSON(&inv); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if len(inv.Key) == 0 {
			continue
		}
		l.logger.Debug("invalidation received", "key", swr.Key(inv.Key).String())
		l.target.Invalidate(swr.Key(inv.Key))
	}
}
