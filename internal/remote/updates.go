package remote

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied after each consecutive connection failure.
	reconnectBackoffMultiplier = 2

	// jitterDivisor controls the random jitter added to reconnect
	// backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// updatesReadLimit bounds update messages. They carry metadata
	// only, never content.
	updatesReadLimit = 1 * 1024 * 1024
)

// Listener subscribes to the store's update feed over WebSocket. Each
// time another device changes the workspace, the server pushes a small
// JSON message; the listener invokes notify so the engine can schedule
// a sync pass. Messages carry no payload worth trusting, so a pass is
// always a full manifest comparison.
type Listener struct {
	url    string
	token  string
	logger *slog.Logger
	notify func()
}

// NewListener creates an update listener. baseURL is the store's HTTP
// base URL; the listener derives the WebSocket endpoint from it.
func NewListener(baseURL, token, workspaceID string, logger *slog.Logger, notify func()) *Listener {
	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/api/v1/workspaces/" + workspaceID + "/updates"

	return &Listener{
		url:    wsURL,
		token:  token,
		logger: logger,
		notify: notify,
	}
}

// Run connects and listens until ctx is cancelled, reconnecting with
// exponential backoff on failure. Backoff grows only across consecutive
// dial failures; a connection that was established resets it, so a
// long-lived feed that drops reconnects promptly. Always returns
// ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	backoff := reconnectMin

	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if connected {
			backoff = reconnectMin
		}

		jitter := rand.N(backoff / jitterDivisor)

		if IsNormalClosure(err) {
			l.logger.Info("update feed closed, reconnecting",
				slog.Duration("backoff", backoff+jitter))
		} else {
			l.logger.Warn("update feed disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff+jitter),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}

		backoff *= reconnectBackoffMultiplier
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// listen dials the feed and reads until the connection fails. The
// returned bool reports whether the dial succeeded, which Run uses to
// reset its backoff.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, l.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + l.token}},
	})
	if err != nil {
		return false, err
	}

	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(updatesReadLimit)

	l.logger.Info("update feed connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}

		msgType := gjson.GetBytes(data, "type").String()
		if msgType != "workspace-updated" {
			l.logger.Debug("ignoring update message", slog.String("type", msgType))
			continue
		}

		l.notify()
	}
}

// IsNormalClosure reports whether err is a clean WebSocket close.
func IsNormalClosure(err error) bool {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.StatusNormalClosure
	}

	return false
}
