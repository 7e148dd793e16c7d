package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListener_NotifiesOnWorkspaceUpdate(t *testing.T) {
	notified := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workspaces/ws-1/updates", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"heartbeat"}`)))
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"workspace-updated","version":4}`)))

		<-ctx.Done()
	}))
	t.Cleanup(srv.Close)

	l := NewListener(srv.URL, "test-token", "ws-1", discardLogger(), func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never delivered the update notification")
	}

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListener_StopsOnCancelBeforeConnect(t *testing.T) {
	l := NewListener("http://127.0.0.1:1", "tok", "ws-1", discardLogger(), func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListener_EstablishedConnectionResetsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)

	l := NewListener(srv.URL, "tok", "ws-1", discardLogger(), func() {})

	connected, err := l.listen(context.Background())
	assert.True(t, connected, "a dial that succeeded must report established")
	assert.Error(t, err)
}

func TestListener_DialFailureIsNotEstablished(t *testing.T) {
	l := NewListener("http://127.0.0.1:1", "tok", "ws-1", discardLogger(), func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connected, err := l.listen(ctx)
	assert.False(t, connected)
	assert.Error(t, err)
}

func TestIsNormalClosure(t *testing.T) {
	assert.True(t, IsNormalClosure(websocket.CloseError{Code: websocket.StatusNormalClosure}))
	assert.False(t, IsNormalClosure(websocket.CloseError{Code: websocket.StatusGoingAway}))
	assert.False(t, IsNormalClosure(fmt.Errorf("plain error")))
}
