package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTick(t *testing.T) {
	tick, err := parseTick([]byte(`{"chainId":42161,"token":"0xABC","price":"1850500000000000000000000000000000","timestamp":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", tick.Token)
	assert.InDelta(t, 1850.5, tick.Price, 1e-9)

	_, err = parseTick([]byte(`{"token":"0xabc","price":"0","timestamp":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = parseTick([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFastPriceStream_ReconnectsAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			return
		}
		n := sessions.Add(1)
		if n == 1 {
			// Drop the first session to force a reconnect.
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"chainId":42161,"token":"0xabc","price":"2000000000000000000000000000000000","timestamp":1700000000}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := DefaultStreamConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	stream := NewFastPriceStream("ws"+strings.TrimPrefix(srv.URL, "http"), cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan Tick, 4)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, out) }()

	select {
	case tick := <-out:
		assert.Equal(t, int64(42161), tick.ChainID)
		assert.InDelta(t, 2000.0, tick.Price, 1e-9)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}
	assert.GreaterOrEqual(t, sessions.Load(), int32(2))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
