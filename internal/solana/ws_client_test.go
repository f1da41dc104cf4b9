package solana

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
	"go.uber.org/zap/zaptest"
)

// pubsubServer answers accountSubscribe with subID+connection number and then
// pushes one notification carrying acc.
func pubsubServer(t *testing.T, acc TokenAccount, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		for {
			var req struct {
				ID     uint64        `json:"id"`
				Method string        `json:"method"`
				Params []interface{} `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method != "accountSubscribe" {
				continue
			}
			subID := int64(100 + n)
			conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": subID})

			if dropFirst && n == 1 {
				return
			}

			conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "accountNotification",
				"params": map[string]interface{}{
					"subscription": subID,
					"result": map[string]interface{}{
						"context": map[string]interface{}{"slot": 900 + n},
						"value": map[string]interface{}{
							"lamports": 2039280,
							"owner":    TokenProgramID,
							"data":     []string{encodedAccount(t, acc), "base64"},
						},
					},
				},
			})
		}
	}))
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testWSConfig() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.SubscribeTimeout = 2 * time.Second
	return &cfg
}

func TestWSClient_SubscribeAccount(t *testing.T) {
	acc := TokenAccount{Address: hashKey("ata"), Mint: hashKey("mint"), Owner: walletKey(1), Amount: 77}
	srv, _ := pubsubServer(t, acc, false)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(srv), testWSConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	ch, err := client.SubscribeAccount(ctx, acc.Address)
	require.NoError(t, err)

	select {
	case n := <-ch:
		assert.Equal(t, acc.Address, n.Address)
		assert.Equal(t, uint64(901), n.Slot)
		assert.Equal(t, acc, n.Account)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	acc := TokenAccount{Address: hashKey("ata"), Mint: hashKey("mint"), Owner: walletKey(1), Amount: 5}
	srv, conns := pubsubServer(t, acc, true)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(srv), testWSConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	ch, err := client.SubscribeAccount(ctx, acc.Address)
	require.NoError(t, err)

	select {
	case n := <-ch:
		assert.Equal(t, uint64(902), n.Slot, "notification must come from the second connection")
		assert.Equal(t, uint64(5), n.Account.Amount)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after reconnect")
	}
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestWSClient_Close(t *testing.T) {
	acc := TokenAccount{Address: hashKey("ata"), Mint: hashKey("mint"), Owner: walletKey(1), Amount: 1}
	srv, _ := pubsubServer(t, acc, false)
	defer srv.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(srv), testWSConfig(), nil)
	require.NoError(t, err)

	ch, err := client.SubscribeAccount(ctx, acc.Address)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	// drain buffered notification, then the channel must be closed
	for range ch {
	}

	_, err = client.SubscribeAccount(ctx, acc.Address)
	assert.ErrorIs(t, err, ErrClientClosed)
}
