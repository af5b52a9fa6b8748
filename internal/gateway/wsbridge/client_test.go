package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

type inbound struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// mockBridge creates a test bridge; handle returns (result, errorCode)
func mockBridge(t *testing.T, handle func(conn *websocket.Conn, req inbound) (interface{}, string)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req inbound
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}

			result, code := handle(conn, req)
			if result == nil && code == "" {
				continue // 응답하지 않음
			}
			resp := map[string]interface{}{"id": req.ID}
			if code != "" {
				resp["error"] = map[string]string{"code": code, "message": "scripted"}
			} else {
				resp["result"] = result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func testConfig(server *httptest.Server) Config {
	return Config{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		ClientID:       17,
		DialTimeout:    time.Second,
		RequestTimeout: 500 * time.Millisecond,
		WriteTimeout:   time.Second,
	}
}

func TestDialHelloAndCurrentTime(t *testing.T) {
	now := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)
	var helloClient int

	server := mockBridge(t, func(conn *websocket.Conn, req inbound) (interface{}, string) {
		switch req.Method {
		case methodHello:
			var p helloParams
			_ = json.Unmarshal(req.Params, &p)
			helloClient = p.ClientID
			return map[string]bool{"ok": true}, ""
		case methodCurrentTime:
			return currentTimeResult{Time: now}, ""
		}
		return nil, "unknown"
	})
	defer server.Close()

	c, err := Dial(context.Background(), testConfig(server), logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 17, helloClient)

	got, err := c.CurrentTime(context.Background())
	require.NoError(t, err)
	assert.True(t, now.Equal(got))
}

func TestDialFailureIsGatewayUnavailable(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/v1/gateway", DialTimeout: 200 * time.Millisecond}, logger.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrGatewayUnavailable)
}

func TestSubscribeReceivesTickerPushes(t *testing.T) {
	server := mockBridge(t, func(conn *websocket.Conn, req inbound) (interface{}, string) {
		switch req.Method {
		case methodHello, methodCancel:
			return map[string]bool{"ok": true}, ""
		case methodSubscribe:
			// 응답 후 ticker push 두 번 (두 번째는 더 오래된 시각)
			go func() {
				time.Sleep(20 * time.Millisecond)
				_ = conn.WriteJSON(map[string]interface{}{
					"method": methodTicker,
					"params": map[string]interface{}{
						"sub_id": "s-1", "bid": 1.1, "ask": 1.2, "iv": 0.3, "delta": 0.5,
						"gamma": 0.02, "theta": -0.04, "vega": 0.1, "market_data_type": 1,
						"updated_at": "2025-10-06T14:00:02Z",
					},
				})
				_ = conn.WriteJSON(map[string]interface{}{
					"method": methodTicker,
					"params": map[string]interface{}{"sub_id": "s-1", "bid": 9.9, "updated_at": "2025-10-06T14:00:01Z"},
				})
			}()
			return subscribeResult{SubID: "s-1"}, ""
		}
		return nil, "unknown"
	})
	defer server.Close()

	c, err := Dial(context.Background(), testConfig(server), logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	contract := contracts.OptionContract{Symbol: "AAPL", ContractID: 1001, Strike: decimal.NewFromInt(150), Right: contracts.RightCall}
	sub, err := c.Subscribe(context.Background(), contract, "100,101,106")
	require.NoError(t, err)
	assert.Equal(t, "s-1", sub.ID())

	require.Eventually(t, func() bool { return sub.Snapshot().Ready(true) }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1.1, *sub.Snapshot().Bid, "older push must be rejected")

	require.NoError(t, c.Cancel(context.Background(), sub))
	assert.Zero(t, c.tickers.len())
}

func TestSubscribeKeepsImmediateTickerPush(t *testing.T) {
	server := mockBridge(t, func(conn *websocket.Conn, req inbound) (interface{}, string) {
		switch req.Method {
		case methodHello, methodCancel:
			return map[string]bool{"ok": true}, ""
		case methodSubscribe:
			// 응답과 push를 지연 없이 연달아 전송
			_ = conn.WriteJSON(map[string]interface{}{"id": req.ID, "result": subscribeResult{SubID: "s-7"}})
			_ = conn.WriteJSON(map[string]interface{}{
				"method": methodTicker,
				"params": map[string]interface{}{
					"sub_id": "s-7", "bid": 2.1, "ask": 2.3, "iv": 0.25, "delta": 0.4,
					"gamma": 0.01, "theta": -0.03, "vega": 0.2, "market_data_type": 1,
					"updated_at": "2025-10-06T14:00:02Z",
				},
			})
			return nil, ""
		}
		return nil, "unknown"
	})
	defer server.Close()

	c, err := Dial(context.Background(), testConfig(server), logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	contract := contracts.OptionContract{Symbol: "AAPL", ContractID: 1002, Strike: decimal.NewFromInt(155), Right: contracts.RightPut}
	sub, err := c.Subscribe(context.Background(), contract, "100,101,106")
	require.NoError(t, err)
	assert.Equal(t, "s-7", sub.ID())

	require.Eventually(t, func() bool { return sub.Snapshot().Ready(true) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.1, *sub.Snapshot().Bid)
}

func TestErrorCodesMapToTaxonomy(t *testing.T) {
	server := mockBridge(t, func(conn *websocket.Conn, req inbound) (interface{}, string) {
		switch req.Method {
		case methodHello:
			return map[string]bool{"ok": true}, ""
		case methodSubscribe:
			return nil, "no_book"
		case methodQualify:
			return nil, "not_found"
		case methodHistoricalBars:
			return nil, "timeout"
		case methodSetMarketDataType:
			return nil, "connection"
		}
		return nil, ""
	})
	defer server.Close()

	c, err := Dial(context.Background(), testConfig(server), logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Subscribe(ctx, contracts.OptionContract{ContractID: 1}, "")
	assert.ErrorIs(t, err, contracts.ErrNoBook)

	_, err = c.Qualify(ctx, contracts.OptionContract{Symbol: "AAPL"})
	assert.ErrorIs(t, err, contracts.ErrSubscriptionFailed)

	_, err = c.HistoricalBars(ctx, gateway.BarRequest{WhatToShow: gateway.ShowOpenInterest})
	assert.ErrorIs(t, err, contracts.ErrTimeout)
	assert.True(t, contracts.IsRetriable(err))

	err = c.SetMarketDataType(ctx, 3)
	assert.ErrorIs(t, err, contracts.ErrGatewayUnavailable)

	// 응답 없는 요청은 timeout
	_, err = c.OptionParams(ctx, "AAPL", 265598)
	assert.ErrorIs(t, err, contracts.ErrTimeout)
}

func TestConnectionLossFailsPending(t *testing.T) {
	server := mockBridge(t, func(conn *websocket.Conn, req inbound) (interface{}, string) {
		if req.Method == methodHello {
			return map[string]bool{"ok": true}, ""
		}
		_ = conn.Close()
		return nil, ""
	})
	defer server.Close()

	c, err := Dial(context.Background(), testConfig(server), logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CurrentTime(context.Background())
	assert.ErrorIs(t, err, contracts.ErrGatewayUnavailable)

	_, err = c.CurrentTime(context.Background())
	assert.ErrorIs(t, err, contracts.ErrGatewayUnavailable)
}

func TestTickerCacheIgnoresUnknownSubscriptions(t *testing.T) {
	cache := newTickerCache()
	bid := 1.0
	assert.False(t, cache.update("nope", gateway.Ticker{Bid: &bid}))

	cache.register("s")
	assert.True(t, cache.update("s", gateway.Ticker{Bid: &bid}))
	assert.Equal(t, 1.0, *cache.get("s").Bid)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.IBConfig{Host: "127.0.0.1", Port: 4002, ClientID: 17})
	assert.Equal(t, "ws://127.0.0.1:4002/v1/gateway", cfg.URL)
	assert.Equal(t, 17, cfg.ClientID)
}
