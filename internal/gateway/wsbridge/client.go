package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

var (
	errClosed = errors.New("bridge connection closed")
)

// Config holds bridge connection settings
type Config struct {
	URL            string
	ClientID       int
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// ConfigFrom derives bridge settings from the ib section
func ConfigFrom(ib config.IBConfig) Config {
	return Config{
		URL:            fmt.Sprintf("ws://%s:%d/v1/gateway", ib.Host, ib.Port),
		ClientID:       ib.ClientID,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Client is a Gateway speaking JSON frames to a market-data bridge over a websocket
type Client struct {
	cfg    Config
	logger *logger.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]pendingCall
	closed  bool
	readErr error

	tickers *tickerCache
	done    chan struct{}
}

// Dial connects to the bridge and performs the hello handshake
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}

	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", cfg.URL, err, contracts.ErrGatewayUnavailable)
	}

	c := &Client{
		cfg:     cfg,
		logger:  log.WithField("module", "wsbridge"),
		conn:    conn,
		pending: make(map[int64]pendingCall),
		tickers: newTickerCache(),
		done:    make(chan struct{}),
	}

	go c.readLoop()
	if cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	if err := c.call(ctx, methodHello, helloParams{ClientID: cfg.ClientID}, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"url":       cfg.URL,
		"client_id": cfg.ClientID,
	}).Info("Connected to market data bridge")

	return c, nil
}

// Close gracefully closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// pendingCall is a request waiting for its response
type pendingCall struct {
	method string
	ch     chan frame
}

// call sends one request and waits for its response
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed || c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = errClosed
		}
		return fmt.Errorf("%s: %v: %w", method, err, contracts.ErrGatewayUnavailable)
	}
	c.pending[id] = pendingCall{method: method, ch: ch}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: write: %v: %w", method, err, contracts.ErrGatewayUnavailable)
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: connection lost: %w", method, contracts.ErrGatewayUnavailable)
		}
		if resp.Error != nil {
			return resp.Error.err(method)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: no response after %s: %w", method, timeout, contracts.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop dispatches responses to waiting calls and ticker pushes to the cache
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.WithError(err).Warn("Dropping malformed frame")
			continue
		}

		if f.ID == 0 && f.Method == methodTicker {
			var push tickerPush
			if err := json.Unmarshal(f.Params, &push); err != nil {
				c.logger.WithError(err).Warn("Dropping malformed ticker push")
				continue
			}
			if push.UpdatedAt.IsZero() {
				push.UpdatedAt = time.Now()
			}
			c.tickers.update(push.SubID, push.Ticker)
			continue
		}

		c.mu.Lock()
		p, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.WithField("id", f.ID).Debug("Response for unknown request")
			continue
		}
		// 구독 응답 직후의 push를 놓치지 않도록 다음 frame 읽기 전에 등록
		if p.method == methodSubscribe && f.Error == nil {
			var out subscribeResult
			if err := json.Unmarshal(f.Result, &out); err == nil && out.SubID != "" {
				c.tickers.register(out.SubID)
			}
		}
		p.ch <- f
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		c.logger.WithError(err).Warn("Bridge connection lost")
	}

	c.readErr = err
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
}

// heartbeatLoop keeps the connection alive
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
			}
		}
	}
}

// subscription is a bridge-side market data subscription
type subscription struct {
	id       string
	contract contracts.OptionContract
	cache    *tickerCache
}

func (s *subscription) ID() string                         { return s.id }
func (s *subscription) Contract() contracts.OptionContract { return s.contract }
func (s *subscription) Snapshot() gateway.Ticker           { return s.cache.get(s.id) }

// Qualify resolves contract_id and the remaining contract details
func (c *Client) Qualify(ctx context.Context, contract contracts.OptionContract) (contracts.OptionContract, error) {
	var out contractPayload
	if err := c.call(ctx, methodQualify, contractPayload{Contract: contract}, &out); err != nil {
		return contract, err
	}
	return out.Contract, nil
}

// OptionParams lists option-parameter sets of an underlying
func (c *Client) OptionParams(ctx context.Context, symbol string, underlyingID int64) ([]gateway.OptionParams, error) {
	var out optionParamsResult
	if err := c.call(ctx, methodOptionParams, optionParamsRequest{Symbol: symbol, UnderlyingID: underlyingID}, &out); err != nil {
		return nil, err
	}
	return out.Params, nil
}

// Subscribe starts streaming ticker updates for a contract
func (c *Client) Subscribe(ctx context.Context, contract contracts.OptionContract, genericTicks string) (gateway.Subscription, error) {
	var out subscribeResult
	if err := c.call(ctx, methodSubscribe, subscribeRequest{Contract: contract, GenericTicks: genericTicks}, &out); err != nil {
		return nil, err
	}
	if out.SubID == "" {
		return nil, fmt.Errorf("subscribe %s: empty sub_id: %w", contract.String(), contracts.ErrSubscriptionFailed)
	}
	c.tickers.register(out.SubID)
	return &subscription{id: out.SubID, contract: contract, cache: c.tickers}, nil
}

// Cancel stops a subscription; the local ticker is dropped even if the bridge call fails
func (c *Client) Cancel(ctx context.Context, sub gateway.Subscription) error {
	defer c.tickers.remove(sub.ID())
	return c.call(ctx, methodCancel, cancelRequest{SubID: sub.ID()}, nil)
}

// HistoricalBars fetches historical bars
func (c *Client) HistoricalBars(ctx context.Context, req gateway.BarRequest) ([]gateway.Bar, error) {
	var out barsResult
	if err := c.call(ctx, methodHistoricalBars, req, &out); err != nil {
		return nil, err
	}
	return out.Bars, nil
}

// SetMarketDataType switches the feed class (1 live .. 4 delayed-frozen)
func (c *Client) SetMarketDataType(ctx context.Context, t int) error {
	return c.call(ctx, methodSetMarketDataType, marketDataTypeRequest{Type: t}, nil)
}

// CurrentTime returns the bridge's clock
func (c *Client) CurrentTime(ctx context.Context) (time.Time, error) {
	var out currentTimeResult
	if err := c.call(ctx, methodCurrentTime, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Time, nil
}

var _ gateway.Gateway = (*Client)(nil)
