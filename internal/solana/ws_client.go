package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by a closed WSClient.
var ErrClientClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration
	Commitment        string
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        DefaultCommitment,
	}
}

var _ AccountSubscriber = (*WSClient)(nil)

// WSClient implements AccountSubscriber over the Solana PubSub WebSocket API.
// Subscriptions survive reconnects; they are re-issued on the new connection.
type WSClient struct {
	endpoint string
	cfg      WSClientConfig
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex // guards conn and serializes writes

	requestID atomic.Uint64
	closed    atomic.Bool

	mu      sync.Mutex
	subs    map[int64]*accountSub
	pending map[uint64]*pendingSub

	done chan struct{}
	wg   sync.WaitGroup
}

type accountSub struct {
	address string
	ch      chan AccountNotification
}

type pendingSub struct {
	sub   *accountSub
	reply chan subscribeReply
}

type subscribeReply struct {
	subID int64
	err   error
}

// NewWSClient dials endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, cfg *WSClientConfig, logger *zap.Logger) (*WSClient, error) {
	conf := DefaultWSConfig()
	if cfg != nil {
		conf = *cfg
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClient{
		endpoint: endpoint,
		cfg:      conf,
		logger:   logger.With(zap.String("component", "solana_ws")),
		subs:     make(map[int64]*accountSub),
		pending:  make(map[uint64]*pendingSub),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// SubscribeAccount subscribes to updates of a token account.
func (c *WSClient) SubscribeAccount(ctx context.Context, address string) (<-chan AccountNotification, error) {
	sub := &accountSub{address: address, ch: make(chan AccountNotification, 16)}
	if _, err := c.subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends accountSubscribe and waits for the subscription id.
// The reader registers sub under the new id before any notification for it is dispatched.
func (c *WSClient) subscribe(ctx context.Context, sub *accountSub) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	p := &pendingSub{sub: sub, reply: make(chan subscribeReply, 1)}
	c.mu.Lock()
	c.pending[reqID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			sub.address,
			map[string]string{"encoding": "base64", "commitment": c.cfg.Commitment},
		},
	}
	if err := c.writeJSON(req); err != nil {
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case reply := <-p.reply:
		return reply.subID, reply.err
	case <-timer.C:
		return 0, fmt.Errorf("subscribe %s: timeout after %s", sub.address, c.cfg.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *WSClient) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the connection and all subscription channels.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	return nil
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
			if !c.reconnect() {
				return
			}
			continue
		}
		c.handleMessage(message)
	}
}

// reconnect dials with exponential backoff until it succeeds or the client closes.
// Existing subscriptions are re-issued in the background once connected.
func (c *WSClient) reconnect() bool {
	delay := c.cfg.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.connMu.Lock()
			if c.closed.Load() {
				c.connMu.Unlock()
				conn.Close()
				return false
			}
			if c.conn != nil {
				c.conn.Close()
			}
			c.conn = conn
			c.connMu.Unlock()

			c.wg.Add(1)
			go c.resubscribeAll()
			return true
		}

		c.logger.Warn("websocket reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *WSClient) resubscribeAll() {
	defer c.wg.Done()

	c.mu.Lock()
	old := make(map[int64]*accountSub, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.mu.Unlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
		newID, err := c.subscribe(ctx, sub)
		cancel()
		if err != nil {
			c.logger.Error("resubscribe failed",
				zap.String("address", sub.address), zap.Error(err))
			continue
		}

		if newID != oldID {
			c.mu.Lock()
			delete(c.subs, oldID)
			c.mu.Unlock()
		}
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("undecodable websocket message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "accountNotification" && msg.Params != nil:
		c.handleAccountNotification(msg.Params)
	case msg.ID != 0:
		c.handleReply(&msg)
	}
}

func (c *WSClient) handleReply(msg *wsMessage) {
	var reply subscribeReply
	if msg.Error != nil {
		reply.err = msg.Error
	} else if err := json.Unmarshal(msg.Result, &reply.subID); err != nil {
		reply.err = fmt.Errorf("decode subscription id: %w", err)
	}

	c.mu.Lock()
	p, ok := c.pending[msg.ID]
	if ok && reply.err == nil {
		c.subs[reply.subID] = p.sub
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case p.reply <- reply:
	default:
	}
}

func (c *WSClient) handleAccountNotification(params *wsNotificationParams) {
	c.mu.Lock()
	sub, ok := c.subs[params.Subscription]
	c.mu.Unlock()
	if !ok {
		return
	}

	value := params.Result.Value
	if len(value.Data) < 1 {
		return
	}
	acc, err := DecodeTokenAccount(sub.address, value.Data[0])
	if err != nil {
		c.logger.Warn("undecodable account notification",
			zap.String("address", sub.address), zap.Error(err))
		return
	}

	notif := AccountNotification{
		Address: sub.address,
		Slot:    params.Result.Context.Slot,
		Account: acc,
	}

	// Consumers re-read balances on every update, so a full buffer loses nothing.
	select {
	case sub.ch <- notif:
	default:
		c.logger.Debug("subscriber busy, dropping account update", zap.String("address", sub.address))
	}
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage is either a reply to a request (ID set) or a notification (Method set).
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *rpcError             `json:"error"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Lamports uint64   `json:"lamports"`
			Owner    string   `json:"owner"`
			Data     []string `json:"data"`
		} `json:"value"`
	} `json:"result"`
}
