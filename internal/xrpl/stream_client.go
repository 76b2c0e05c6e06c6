package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
)

// StreamConfig configures WebSocket client behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscribe acknowledgement.
	SubscribeTimeout time.Duration
	// BufferSize is the capacity of the delivery channel.
	BufferSize int
}

// DefaultStreamConfig returns default WebSocket configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        1000,
	}
}

// WSStreamClient implements StreamClient using gorilla/websocket.
type WSStreamClient struct {
	endpoint string
	config   StreamConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// out receives validated transactions once subscribed.
	out        chan *domain.LedgerEvent
	subscribed atomic.Bool

	// pending maps request ID to channel waiting for the acknowledgement.
	pending   map[uint64]chan error
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

var _ StreamClient = (*WSStreamClient)(nil)

// NewStreamClient connects to the ledger WebSocket endpoint.
func NewStreamClient(ctx context.Context, endpoint string, config *StreamConfig, logger *zap.Logger) (*WSStreamClient, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSStreamClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.With(zap.String("component", "xrpl_stream")),
		out:      make(chan *domain.LedgerEvent, cfg.BufferSize),
		pending:  make(map[uint64]chan error),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

func (c *WSStreamClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeTransactions subscribes to the transactions stream. Calling it
// again returns the same channel.
func (c *WSStreamClient) SubscribeTransactions(ctx context.Context) (<-chan *domain.LedgerEvent, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if c.subscribed.Load() {
		return c.out, nil
	}
	if err := c.subscribe(ctx); err != nil {
		return nil, err
	}
	c.subscribed.Store(true)
	return c.out, nil
}

// subscribe sends a subscribe command and waits for its acknowledgement.
func (c *WSStreamClient) subscribe(ctx context.Context) error {
	reqID := c.requestID.Add(1)
	req := wsCommand{
		ID:      reqID,
		Command: "subscribe",
		Streams: []string{"transactions"},
	}

	ackCh := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ackCh
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case err, ok := <-ackCh:
		if !ok {
			return fmt.Errorf("client closed")
		}
		return err
	case <-time.After(c.config.SubscribeTimeout):
		forget()
		return fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return fmt.Errorf("client closed")
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

// Close closes the WebSocket connection and the delivery channel.
func (c *WSStreamClient) Close() error {
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

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	close(c.out)
	return nil
}

// readLoop reads messages and reconnects with exponential backoff on error.
func (c *WSStreamClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Warn("stream read failed, reconnecting",
					zap.Error(err), zap.Duration("delay", reconnectDelay))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect re-dials and restores the subscription.
func (c *WSStreamClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Retried on the next read error.
		c.logger.Warn("stream reconnect failed", zap.Error(err))
		return
	}

	if !c.subscribed.Load() {
		return
	}
	// readLoop delivers the acknowledgement.
	if err := c.subscribe(ctx); err != nil {
		c.logger.Warn("stream resubscribe failed", zap.Error(err))
	}
}

// handleMessage dispatches one frame: a command response or a transaction.
func (c *WSStreamClient) handleMessage(message []byte) {
	var head wsHeader
	if err := json.Unmarshal(message, &head); err != nil {
		c.logger.Debug("unparseable stream frame", zap.Error(err))
		return
	}

	switch head.Type {
	case "response":
		c.handleResponse(&head)
	case "transaction":
		c.handleTransaction(message, &head)
	}
}

func (c *WSStreamClient) handleResponse(head *wsHeader) {
	c.pendingMu.Lock()
	ch, ok := c.pending[head.ID]
	if ok {
		delete(c.pending, head.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	var err error
	if head.Status != "success" {
		err = fmt.Errorf("subscribe rejected: %s %s", head.Error, head.ErrorMessage)
		c.logger.Error("stream error response",
			zap.String("error", head.Error), zap.String("message", head.ErrorMessage))
	}
	select {
	case ch <- err:
	default:
	}
}

// handleTransaction forwards validated transactions. Delivery blocks so no
// event is dropped; the buffer absorbs bursts.
func (c *WSStreamClient) handleTransaction(message []byte, head *wsHeader) {
	if !head.Validated {
		return
	}

	ev, err := DecodeTransaction(message)
	if err != nil {
		c.logger.Warn("decode stream transaction", zap.Error(err))
		return
	}

	select {
	case c.out <- ev:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSStreamClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// Failures surface as read errors.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsCommand struct {
	ID      uint64   `json:"id"`
	Command string   `json:"command"`
	Streams []string `json:"streams,omitempty"`
}

type wsHeader struct {
	ID           uint64 `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
	Validated    bool   `json:"validated"`
}
