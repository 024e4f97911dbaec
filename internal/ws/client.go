package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"persona-chat/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("send buffer full")
)

// ClientConfig bounds the per-connection queues and inbound rate.
type ClientConfig struct {
	SendBuffer     int
	InboundBuffer  int
	MaxMessageSize int64
	MessageRate    float64
	MessageBurst   int
}

// DefaultClientConfig returns the transport defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBuffer:     256,
		InboundBuffer:  16,
		MaxMessageSize: 512 * 1024,
		MessageRate:    5,
		MessageBurst:   10,
	}
}

// Client is one gorilla connection. Outbound frames go through a bounded
// channel drained by WritePump; inbound frames are queued for a single
// routing goroutine so turns run in order while reads continue.
type Client struct {
	id       string
	conn     *websocket.Conn
	registry *Registry
	log      *logger.Logger
	cfg      ClientConfig
	limiter  *rate.Limiter

	send    chan []byte
	inbound chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient wraps conn; call Run to start it.
func NewClient(conn *websocket.Conn, registry *Registry, cfg ClientConfig, log *logger.Logger) *Client {
	defaults := DefaultClientConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = defaults.InboundBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	limit := rate.Inf
	if cfg.MessageRate > 0 {
		limit = rate.Limit(cfg.MessageRate)
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = defaults.MessageBurst
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       id,
		conn:     conn,
		registry: registry,
		log:      log.WithConnectionID(id),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.MessageBurst),
		send:     make(chan []byte, cfg.SendBuffer),
		inbound:  make(chan []byte, cfg.InboundBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg without blocking. A full queue means the peer is not
// keeping up, and the connection is closed.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("Closing slow WebSocket consumer", "buffer", c.cfg.SendBuffer)
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops the pumps; the read side then unregisters the client.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// Run registers the client and starts its goroutines. It returns once the
// connection is registered.
func (c *Client) Run() error {
	if _, err := c.registry.Connect(c); err != nil {
		c.conn.Close()
		return err
	}
	go c.WritePump()
	go c.routeLoop()
	go c.ReadPump()
	return nil
}

// ReadPump reads frames until the peer goes away, then runs the disconnect
// cleanup.
func (c *Client) ReadPump() {
	defer func() {
		c.registry.Disconnect(c.id)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) &&
				c.ctx.Err() == nil {
				c.log.LogError(err, "WebSocket read failed")
			}
			return
		}

		if !c.limiter.Allow() {
			c.registry.SendTo(c.id, Envelope{Type: TypeError, Message: "rate limit exceeded, message dropped"})
			continue
		}

		select {
		case c.inbound <- data:
		default:
			c.registry.SendTo(c.id, Envelope{Type: TypeError, Message: "too many pending messages, message dropped"})
		}
	}
}

func (c *Client) routeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.inbound:
			c.route(data)
		}
	}
}

func (c *Client) route(data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("Message handler panicked", "panic", rec)
		}
	}()
	c.registry.Route(c.ctx, c.id, data)
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.LogError(err, "WebSocket write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
