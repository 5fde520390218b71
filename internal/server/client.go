package server

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Client is one WebSocket connection to the room. Its id is minted at connect
// time and never reused.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	addr string
	log  *zap.Logger

	// closed is owned by the hub's Run goroutine.
	closed bool
	// state is owned by the read pump.
	state connState

	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
}

// NewClient wraps conn for hub. conn may be nil in tests that never start the
// pumps.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		log:            hub.log.Named("client").With(zap.String("id", id), zap.String("addr", addr)),
		state:          stateConnecting,
		maxMessageSize: cfg.MaxMessageSize,
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Enqueue offers frame to the outbound queue without blocking.
func (c *Client) Enqueue(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close closes the outbound queue once.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.log.Warn("set initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			c.log.Warn("set read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError classifies the error that ended the read loop.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// processFrame decodes one inbound envelope and feeds it to the presence
// protocol. Malformed frames are dropped; the connection stays open.
func (c *Client) processFrame(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("invalid frame", zap.Error(err))
		return
	}

	switch env.Event {
	case EventNewUser:
		sub, ok := c.decodeSubmission(env)
		if !ok {
			return
		}
		if err := c.hub.Join(c.id, sub.Name); err != nil {
			c.log.Debug("join not processed", zap.Error(err))
			return
		}
		c.state = stateJoined

	case EventNameChange:
		sub, ok := c.decodeSubmission(env)
		if !ok {
			return
		}
		if c.state != stateJoined {
			c.log.Debug("rename before join", zap.Stringer("state", c.state))
		}
		if err := c.hub.Rename(c.id, sub.Name); err != nil {
			c.log.Debug("rename not processed", zap.Error(err))
		}

	default:
		c.log.Warn("unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) decodeSubmission(env Envelope) (PresenceSubmission, bool) {
	var sub PresenceSubmission
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &sub); err != nil {
			c.log.Warn("invalid presence payload", zap.String("event", env.Event), zap.Error(err))
			return sub, false
		}
	}
	if sub.ID != "" && sub.ID != c.id {
		c.log.Debug("ignoring payload id", zap.String("event", env.Event), zap.String("payload_id", sub.ID))
	}
	return sub, true
}

func (c *Client) readPump() {
	defer func() {
		c.state = stateDisconnected
		c.hub.leave(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleMessage(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("close connection", zap.Error(err))
	}
}

// handleMessage writes one queued frame, or the close frame once the hub has
// closed the queue.
func (c *Client) handleMessage(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.log.Warn("set write deadline", zap.Error(err))
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write message", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("write close message", zap.Error(err))
	}
}

// handlePing keeps the connection alive so dead peers are detected by the
// read deadline.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.log.Warn("set write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("write ping", zap.Error(err))
		return false
	}
	return true
}
