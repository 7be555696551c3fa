package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// DefaultSendTimeout bounds a single send during a broadcast.
const DefaultSendTimeout = 5 * time.Second

// Conn is one connected client.
type Conn interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

// ChannelOptions configures a ReloadChannel.
type ChannelOptions struct {
	// OriginPatterns lists host patterns allowed to connect from another
	// origin. Same-origin requests are always accepted.
	OriginPatterns []string
	SendTimeout    time.Duration
}

// ReloadChannel tracks live client connections and broadcasts reload
// messages to them. A connection whose send fails is dropped.
type ReloadChannel struct {
	opts    ChannelOptions
	logger  logging.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]Conn
}

// NewReloadChannel creates an empty channel. m may be nil.
func NewReloadChannel(opts ChannelOptions, logger logging.Logger, m *metrics.Metrics) *ReloadChannel {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &ReloadChannel{
		opts:    opts,
		logger:  logging.OrNop(logger).WithComponent("channel"),
		metrics: m,
		conns:   make(map[string]Conn),
	}
}

// Add registers conn.
func (c *ReloadChannel) Add(conn Conn) {
	c.mu.Lock()
	c.conns[conn.ID()] = conn
	n := len(c.conns)
	c.mu.Unlock()

	c.metrics.SetConnections(n)
}

// Remove unregisters conn. Removing an unknown connection is a no-op.
func (c *ReloadChannel) Remove(conn Conn) {
	c.mu.Lock()
	delete(c.conns, conn.ID())
	n := len(c.conns)
	c.mu.Unlock()

	c.metrics.SetConnections(n)
}

// ConnectionCount returns the number of live connections.
func (c *ReloadChannel) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.conns)
}

// HasConnections reports whether any client is connected.
func (c *ReloadChannel) HasConnections() bool {
	return c.ConnectionCount() > 0
}

// Broadcast sends msg to every connection and returns how many sends
// succeeded. Failed connections are removed after the pass.
func (c *ReloadChannel) Broadcast(ctx context.Context, msg *Message) int {
	data, err := msg.Marshal()
	if err != nil {
		c.logger.Error(ctx, err, "cannot encode reload message", "type", msg.Type)
		return 0
	}

	c.mu.RLock()
	snapshot := make([]Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		snapshot = append(snapshot, conn)
	}
	c.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID() < snapshot[j].ID() })

	var failed []Conn
	for _, conn := range snapshot {
		sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
		err := conn.Send(sendCtx, data)
		cancel()
		if err != nil {
			c.logger.Warn(ctx, errors.NewTransportError(errors.ErrCodeSendFailed, "send failed", err),
				"dropping client", "conn", conn.ID())
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		c.Remove(conn)
		c.metrics.SendFailed()
		_ = conn.Close("send failed")
	}

	delivered := len(snapshot) - len(failed)
	c.logger.Debug(ctx, "broadcast", "type", msg.Type, "delivered", delivered, "dropped", len(failed))

	return delivered
}

// HandleWebSocket upgrades the request and keeps the connection registered
// until the client goes away.
func (c *ReloadChannel) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  c.opts.OriginPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the error response
		c.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	conn := &wsConn{id: uuid.NewString(), conn: ws}
	c.Add(conn)
	c.logger.Info(r.Context(), "client connected", "conn", conn.id, "remote", r.RemoteAddr)

	// clients never send anything; CloseRead handles control frames and
	// reports when the peer goes away
	ctx := ws.CloseRead(r.Context())
	<-ctx.Done()

	c.Remove(conn)
	_ = conn.Close("")
	c.logger.Info(r.Context(), "client disconnected", "conn", conn.id)
}

// Shutdown closes every connection.
func (c *ReloadChannel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]Conn)
	c.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close("server shutdown"); err != nil {
			c.logger.Debug(ctx, "close failed", "conn", conn.ID(), "error", err)
		}
	}
	c.metrics.SetConnections(0)

	return nil
}

type wsConn struct {
	id   string
	conn *websocket.Conn
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
