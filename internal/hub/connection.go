package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/logging"
)

// Connection states. Transitions are connecting -> active -> closed;
// closed is terminal and entered exactly once.
const (
	stateConnecting int32 = iota
	stateActive
	stateClosed
)

const writeTimeout = 10 * time.Second

// envelope is the wire shape of every server-to-client message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is one client session. It owns a scope of bus subscriptions that is
// disposed in a single step on disconnect, and an outbound queue drained by
// a dedicated writer goroutine so event delivery never blocks publishers.
type Conn struct {
	id   string
	ws   *websocket.Conn
	hub  *Hub
	send chan envelope
	done chan struct{}

	scope  *event.Scope
	logger *logging.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, hub *Hub, bufSize int, logger *logging.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		hub:    hub,
		send:   make(chan envelope, bufSize),
		done:   make(chan struct{}),
		scope:  event.NewScope(hub.bus),
		logger: logger.WithConnection(id),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// active reports whether the connection may route commands and receive
// events.
func (c *Conn) active() bool { return c.state.Load() == stateActive }

// Send delivers e to this connection. Writes to a non-active connection
// are guarded no-ops, so publishers and broadcasters never fail because a
// client went away mid-delivery.
func (c *Conn) Send(e event.Event) {
	c.enqueue(envelope{Type: e.EventType(), Data: e.Payload()})
}

// reply sends a non-event message (response, error, query result) to this
// connection only.
func (c *Conn) reply(msgType string, data any) {
	c.enqueue(envelope{Type: msgType, Data: data})
}

// replyError sends a typed error to this connection only.
func (c *Conn) replyError(msg string) {
	c.reply("error", msg)
}

func (c *Conn) enqueue(env envelope) {
	if c.state.Load() == stateClosed {
		return
	}
	select {
	case c.send <- env:
	case <-c.done:
	default:
		// Outbound queue full: the client is too slow to keep up. Dropping
		// the connection is safer than blocking every publisher behind it.
		c.logger.Warn("send buffer full, dropping connection")
		go c.close()
	}
}

// writePump drains the outbound queue onto the socket until the connection
// closes or a write fails.
func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Debug("write failed", "error", err)
				go c.close()
				return
			}
		}
	}
}

// readPump routes inbound messages until the client disconnects, then runs
// the disconnect transition.
func (c *Conn) readPump() {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !c.active() {
			continue
		}
		c.hub.route(c, data)
	}
}

// close performs the irreversible transition to closed: dispose every
// subscription handle in one step, leave the broadcast pool, then release
// the writer. Exactly once, no matter how many paths race into it.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(stateClosed)
		c.scope.Close()
		c.hub.remove(c)
		close(c.done)
		c.ws.Close()
		c.logger.Info("connection closed")
	})
}

func connID(n uint64) string {
	return fmt.Sprintf("conn-%d", n)
}
