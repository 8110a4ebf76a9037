// Package hub fans events out to connected WebSocket clients and routes
// their inbound commands to the orchestrator, watcher, activity store, and
// task executor.
//
// Every connection gets its own subscription scope on the event bus,
// created on connect and disposed atomically on disconnect. The
// activity-classifier stream is the one shared subscription: the hub holds
// it and iterates the live connection set at delivery time.
package hub

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/logging"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

// DefaultSendBufferSize is the outbound queue length per connection.
const DefaultSendBufferSize = 256

// perConnectionEvents are the bus event types every connection subscribes
// to on connect. activityParsed is deliberately absent: it is delivered
// through the hub's single shared broadcast subscription.
var perConnectionEvents = []string{
	"instanceCreated",
	"instanceTerminated",
	"processOutput",
	"instanceClosed",
	"fileChange",
	"directoryChange",
	"monitoringStarted",
	"monitoringStopped",
}

// Config holds required dependencies for creating a Hub.
type Config struct {
	Bus          *event.Bus
	Orchestrator *orchestrator.Orchestrator
	Watcher      *watcher.Watcher
	Store        *activity.Store
	Executor     *executor.Executor
	// SendBufferSize overrides DefaultSendBufferSize when positive.
	SendBufferSize int
	Logger         *logging.Logger
}

// Hub owns the broadcast pool of live connections. All exported methods are
// safe for concurrent use.
type Hub struct {
	bus     *event.Bus
	orch    *orchestrator.Orchestrator
	watcher *watcher.Watcher
	store   *activity.Store
	exec    *executor.Executor
	logger  *logging.Logger
	bufSize int

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn

	broadcastSub string
	nextConnID   atomic.Uint64
	started      bool
}

// New creates a Hub. All component dependencies are required.
func New(cfg Config) (*Hub, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("hub: Bus is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("hub: Orchestrator is required")
	}
	if cfg.Watcher == nil {
		return nil, fmt.Errorf("hub: Watcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("hub: Store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("hub: Executor is required")
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultSendBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	return &Hub{
		bus:     cfg.Bus,
		orch:    cfg.Orchestrator,
		watcher: cfg.Watcher,
		store:   cfg.Store,
		exec:    cfg.Executor,
		logger:  cfg.Logger.WithComponent("hub"),
		bufSize: cfg.SendBufferSize,
		upgrader: websocket.Upgrader{
			// The dashboard is served from arbitrary local origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}, nil
}

// Start registers the shared activity broadcast subscription. Returns an
// error if the hub is already started.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("hub: already started")
	}
	h.broadcastSub = h.bus.Subscribe("activityParsed", h.broadcast)
	h.started = true
	return nil
}

// Stop disconnects every client and removes the broadcast subscription.
// It is idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	sub := h.broadcastSub
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.bus.Unsubscribe(sub)
	for _, c := range conns {
		c.close()
	}
}

// ServeWS upgrades an HTTP request into a hub connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	h.accept(ws)
}

// accept runs the connect transition: queue the welcome snapshot, register
// in the pool, subscribe to the per-connection event set, activate, and
// start the pumps. The welcome is queued before the connection becomes
// visible to any event source: the per-connection subscriptions do not
// exist yet, and the shared broadcast cannot reach a connection that is
// not in the pool. Queueing and registration happen under the pool lock,
// so broadcast can never interleave between them.
func (h *Hub) accept(ws *websocket.Conn) {
	c := newConn(connID(h.nextConnID.Add(1)), ws, h, h.bufSize, h.logger)

	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		ws.Close()
		return
	}
	// The queue is freshly made and larger than one; this cannot block.
	c.send <- envelope{Type: "welcome", Data: h.snapshot()}
	h.conns[c.id] = c
	h.mu.Unlock()

	for _, eventType := range perConnectionEvents {
		c.scope.Subscribe(eventType, c.Send)
	}

	c.state.Store(stateActive)
	c.logger.Info("connection established")

	go c.writePump()
	go c.readPump()
}

// snapshot builds the welcome payload.
func (h *Hub) snapshot() map[string]any {
	return map[string]any{
		"instances":          h.orch.List(),
		"monitoring":         h.watcher.Status(),
		"activityStatistics": h.store.Stats(),
	}
}

// broadcast delivers one event to every live connection. The set is
// snapshotted at delivery time; connections that close mid-iteration turn
// their writes into no-ops rather than errors.
func (h *Hub) broadcast(e event.Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(e)
	}
}

// remove takes a connection out of the broadcast pool.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
