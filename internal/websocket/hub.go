package websocket

import (
	"context"
	"time"

	"backend/internal/config"
	"backend/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PresenceStore persists presence snapshots so REST clients can query
// approver availability without holding a socket. Writes are best-effort;
// the hub's in-memory registry stays the live truth.
type PresenceStore interface {
	Upsert(ctx context.Context, userID uuid.UUID, status string, deviceCount int, heartbeat time.Time) error
}

// OfflineSink receives events addressed to users with no live connection,
// typically a push-notification pipeline.
type OfflineSink interface {
	PushToUser(userID string, event string, data interface{})
}

type deliveryMode int

const (
	deliverToUser deliveryMode = iota
	deliverToRank
	deliverToAll
)

type delivery struct {
	mode    deliveryMode
	user    uuid.UUID
	minRole model.Role
	event   string
	data    interface{}
}

type presenceCommand struct {
	userID uuid.UUID
	away   bool
}

// Hub maintains the set of active clients, routes workflow events to them
// and keeps the approver presence registry. All maps are owned by the Run
// goroutine; everything else talks to it over channels.
type Hub struct {
	cfg config.WSConfig

	clients map[uuid.UUID]map[*Client]struct{}
	away    map[uuid.UUID]bool

	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	commands   chan presenceCommand
	heartbeats chan uuid.UUID
	done       chan struct{}

	presence PresenceStore
	sink     OfflineSink
	log      *zap.Logger
}

// NewHub initializes a new hub. presence and sink may be nil, which
// disables the presence registry and offline push respectively.
func NewHub(cfg config.WSConfig, presence PresenceStore, sink OfflineSink, log *zap.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		away:       make(map[uuid.UUID]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		commands:   make(chan presenceCommand, 16),
		heartbeats: make(chan uuid.UUID, 64),
		done:       make(chan struct{}),
		presence:   presence,
		sink:       sink,
		log:        log,
	}
}

// Run starts the core dispatch loop. It returns once ctx is cancelled,
// after closing every connection and marking everyone offline.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case d := <-h.deliveries:
			h.dispatch(d)
		case cmd := <-h.commands:
			h.applyPresence(cmd)
		case userID := <-h.heartbeats:
			h.beat(userID)
		}
	}
}

// SendToUser queues an event for every device the user has connected. A
// user with no live connection gets the event through the offline sink
// instead. Never blocks.
func (h *Hub) SendToUser(userID uuid.UUID, event string, data interface{}) {
	h.enqueue(delivery{mode: deliverToUser, user: userID, event: event, data: data})
}

// BroadcastToRank queues an event for every connected user whose role
// meets or exceeds min. Never blocks.
func (h *Hub) BroadcastToRank(min model.Role, event string, data interface{}) {
	h.enqueue(delivery{mode: deliverToRank, minRole: min, event: event, data: data})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.done:
	default:
		h.log.Warn("realtime delivery queue full, dropping event", zap.String("event", d.event))
	}
}

func (h *Hub) addClient(c *Client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.userID] = conns
	}
	conns[c] = struct{}{}

	// A fresh connection means someone is at a screen again.
	delete(h.away, c.userID)
	h.publishPresence(c.userID, c.role)
	h.log.Info("websocket client connected",
		zap.String("user_id", c.userID.String()),
		zap.String("role", string(c.role)),
		zap.Int("devices", len(conns)))
}

func (h *Hub) removeClient(c *Client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
		delete(h.away, c.userID)
	}
	h.publishPresence(c.userID, c.role)
	h.log.Info("websocket client disconnected",
		zap.String("user_id", c.userID.String()),
		zap.Int("devices", len(conns)))
}

func (h *Hub) applyPresence(cmd presenceCommand) {
	conns, ok := h.clients[cmd.userID]
	if !ok || len(conns) == 0 {
		return
	}
	if h.away[cmd.userID] == cmd.away {
		return
	}
	if cmd.away {
		h.away[cmd.userID] = true
	} else {
		delete(h.away, cmd.userID)
	}

	var role model.Role
	for c := range conns {
		role = c.role
		break
	}
	h.publishPresence(cmd.userID, role)
}

func (h *Hub) beat(userID uuid.UUID) {
	conns, ok := h.clients[userID]
	if !ok || len(conns) == 0 {
		return
	}
	var role model.Role
	for c := range conns {
		role = c.role
		break
	}
	if !role.AtLeast(model.RoleManager) {
		return
	}
	h.persistPresence(userID, h.statusOf(userID), len(conns))
}

func (h *Hub) statusOf(userID uuid.UUID) string {
	if len(h.clients[userID]) == 0 {
		return model.PresenceOffline
	}
	if h.away[userID] {
		return model.PresenceAway
	}
	return model.PresenceOnline
}

// publishPresence persists the approver's snapshot and tells every
// terminal about the change. Salespeople connect too, but only approver
// availability is worth announcing.
func (h *Hub) publishPresence(userID uuid.UUID, role model.Role) {
	if !role.AtLeast(model.RoleManager) {
		return
	}
	status := h.statusOf(userID)
	count := len(h.clients[userID])
	h.persistPresence(userID, status, count)
	h.dispatch(delivery{
		mode:  deliverToAll,
		event: EventManagerStatusChange,
		data: map[string]interface{}{
			"user_id":             userID,
			"status":              status,
			"active_device_count": count,
		},
	})
}

func (h *Hub) persistPresence(userID uuid.UUID, status string, count int) {
	if h.presence == nil {
		return
	}
	beat := time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.Upsert(ctx, userID, status, count, beat); err != nil {
			h.log.Warn("failed to persist presence",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

func (h *Hub) dispatch(d delivery) {
	switch d.mode {
	case deliverToUser:
		conns := h.clients[d.user]
		if len(conns) == 0 {
			if h.sink != nil {
				h.sink.PushToUser(d.user.String(), d.event, d.data)
			}
			return
		}
		payload, err := encodeEnvelope(d.event, d.data)
		if err != nil {
			h.log.Warn("failed to encode event", zap.String("event", d.event), zap.Error(err))
			return
		}
		for c := range conns {
			h.send(c, payload)
		}
	case deliverToRank:
		payload, err := encodeEnvelope(d.event, d.data)
		if err != nil {
			h.log.Warn("failed to encode event", zap.String("event", d.event), zap.Error(err))
			return
		}
		for _, conns := range h.clients {
			for c := range conns {
				if c.role.AtLeast(d.minRole) {
					h.send(c, payload)
				}
			}
		}
	case deliverToAll:
		payload, err := encodeEnvelope(d.event, d.data)
		if err != nil {
			h.log.Warn("failed to encode event", zap.String("event", d.event), zap.Error(err))
			return
		}
		for _, conns := range h.clients {
			for c := range conns {
				h.send(c, payload)
			}
		}
	}
}

// send enqueues onto the client's buffer. A client too slow to drain its
// buffer is evicted rather than allowed to stall the hub.
func (h *Hub) send(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.evict(c)
	}
}

func (h *Hub) evict(c *Client) {
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	_ = c.conn.Close()
	if len(conns) == 0 {
		delete(h.clients, c.userID)
		delete(h.away, c.userID)
	}
	h.log.Warn("evicted slow websocket client", zap.String("user_id", c.userID.String()))
}

func (h *Hub) closeAll() {
	for userID, conns := range h.clients {
		for c := range conns {
			close(c.send)
			_ = c.conn.Close()
		}
		delete(h.clients, userID)

		var role model.Role
		for c := range conns {
			role = c.role
			break
		}
		if role.AtLeast(model.RoleManager) {
			h.persistPresence(userID, model.PresenceOffline, 0)
		}
	}
}
