// Package realtime fans marketplace events out to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

type client struct {
	id     string
	actor  domain.Actor
	conn   *websocket.Conn
	send   chan []byte
	groups map[string]struct{}
}

// Hub tracks live connections by group. A connection belongs to its own
// user group, its role group and any groups it joined explicitly.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*client]struct{}
	clients map[*client]struct{}
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		groups:  make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
		now:     time.Now,
	}
}

func newClient(conn *websocket.Conn, actor domain.Actor) *client {
	return &client{
		id:     uuid.NewString(),
		actor:  actor,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		groups: make(map[string]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.join(c, domain.UserGroup(c.actor.UserID))
	switch c.actor.Role {
	case domain.RoleSupplier:
		h.join(c, domain.GroupSuppliers)
	case domain.RoleBuyer:
		h.join(c, domain.GroupBuyers)
	}
	logger.Info("WebSocket client registered", "connID", c.id, "userID", c.actor.UserID, "role", c.actor.Role)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for g := range c.groups {
		members := h.groups[g]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, c)
	close(c.send)
	logger.Info("WebSocket client unregistered", "connID", c.id, "userID", c.actor.UserID)
}

func (h *Hub) join(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	c.groups[group] = struct{}{}
}

func (h *Hub) leave(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(c.groups, group)
}

// Publish delivers ev to every connection in its groups. A connection that
// sits in several target groups receives the event once. Slow consumers
// whose buffers are full are skipped.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = h.now().UTC()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*client]struct{})
	dropped := 0
	for _, g := range ev.Groups {
		for c := range h.groups[g] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- msg:
			default:
				dropped++
			}
		}
	}
	if dropped > 0 {
		logger.Warn("Realtime event dropped for slow clients", "type", ev.Type, "dropped", dropped)
	}
	logger.Debug("Realtime event published", "type", ev.Type, "groups", ev.Groups, "recipients", len(seen)-dropped)
	return nil
}

// GroupSize reports how many connections are in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
