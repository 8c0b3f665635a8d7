package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/security"
)

// GroupAuthorizer decides whether actor may subscribe to an order or rental
// group.
type GroupAuthorizer interface {
	AuthorizeGroup(ctx context.Context, actor domain.Actor, group string) error
}

type clientMessage struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

type serverMessage struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub      *Hub
	tokens   security.TokenManager
	auth     GroupAuthorizer
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, tokens security.TokenManager, auth GroupAuthorizer, allowedOrigins []string) *Handler {
	return &Handler{
		hub:    hub,
		tokens: tokens,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// bearerToken reads the token from the Authorization header or, for
// browsers that cannot set headers on upgrade, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeUnauthorized(w, "missing bearer token")
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket auth rejected", "error", err, "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	c := newClient(conn, claims.Actor())
	h.hub.register(c)
	go c.writePump()
	h.readPump(r.Context(), c)
}

func (h *Handler) readPump(ctx context.Context, c *client) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Unexpected WebSocket close", "connID", c.id, "error", err)
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, serverMessage{Type: "error", Error: "malformed message"})
			continue
		}
		h.handle(ctx, c, msg)
	}
}

func (h *Handler) handle(ctx context.Context, c *client, msg clientMessage) {
	switch msg.Action {
	case "join":
		if err := h.authorize(ctx, c.actor, msg.Group); err != nil {
			h.reply(c, serverMessage{Type: "error", Group: msg.Group, Error: apperr.PublicMessage(err)})
			return
		}
		h.hub.join(c, msg.Group)
		h.reply(c, serverMessage{Type: "joined", Group: msg.Group})
	case "leave":
		h.hub.leave(c, msg.Group)
		h.reply(c, serverMessage{Type: "left", Group: msg.Group})
	default:
		h.reply(c, serverMessage{Type: "error", Error: "unknown action"})
	}
}

func (h *Handler) authorize(ctx context.Context, actor domain.Actor, group string) error {
	switch {
	case group == domain.GroupOrdersList:
		return nil
	case strings.HasPrefix(group, "order:"), strings.HasPrefix(group, "rental:"):
		if h.auth == nil {
			return apperr.Forbidden("group subscriptions are disabled")
		}
		return h.auth.AuthorizeGroup(ctx, actor, group)
	}
	return apperr.Forbidden("cannot join group %q", group)
}

func (h *Handler) reply(c *client, msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	if _, ok := h.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   apperr.KindAuthorization.String(),
		"message": msg,
	})
}
