package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
	"vigil-backend/internal/services"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type principalParser interface {
	ParsePrincipal(token string) (models.Principal, error)
}

// Hub pushes progress and alert updates to connected browsers. Each user
// with at least one open socket holds one Redis subscription.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	auth        principalParser
	cancelFuncs map[uuid.UUID]context.CancelFunc
	log         *logrus.Entry
}

func NewHub(redisClient *redis.Client, auth principalParser, logger *logrus.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		auth:        auth,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		log:         logger.WithField("component", "websocket"),
	}
}

// Channels lists the pub/sub channels a principal listens on: its own
// updates, plus alert traffic for reviewers.
func Channels(p models.Principal) []string {
	channels := []string{services.UserChannel(p.UserID)}
	switch {
	case p.Role == models.RoleAdmin:
		channels = append(channels, services.AllAlertsChannel)
	case p.Role == models.RoleOrgAdmin && p.OrganizationID != nil:
		channels = append(channels, services.OrgAlertsChannel(*p.OrganizationID))
	}
	return channels
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := h.auth.ParsePrincipal(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.registerConnection(p, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(p.UserID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(p models.Principal, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[p.UserID] = append(h.connections[p.UserID], conn)

	// Start pub/sub subscription if this is the first connection for this user
	if len(h.connections[p.UserID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[p.UserID] = cancel
		go h.subscribeToPubSub(ctx, p.UserID, Channels(p))
	}

	h.log.WithFields(logrus.Fields{
		"user_id": p.UserID,
		"total":   len(h.connections[p.UserID]),
	}).Debug("websocket connected")
}

func (h *Hub) unregisterConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[userID]
	for i, c := range conns {
		if c == conn {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
			delete(h.cancelFuncs, userID)
		}
	}

	h.log.WithField("user_id", userID).Debug("websocket disconnected")
}

func (h *Hub) subscribeToPubSub(ctx context.Context, userID uuid.UUID, channels []string) {
	pubsub := h.redisClient.Subscribe(ctx, channels...)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

// broadcast writes under the write lock: gorilla connections allow one
// concurrent writer.
func (h *Hub) broadcast(userID uuid.UUID, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.connections[userID] {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).WithField("user_id", userID).Debug("websocket write failed")
		}
	}
}

// Close drops every socket and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.connections {
		for _, c := range conns {
			c.Close()
		}
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
		}
	}
	h.connections = make(map[uuid.UUID][]*websocket.Conn)
	h.cancelFuncs = make(map[uuid.UUID]context.CancelFunc)
}
