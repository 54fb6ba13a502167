package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscription selects which published messages a client receives. A set
// field must match the message; a client with no fields set receives nothing.
type Subscription struct {
	DepartmentID string
	TicketID     string
}

func (s Subscription) IsZero() bool {
	return s.DepartmentID == "" && s.TicketID == ""
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type SubscribeMessage struct {
	Action       string `json:"action"`
	DepartmentID string `json:"department_id"`
	TicketID     string `json:"ticket_id"`
	StudentID    string `json:"student_id"`
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// DepartmentIDs lists departments at least one client is watching.
func (h *Hub) DepartmentIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, client := range h.clients {
		id := client.Subscription.DepartmentID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.logger.Warn("drop message for slow client", zap.String("client_id", client.ID))
		}
	}
	return delivered
}

// Publish wraps value in an Envelope and broadcasts it.
func (h *Hub) Publish(eventType string, value interface{}, meta Subscription, at time.Time) (int, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(Envelope{Type: eventType, Payload: raw, CreatedAt: at})
	if err != nil {
		return 0, err
	}
	return h.Broadcast(payload, meta), nil
}

func match(sub Subscription, meta Subscription) bool {
	if sub.IsZero() {
		return false
	}
	if sub.DepartmentID != "" && meta.DepartmentID != sub.DepartmentID {
		return false
	}
	if sub.TicketID != "" && meta.TicketID != sub.TicketID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
	msg.DepartmentID = strings.TrimSpace(msg.DepartmentID)
	msg.TicketID = strings.TrimSpace(msg.TicketID)
	msg.StudentID = strings.TrimSpace(msg.StudentID)
	switch msg.Action {
	case "unsubscribe":
		return msg, true
	case "subscribe":
		if msg.DepartmentID == "" && msg.TicketID == "" {
			return SubscribeMessage{}, false
		}
		return msg, true
	default:
		return SubscribeMessage{}, false
	}
}
