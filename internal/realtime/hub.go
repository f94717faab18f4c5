package realtime

import (
	"encoding/json"
	"sync"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/models"
)

// Subscription filters events by store. Zero means every store.
type Subscription struct {
	StoreID int64
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     logger.ILogger
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	StoreID int64  `json:"store_id"`
}

func NewHub(log logger.ILogger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
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

// Publish fans event out to every client subscribed to its store. Slow
// clients drop messages instead of blocking the caller.
func (h *Hub) Publish(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal realtime event", logger.Error(err))
		return
	}
	h.broadcast(payload, event.StoreID)
}

func (h *Hub) broadcast(payload []byte, storeID int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, storeID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.log.Warning("drop realtime message", logger.String("client", client.ID))
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func match(sub Subscription, storeID int64) bool {
	return sub.StoreID == 0 || sub.StoreID == storeID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.StoreID < 0 {
		return SubscribeMessage{}, false
	}
	return msg, true
}
