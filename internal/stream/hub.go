package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans monitor events (parking checks, departures, alerts) out to
// websocket clients watching a vehicle, with redis pubsub bridging
// multiple instances.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	VehicleID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(vehicleID string) *Client {
	client := &Client{
		VehicleID: vehicleID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[vehicleID] == nil {
		h.clients[vehicleID] = map[*Client]struct{}{}
	}
	h.clients[vehicleID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if vehicleClients, ok := h.clients[client.VehicleID]; ok {
		delete(vehicleClients, client)
		if len(vehicleClients) == 0 {
			delete(h.clients, client.VehicleID)
		}
	}
	close(client.Send)
}

func (h *Hub) Broadcast(vehicleID string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[vehicleID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(vehicleID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	// Channel names carry the vehicle id, so cross-instance fan-in
	// needs a pattern subscription.
	pubsub := h.redis.PSubscribe(ctx, "monitor:*:events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		vehicleID := vehicleIDFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[vehicleID]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(vehicleID string) string {
	return "monitor:" + vehicleID + ":events"
}

func vehicleIDFromChannel(ch string) string {
	// monitor:{vehicle}:events
	const prefix = "monitor:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
