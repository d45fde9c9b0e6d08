package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/prometheus/client_golang/prometheus"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the central brain of the relay. A single goroutine (Run) owns client
// registration and drives the room registry, so messages from one sender are
// forwarded in the order they were read.
type Hub struct {
	registry *Registry
	metrics  *metrics
	logger   *slog.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	// clients is only touched by Run.
	clients     map[*Client]struct{}
	connections atomic.Int64
}

// NewHub creates a Hub. Call Run to start processing.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   NewRegistry(),
		metrics:    newMetrics(),
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Registry exposes the hub's room registry for inspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// RegisterMetrics exposes the hub's counters and gauges on reg.
func (h *Hub) RegisterMetrics(reg prometheus.Registerer) {
	registerMetrics(reg, h.metrics, h)
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	return int(h.connections.Load())
}

// Run processes registrations and messages until ctx is cancelled. All state
// is dropped on exit; clients see their connections close.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.registry.Leave(client)
				close(client.send)
			}
			h.clients = nil
			h.connections.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.connections.Add(1)
			h.logger.Info("client registered", "client", client.id, "remote", client.remoteAddr)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			h.connections.Add(-1)
			rooms := h.registry.Leave(client)
			close(client.send)
			h.logger.Info("client unregistered", "client", client.id, "rooms", len(rooms))

		case in := <-h.inbound:
			h.handle(in.client, in.msg)
		}
	}
}

func (h *Hub) handle(client *Client, msg *signaling.Message) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	if err := msg.Validate(); err != nil {
		h.logger.Warn("dropping malformed message", "client", client.id, "type", msg.Type, "error", err)
		h.metrics.drop(dropMalformed)
		return
	}

	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		if h.registry.Join(client, msg.RoomID) {
			h.logger.Info("joined room", "client", client.id, "room", msg.RoomID,
				"members", h.registry.Members(msg.RoomID))
		}

	case signaling.MessageTypeLeaveRoom:
		if h.registry.LeaveRoom(client, msg.RoomID) {
			h.logger.Info("left room", "client", client.id, "room", msg.RoomID)
		}

	default:
		n, err := h.registry.Relay(client, msg)
		h.metrics.relayed.Add(float64(n))
		switch {
		case errors.Is(err, ErrRelayDeliveryMiss):
			h.metrics.misses.Inc()
			h.logger.Debug("relay miss", "client", client.id, "room", msg.RoomID, "type", msg.Type)
		case errors.Is(err, ErrDeliveryDropped):
			h.metrics.drop(dropQueueFull)
			h.logger.Warn("peer queue full", "client", client.id, "room", msg.RoomID, "type", msg.Type)
		default:
			h.logger.Debug("relayed", "client", client.id, "room", msg.RoomID, "type", msg.Type)
		}
	}
}

// add hands a new client to Run.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// remove hands a disconnected client to Run.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch hands an inbound message to Run.
func (h *Hub) dispatch(c *Client, msg *signaling.Message) {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
	case <-h.done:
	}
}
