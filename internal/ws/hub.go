// Package ws pushes stats snapshots and detection events to WebSocket
// clients.
package ws

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"roiwatch/internal/motion"
	"roiwatch/internal/pipeline"
)

const clientQueue = 16

// Hub fans messages out to connected clients. Each client has its own queue
// so a slow client never stalls the detection loop or other clients; when a
// queue is full the message is dropped for that client only.
type Hub struct {
	clients       map[*client]bool
	mu            sync.RWMutex
	forwardFrames bool
	dropped       atomic.Uint64
	logger        *zap.SugaredLogger
}

type client struct {
	send   chan []byte
	remote string
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

var (
	_ pipeline.Broadcaster      = (*Hub)(nil)
	_ pipeline.DetectionHandler = (*Hub)(nil)
)

// NewHub creates a hub. With forwardFrames set, stats messages carry the
// encoded frame they describe.
func NewHub(forwardFrames bool, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:       make(map[*client]bool),
		forwardFrames: forwardFrames,
		logger:        logger.Named("ws"),
	}
}

func (h *Hub) register(remote string) *client {
	c := &client{send: make(chan []byte, clientQueue), remote: remote}
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Infow("client registered", "remote", remote, "clients", n)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Infow("client unregistered", "remote", c.remote, "clients", n)
	}
}

// Broadcast implements pipeline.Broadcaster.
func (h *Hub) Broadcast(stats motion.FrameStats, payload []byte) {
	if h.ClientCount() == 0 {
		return
	}
	if !h.forwardFrames {
		payload = nil
	}
	h.send(NewStatsMessage(stats, payload))
}

// OnDetection implements pipeline.DetectionHandler.
func (h *Hub) OnDetection(event *pipeline.DetectionEvent) {
	if h.ClientCount() == 0 {
		return
	}
	h.send(NewDetectionMessage(event))
}

func (h *Hub) send(msg *Message) {
	data, err := msg.encode()
	if err != nil {
		h.logger.Warnw("error marshaling message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}
