package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Mirror receives a copy of every room broadcast (e.g. Redis for observers).
type Mirror interface {
	PublishRoomEvent(room, event string, payload []byte) error
}

// mirrorQueueSize bounds broadcasts waiting for the mirror; more are dropped.
const mirrorQueueSize = 1024

type mirrorJob struct {
	room, event string
	payload     []byte
}

// Hub maintains room -> set of connections and delivers messages.
type Hub struct {
	// room -> map[clientID]*Client
	rooms   map[string]map[string]*Client
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger

	mirror   Mirror
	mirrorQ  chan mirrorJob
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new WebSocket hub. mirror may be nil; otherwise it is fed
// from a background goroutine until Close.
func NewHub(logger *zap.Logger, mirror Mirror) *Hub {
	h := &Hub{
		rooms:   make(map[string]map[string]*Client),
		clients: make(map[string]*Client),
		logger:  logger,
		mirror:  mirror,
		stop:    make(chan struct{}),
	}
	if mirror != nil {
		h.mirrorQ = make(chan mirrorJob, mirrorQueueSize)
		go h.publishLoop()
	}
	return h
}

// Close stops the mirror publisher. Queued events not yet published are lost.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) publishLoop() {
	for {
		select {
		case <-h.stop:
			return
		case job := <-h.mirrorQ:
			if err := h.mirror.PublishRoomEvent(job.room, job.event, job.payload); err != nil {
				h.logger.Warn("mirror publish failed", zap.String("room", job.room), zap.String("event", job.event), zap.Error(err))
			}
		}
	}
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.Room] == nil {
		h.rooms[c.Room] = make(map[string]*Client)
	}
	h.rooms[c.Room][c.ID] = c
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room", c.Room))
}

// Unregister removes a client and closes its send channel. Safe to call more
// than once; reports whether the client was still registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(c.ID)
}

func (h *Hub) removeLocked(id string) bool {
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	delete(h.clients, id)
	if m, ok := h.rooms[c.Room]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(h.rooms, c.Room)
		}
	}
	close(c.send)
	h.logger.Debug("client left room", zap.String("client_id", id), zap.String("room", c.Room))
	return true
}

func encode(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}

// Broadcast sends a message to every client in a room and queues it for the
// mirror.
func (h *Hub) Broadcast(room, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	for _, c := range h.rooms[room] {
		c.enqueue(msg)
	}
	h.mu.RUnlock()

	if h.mirrorQ != nil {
		select {
		case h.mirrorQ <- mirrorJob{room: room, event: event, payload: msg.Data}:
		default:
			h.logger.Warn("mirror queue full", zap.String("room", room), zap.String("event", event))
		}
	}
}

// Send sends a message to a single client.
func (h *Hub) Send(clientID, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		h.logger.Error("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	if c, ok := h.clients[clientID]; ok {
		c.enqueue(msg)
	}
	h.mu.RUnlock()
}

// Disconnect forcibly closes a client. Messages already queued for it are
// still written before the close frame.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(clientID)
}

// RoomSize returns the number of connected clients in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
