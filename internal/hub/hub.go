package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/lifecycle"
	"github.com/lfcamargo/wadash/internal/status"
	"go.uber.org/zap"
)

// ConnLike is the subset of the websocket connection the hub needs;
// tests substitute a fake.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Frame is the wire envelope for every dashboard push.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusSource supplies the session snapshot for new joiners.
type StatusSource interface {
	Status() lifecycle.Snapshot
}

// Client is one connected dashboard session.
type Client struct {
	ID   string
	Conn ConnLike
	Send chan []byte

	hub *Hub
}

// ReadPump consumes (and discards) inbound frames until the peer goes
// away, then unregisters. The dashboard channel is push-only.
func (c *Client) ReadPump() {
	defer c.hub.unregister(c)
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump drains the send queue onto the socket.
func (c *Client) WritePump() {
	for data := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Hub fans "ui.*" bus events out to every connected dashboard client.
// Fire-and-forget: no acknowledgement, no replay buffer; clients that
// cannot keep up lose frames and recover via refetch.
type Hub struct {
	source StatusSource
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates a hub reading snapshots from source.
func New(source StatusSource, b *bus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source:  source,
		bus:     b,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Start subscribes to dashboard-facing bus events.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	ch, unsub := h.bus.Subscribe("ui.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				h.Broadcast(strings.TrimPrefix(evt.Kind, "ui."), evt.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop detaches from the bus and drops all clients.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	for id, c := range h.clients {
		close(c.Send)
		_ = c.Conn.Close()
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// Register adds a connection and immediately replays the join snapshot:
// current status, plus the live pairing code if one is pending. A client
// joining after the code was generated would otherwise never see it.
func (h *Hub) Register(conn ConnLike) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 64),
		hub:  h,
	}

	snap := h.source.Status()
	h.push(c, "status", snap)
	if snap.Status == status.PublicConnecting && snap.PairingCode != "" {
		h.push(c, "pairing_code", lifecycle.PairingPayload{Code: snap.PairingCode, QRPNG: snap.QRPNG})
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.logger.Info("dashboard client joined", zap.String("client", c.ID))
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.Send)
	}
	h.mu.Unlock()
	_ = c.Conn.Close()
	h.logger.Info("dashboard client left", zap.String("client", c.ID))
}

// Broadcast pushes one frame to every client. Slow clients drop the
// frame rather than stall the fan-out.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("frame marshal failed", zap.Error(err), zap.String("event", event))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.Send <- payload:
		default:
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) push(c *Client, event string, data any) {
	payload, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.Send <- payload:
	default:
	}
}
