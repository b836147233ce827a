package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Client is a registered Connection plus the identifier the Hub uses
// to address it in logs and lookups.
type Client struct {
	ID string
	*Connection
}

// HubOptions configures a Hub at construction. The zero value is
// valid: unlimited admission rate and a no-op logger.
type HubOptions struct {
	// AdmissionLimit, when non-zero, caps the rate at which Admit
	// accepts new connections (golang.org/x/time/rate), so a burst of
	// upgrades cannot starve already-registered connections of CPU.
	AdmissionLimit rate.Limit
	AdmissionBurst int

	Logger zerolog.Logger
}

// Hub is a registry of live Connections supporting broadcast and
// admission control. Admit/Unregister/Broadcast are channel
// operations served by a single event-loop goroutine (Run); everything
// inside an individual Connection remains owned by its own driving
// goroutine, per the engine's concurrency model.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastRequest

	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

type broadcastRequest struct {
	opcode  OpCode
	payload []byte
}

// NewHub constructs a Hub. Call Run in a goroutine (or via an
// errgroup, see RunWithContext) before registering any clients.
func NewHub(opts *HubOptions) *Hub {
	if opts == nil {
		opts = &HubOptions{}
	}
	var limiter *rate.Limiter
	if opts.AdmissionLimit > 0 {
		burst := opts.AdmissionBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.AdmissionLimit, burst)
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastRequest, 256),
		limiter:    limiter,
		log:        opts.Logger,
		clients:    make(map[string]*Client),
	}
}

// Run serves the Hub's event loop until ctx is canceled, then drains
// and closes every registered Connection before returning.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.log.Debug().Str("client", c.ID).Int("clients", h.ClientCount()).Msg("client registered")

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c.ID]
			delete(h.clients, c.ID)
			h.mu.Unlock()
			if ok {
				_ = c.Close(CloseGoingAway, "")
				h.log.Debug().Str("client", c.ID).Int("clients", h.ClientCount()).Msg("client unregistered")
			}

		case req := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				go func(c *Client) {
					if err := c.Send(req.opcode, req.payload); err != nil {
						h.log.Warn().Str("client", c.ID).Err(err).Msg("broadcast send failed")
						h.Unregister(c)
					}
				}(c)
			}

		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				_ = c.Close(CloseGoingAway, "server shutting down")
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return ctx.Err()
		}
	}
}

// RunWithContext serves the Hub inside an errgroup, so a CLI binary's
// listener goroutine and the Hub's event loop drain together when
// either one fails or ctx is canceled.
func RunWithContext(ctx context.Context, h *Hub) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	return g, gctx
}

// Admit blocks until the Hub's admission limiter (if configured)
// allows one more registration, then registers conn under a freshly
// generated short ID and returns the Client handle.
func (h *Hub) Admit(ctx context.Context, conn *Connection) (*Client, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("websocket: admission denied: %w", err)
		}
	}
	c := &Client{ID: shortuuid.New(), Connection: conn}
	h.register <- c
	return c, nil
}

// Unregister removes client from the Hub and closes its Connection.
// Safe to call more than once for the same client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a message for delivery to every registered client.
// Delivery happens asynchronously; a client whose Send fails is
// automatically unregistered.
func (h *Hub) Broadcast(opcode OpCode, payload []byte) {
	h.broadcast <- broadcastRequest{opcode: opcode, payload: payload}
}

// ClientCount reports the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
