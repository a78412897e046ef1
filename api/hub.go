package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

const hubWriteTimeout = 5 * time.Second

// Hub relays task-mutated events between connected WebSocket clients: an event
// emitted by one client is forwarded to every other client, locally and (via a
// redis channel) on sibling server processes. It is an explicitly constructed
// service: build it with NewHub, start Run on boot, inject it into Register.
//
// The relay is best effort. No acks, no ordering across rapid mutations, and
// slow consumers have messages dropped rather than stalling the fan-out.
type Hub struct {
	logger     *log.Logger
	redis      *redis.Client
	channel    string
	deduper    Deduper
	instanceID string

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewHub creates a broadcast relay. The redis client and channel enable
// cross-instance fan-out and may be nil/empty for single-process deployments;
// the deduper keeps an event from being relayed twice by the same process when
// it arrives over both the local socket and the redis channel.
func NewHub(logger *log.Logger, rc *redis.Client, channel string, deduper Deduper) *Hub {
	if logger == nil {
		panic("api.NewHub: logger is required")
	}
	return &Hub{
		logger:     logger,
		redis:      rc,
		channel:    channel,
		deduper:    deduper,
		instanceID: uuid.NewString(),
		clients:    make(map[*hubClient]struct{}),
	}
}

// Run consumes the redis relay channel until ctx is cancelled. It is a no-op
// without a redis client.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil || h.channel == "" {
		return
	}
	for {
		sub := h.redis.Subscribe(ctx, h.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				h.dispatch(ctx, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("broadcast pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// Handler upgrades the request to a WebSocket connection and pumps events in
// both directions until the client disconnects.
func (h *Hub) Handler(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			h.logger.WithError(err).Error("websocket upgrade failed")
			return nil
		}

		client := &hubClient{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, 16),
			done: make(chan struct{}),
		}
		h.add(client)
		defer h.remove(client)

		ctx := c.Request().Context()
		go h.writeLoop(ctx, client)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Client went away; normal termination.
				return nil
			}
			h.ingest(ctx, client, data)
		}
	}
}

// ingest handles an event emitted by a locally connected client.
func (h *Hub) ingest(ctx context.Context, sender *hubClient, raw []byte) {
	var ev domain.BoardEvent
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		h.logger.WithError(err).Warn("dropping malformed broadcast event")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Origin = sender.id
	if ev.Name == "" {
		ev.Name = domain.EventTaskMutated
	}

	if !h.firstSeen(ctx, ev.ID) {
		return
	}

	ev.Name = domain.EventBoardUpdate
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("broadcast event marshal failed")
		return
	}

	h.relayLocal(data, ev.Origin)

	if h.redis != nil && h.channel != "" {
		if err := h.redis.Publish(ctx, h.channel, data).Err(); err != nil {
			h.logger.WithError(err).Error("broadcast publish failed")
		}
	}
}

// dispatch handles an event arriving over the redis channel. The originating
// instance already marked the event ID, so firstSeen keeps it from relaying
// its own publish a second time.
func (h *Hub) dispatch(ctx context.Context, raw []byte) {
	var ev domain.BoardEvent
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		h.logger.WithError(err).Warnf("unable to parse relayed event")
		return
	}
	if ev.ID == "" || !h.firstSeen(ctx, ev.ID) {
		return
	}
	h.relayLocal(raw, ev.Origin)
}

// firstSeen reports whether this process sees the event ID for the first time.
// Without a deduper every event is treated as new, which is only safe when the
// redis relay is disabled.
func (h *Hub) firstSeen(ctx context.Context, id string) bool {
	if h.deduper == nil {
		return true
	}
	newly, err := h.deduper.Add(ctx, h.instanceID, id)
	if err != nil {
		h.logger.WithError(err).Error("broadcast dedupe failed")
		return true
	}
	return newly
}

func (h *Hub) relayLocal(data []byte, originID string) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		if client.id == originID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("broadcast buffer full, dropping message")
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, client *hubClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case data := <-client.send:
			wctx, cancel := context.WithTimeout(ctx, hubWriteTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.remove(client)
				return
			}
		}
	}
}

func (h *Hub) add(client *hubClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debugf("broadcast client connected, total: %d", total)
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	_, exists := h.clients[client]
	if exists {
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if exists {
		client.close()
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debugf("broadcast client disconnected, total: %d", total)
	}
}

// ClientCount returns the number of locally connected broadcast clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
