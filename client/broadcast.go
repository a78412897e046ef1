package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

// Broadcaster is the client side of the relay channel. Received events that
// carry a snapshot go through the store's sequence gate like any other
// transport; events without one are treated purely as a hint to re-fetch.
type Broadcaster struct {
	URL     string // ws(s)://host/api/ws
	Token   string
	Store   *Store
	Refetch func(context.Context) error
	Retry   time.Duration
	Logger  *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// Run keeps a relay connection open until ctx is cancelled, reconnecting with
// a fixed delay. There is no replay on reconnect; events emitted while
// disconnected are simply missed and the poll/stream paths converge the store.
func (b *Broadcaster) Run(ctx context.Context) {
	retry := b.Retry
	if retry <= 0 {
		retry = defaultStreamRetry
	}
	for {
		if err := b.consume(ctx); err != nil && b.Logger != nil {
			b.Logger.WithError(err).Error("broadcast channel failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// Emit publishes a task-mutated event to the relay. Best effort: on error the
// other clients still converge on their next poll or stream tick.
func (b *Broadcaster) Emit(ctx context.Context, ev domain.BoardEvent) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("broadcast channel not connected")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Name == "" {
		ev.Name = domain.EventTaskMutated
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (b *Broadcaster) consume(ctx context.Context) error {
	target := b.URL
	if b.Token != "" {
		target += "?token=" + url.QueryEscape(b.Token)
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.setConn(conn)
	defer func() {
		b.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev domain.BoardEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			if b.Logger != nil {
				b.Logger.WithError(err).Warn("dropping malformed broadcast event")
			}
			continue
		}
		if ev.Snapshot != nil {
			b.Store.Apply(*ev.Snapshot)
		} else if b.Refetch != nil {
			if err := b.Refetch(ctx); err != nil && b.Logger != nil {
				b.Logger.WithError(err).Warn("broadcast-triggered refetch failed")
			}
		}
	}
}

func (b *Broadcaster) setConn(conn *websocket.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
}
