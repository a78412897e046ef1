package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
)

func wsTestServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitConnected(t *testing.T, b *Broadcaster) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		connected := b.conn != nil
		b.mu.Unlock()
		if connected {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("broadcast connection never established")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcasterAppliesSnapshotEvents(t *testing.T) {
	snap := snapshotAt(9, domain.Task{ID: 1, Title: "deploy", StatusID: 1, Position: 1})
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		data, _ := sonic.Marshal(domain.BoardEvent{Name: domain.EventBoardUpdate, Snapshot: &snap})
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
		<-ctx.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := NewStore()
	b := &Broadcaster{URL: url, Store: store, Logger: log.New()}
	go func() { _ = b.consume(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Seq() != 9 {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot event never applied, seq %d", store.Seq())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcasterRefetchesOnHintEvent(t *testing.T) {
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		data, _ := sonic.Marshal(domain.BoardEvent{Name: domain.EventBoardUpdate, TaskID: 5})
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
		<-ctx.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var refetched atomic.Bool
	b := &Broadcaster{
		URL:     url,
		Store:   NewStore(),
		Logger:  log.New(),
		Refetch: func(context.Context) error { refetched.Store(true); return nil },
	}
	go func() { _ = b.consume(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !refetched.Load() {
		if time.Now().After(deadline) {
			t.Fatal("hint event did not trigger a refetch")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcasterEmitStampsEvent(t *testing.T) {
	received := make(chan []byte, 1)
	url := wsTestServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		received <- data
		<-ctx.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := &Broadcaster{URL: url, Store: NewStore(), Logger: log.New()}
	go func() { _ = b.consume(ctx) }()
	waitConnected(t, b)

	if err := b.Emit(ctx, domain.BoardEvent{TaskID: 42}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case raw := <-received:
		var ev domain.BoardEvent
		if err := sonic.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.ID == "" {
			t.Fatal("expected emit to assign an event id")
		}
		if ev.Name != domain.EventTaskMutated {
			t.Fatalf("unexpected event name %q", ev.Name)
		}
		if ev.TaskID != 42 {
			t.Fatalf("unexpected task id %d", ev.TaskID)
		}
	case <-ctx.Done():
		t.Fatal("server never received the emitted event")
	}
}

func TestBroadcasterEmitRequiresConnection(t *testing.T) {
	b := &Broadcaster{URL: "ws://127.0.0.1:0", Store: NewStore()}
	if err := b.Emit(context.Background(), domain.BoardEvent{TaskID: 1}); err == nil {
		t.Fatal("expected error when the relay is not connected")
	}
}
