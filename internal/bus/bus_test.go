package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	sessionID := "session-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		done := make(chan struct{})

		_, err := bus.Subscribe(ctx, sessionID, domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			close(done)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, sessionID, domain.TopicBatchScored, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, done)
		msg := <-got
		if string(msg.Payload) != "hello" {
			t.Errorf("expected 'hello', got '%s'", string(msg.Payload))
		}
		if msg.SessionID != sessionID {
			t.Errorf("expected session %s, got %s", sessionID, msg.SessionID)
		}
		if msg.ID == "" {
			t.Error("expected message ID")
		}
	})

	t.Run("SessionIsolation", func(t *testing.T) {
		received := make(chan string, 2)

		_, _ = bus.Subscribe(ctx, "session-a", domain.TopicIncident, func(ctx context.Context, msg *domain.Message) error {
			received <- msg.SessionID
			return nil
		})

		_ = bus.Publish(ctx, "session-b", domain.TopicIncident, []byte("x"))
		_ = bus.Publish(ctx, "session-a", domain.TopicIncident, []byte("y"))

		select {
		case sid := <-received:
			if sid != "session-a" {
				t.Errorf("received message for %s", sid)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout")
		}

		select {
		case sid := <-received:
			t.Errorf("unexpected second delivery for %s", sid)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("SessionRequired", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "t", nil); err == nil {
			t.Error("expected error for empty sessionID")
		}
		if _, err := bus.Subscribe(ctx, "", "t", nil); err == nil {
			t.Error("expected error for empty sessionID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		calls := make(chan struct{}, 10)
		sub, _ := bus.Subscribe(ctx, sessionID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			calls <- struct{}{}
			return nil
		})
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic %s", sub.Topic())
		}

		_ = sub.Unsubscribe()
		_ = bus.Publish(ctx, sessionID, "unsub.topic", []byte("x"))

		select {
		case <-calls:
			t.Error("handler called after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestChannelBusPreservesOrderWithoutDropping(t *testing.T) {
	// A tiny buffer forces Publish to wait for the subscriber.
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	const n = 500

	var mu sync.Mutex
	var seen []byte
	done := make(chan struct{})

	_, _ = bus.Subscribe(ctx, "s", "ordered", func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Payload[0])
		if len(seen) == n {
			close(done)
		}
		return nil
	})

	for i := 0; i < n; i++ {
		if err := bus.Publish(ctx, "s", "ordered", []byte{byte(i % 256)}); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	waitFor(t, done)

	mu.Lock()
	defer mu.Unlock()
	for i, b := range seen {
		if b != byte(i%256) {
			t.Fatalf("message %d out of order", i)
		}
	}
}

func TestChannelBusHandlerMayPublish(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	done := make(chan struct{})

	_, _ = bus.Subscribe(ctx, "s", domain.TopicBatchStreamed, func(ctx context.Context, msg *domain.Message) error {
		return bus.Publish(ctx, "s", domain.TopicBatchScored, msg.Payload)
	})
	_, _ = bus.Subscribe(ctx, "s", domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
		close(done)
		return nil
	})

	_ = bus.Publish(ctx, "s", domain.TopicBatchStreamed, []byte("b"))
	waitFor(t, done)
}

func TestChannelBusPublishRespectsContext(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	block := make(chan struct{})
	defer close(block)

	_, _ = bus.Subscribe(context.Background(), "s", "slow", func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = bus.Publish(ctx, "s", "slow", []byte("x"))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	if err := bus.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	_ = bus.Close()
	_ = bus.Close()

	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ping, got %v", err)
	}
	if err := bus.Publish(ctx, "s", "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from publish, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "s", "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from subscribe, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("failed to create channel bus: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestSubject(t *testing.T) {
	got, err := Subject("3f2a", domain.TopicIncident)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sentinel.incident.3f2a" {
		t.Errorf("unexpected subject %q", got)
	}

	for _, bad := range []string{"", "a.b", "a*", "a>", "a b"} {
		if _, err := Subject(bad, domain.TopicIncident); err == nil {
			t.Errorf("expected error for session %q", bad)
		}
	}
}

func TestPublishJSONAndDecode(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	got := make(chan domain.Batch, 1)

	_, _ = bus.Subscribe(ctx, "s", domain.TopicBatchStreamed, func(ctx context.Context, msg *domain.Message) error {
		var b domain.Batch
		if err := Decode(msg, &b); err != nil {
			return err
		}
		got <- b
		return nil
	})

	want := domain.Batch{Tick: 4, Seq: 1, Transactions: []domain.Transaction{{Step: 4, Type: domain.TxDebit, Amount: 12.5}}}
	if err := PublishJSON(ctx, bus, "s", domain.TopicBatchStreamed, want); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	select {
	case b := <-got:
		if b.Tick != 4 || b.Seq != 1 || len(b.Transactions) != 1 || b.Transactions[0] != want.Transactions[0] {
			t.Errorf("unexpected batch %+v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}

	if err := Decode(&domain.Message{Topic: "x", Payload: []byte("{")}, &domain.Batch{}); err == nil {
		t.Error("expected decode error")
	}
}
