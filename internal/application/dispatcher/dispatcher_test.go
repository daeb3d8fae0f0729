package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/approval-flow/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func testEvent(eventType event.Type) *event.Event {
	return event.New(eventType, "inst-1", "expense-claim", "u-init", nil, time.Now())
}

func TestDispatcher_PublishDeliversToSubscribers(t *testing.T) {
	d := New()
	defer d.Close()

	var delivered atomic.Int32
	d.Subscribe(event.TypeInstanceCreated, "counter", func(ctx context.Context, evt *event.Event) error {
		delivered.Add(1)
		return nil
	})

	if err := d.Publish(context.Background(), testEvent(event.TypeInstanceCreated)); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if err := d.Publish(context.Background(), testEvent(event.TypeNodeApproved)); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	// Close waits for in-flight async handlers.
	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if got := delivered.Load(); got != 1 {
		t.Errorf("delivered = %d, want 1 (only the subscribed type)", got)
	}
}

func TestDispatcher_DispatchSyncOrder(t *testing.T) {
	d := New()
	defer d.Close()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		n := name
		d.Subscribe(event.TypeNodeApproved, n, func(ctx context.Context, evt *event.Event) error {
			order = append(order, n)
			return nil
		})
	}

	if err := d.DispatchSync(context.Background(), testEvent(event.TypeNodeApproved)); err != nil {
		t.Fatalf("DispatchSync() failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestDispatcher_DispatchSyncStopsOnError(t *testing.T) {
	d := New()
	defer d.Close()

	handlerErr := errors.New("boom")
	var secondRan bool

	d.Subscribe(event.TypeNodeRejected, "failing", func(ctx context.Context, evt *event.Event) error {
		return handlerErr
	})
	d.Subscribe(event.TypeNodeRejected, "after", func(ctx context.Context, evt *event.Event) error {
		secondRan = true
		return nil
	})

	err := d.DispatchSync(context.Background(), testEvent(event.TypeNodeRejected))
	if err == nil {
		t.Fatal("DispatchSync() should return the handler error")
	}
	if !errors.Is(err, handlerErr) {
		t.Errorf("error = %v, want wrapped %v", err, handlerErr)
	}
	if secondRan {
		t.Error("handlers after a failure should not run in sync dispatch")
	}
}

func TestDispatcher_PublishRecoversFromPanic(t *testing.T) {
	logger := &mockLogger{}
	d := New(WithLogger(logger))

	d.Subscribe(event.TypeInstanceCompleted, "panicking", func(ctx context.Context, evt *event.Event) error {
		panic("handler exploded")
	})

	if err := d.Publish(context.Background(), testEvent(event.TypeInstanceCompleted)); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if logger.ErrorCount() == 0 {
		t.Error("panic should be recovered and logged")
	}
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := New()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := d.Publish(context.Background(), testEvent(event.TypeInstanceCreated)); err == nil {
		t.Error("Publish() after Close() should fail")
	}
	if err := d.Close(); err == nil {
		t.Error("double Close() should fail")
	}
}

func TestDispatcher_PublishNoSubscribers(t *testing.T) {
	d := New()
	defer d.Close()

	if err := d.Publish(context.Background(), testEvent(event.TypeFollowAdded)); err != nil {
		t.Errorf("Publish() with no subscribers failed: %v", err)
	}
}
