package segment

import (
	"context"
	"errors"
	"testing"
	"time"
)

// u returns a minimal finalized utterance for queue tests.
func u(id string) *Utterance {
	return &Utterance{ID: id, Finalized: true}
}

// TestQueue_FIFO checks basic ordering.
func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(4)
	q.Put(u("a"))
	q.Put(u("b"))
	q.Put(u("c"))

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if got.ID != want {
			t.Errorf("Take = %q, want %q", got.ID, want)
		}
	}
}

// TestQueue_DropOldestOnOverflow checks that saturation evicts the oldest
// pending utterance and keeps the newest.
func TestQueue_DropOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)
	q.Put(u("a"))
	q.Put(u("b"))

	dropped := q.Put(u("c"))
	if dropped == nil || dropped.ID != "a" {
		t.Fatalf("dropped = %v, want a", dropped)
	}
	if q.Drops() != 1 {
		t.Errorf("Drops = %d, want 1", q.Drops())
	}

	ctx := context.Background()
	for _, want := range []string{"b", "c"} {
		got, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if got.ID != want {
			t.Errorf("Take = %q, want %q", got.ID, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

// TestQueue_BoundedUnderSustainedOverload checks that heavy sustained Put
// traffic never grows the queue past its bound.
func TestQueue_BoundedUnderSustainedOverload(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 10_000; i++ {
		q.Put(u("x"))
		if q.Len() > 8 {
			t.Fatalf("queue grew to %d past its bound", q.Len())
		}
	}
	if q.Drops() != 10_000-8 {
		t.Errorf("Drops = %d, want %d", q.Drops(), 10_000-8)
	}
}

// TestQueue_TakeBlocksUntilPut checks the consumer wakeup path.
func TestQueue_TakeBlocksUntilPut(t *testing.T) {
	q := NewQueue(2)

	done := make(chan *Utterance, 1)
	go func() {
		got, err := q.Take(context.Background())
		if err != nil {
			t.Errorf("Take: %v", err)
		}
		done <- got
	}()

	// Give the consumer time to block, then feed it.
	time.Sleep(20 * time.Millisecond)
	q.Put(u("late"))

	select {
	case got := <-done:
		if got.ID != "late" {
			t.Errorf("Take = %q, want late", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not wake after Put")
	}
}

// TestQueue_TakeHonoursContext checks cancellation while blocked.
func TestQueue_TakeHonoursContext(t *testing.T) {
	q := NewQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Take error = %v, want deadline exceeded", err)
	}
}

// TestQueue_WakeupSurvivesMultiplePuts checks that several Puts before a
// single Take do not lose items to the coalesced wakeup.
func TestQueue_WakeupSurvivesMultiplePuts(t *testing.T) {
	q := NewQueue(4)
	q.Put(u("a"))
	q.Put(u("b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("first Take: %v", err)
	}
	second, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("second Take: %v", err)
	}
	if first.ID != "a" || second.ID != "b" {
		t.Errorf("got %q, %q; want a, b", first.ID, second.ID)
	}
}
