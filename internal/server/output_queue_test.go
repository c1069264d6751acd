package server

import (
	"context"
	"testing"
	"time"
)

func TestOutputQueueDropsOldest(t *testing.T) {
	q := NewOutputQueue(3)
	for _, line := range []string{"1", "2", "3", "4", "5"} {
		if !q.Push(line) {
			t.Fatalf("push %s refused", line)
		}
	}

	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped lines, got %d", q.Dropped())
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued lines, got %d", q.Len())
	}

	ctx := context.Background()
	for _, want := range []string{"3", "4", "5"} {
		got, ok := q.Pop(ctx)
		if !ok || got != want {
			t.Fatalf("expected %s, got %q (ok=%v)", want, got, ok)
		}
	}
}

func TestOutputQueueDrainsAfterClose(t *testing.T) {
	q := NewOutputQueue(4)
	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Fatalf("push after close should be refused")
	}

	ctx := context.Background()
	if line, ok := q.Pop(ctx); !ok || line != "a" {
		t.Fatalf("expected a, got %q", line)
	}
	if line, ok := q.Pop(ctx); !ok || line != "b" {
		t.Fatalf("expected b, got %q", line)
	}
	if _, ok := q.Pop(ctx); ok {
		t.Fatalf("expected closed queue to report end")
	}
}

func TestOutputQueuePopWaitsForPush(t *testing.T) {
	q := NewOutputQueue(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, ok := q.Pop(ctx)
	if !ok || line != "late" {
		t.Fatalf("expected late line, got %q (ok=%v)", line, ok)
	}
}

func TestOutputQueuePopHonorsContext(t *testing.T) {
	q := NewOutputQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Pop(ctx); ok {
		t.Fatalf("expected pop to give up when context expires")
	}
}

func TestRingBufferLast(t *testing.T) {
	rb := NewRingBuffer(3)
	if len(rb.Last(5)) != 0 {
		t.Fatalf("expected empty buffer")
	}

	for _, line := range []string{"a", "b", "c", "d"} {
		rb.Add(line)
	}

	lines := rb.Lines()
	if len(lines) != 3 || lines[0] != "b" || lines[2] != "d" {
		t.Fatalf("unexpected lines: %v", lines)
	}

	last := rb.Last(2)
	if len(last) != 2 || last[0] != "c" || last[1] != "d" {
		t.Fatalf("unexpected last lines: %v", last)
	}
}
