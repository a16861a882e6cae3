package audio

import (
	"errors"
	"testing"
	"time"
)

func TestFrameQueuePushPopOrder(t *testing.T) {
	q := NewFrameQueue(8, DropOldest)
	defer q.Close()

	for i := range 5 {
		if err := q.Push(Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
	}

	for i := range 5 {
		f, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop(%d) error: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("Pop(%d) Seq = %d, want %d", i, f.Seq, i)
		}
	}
}

func TestFrameQueueOverflowDropOldest(t *testing.T) {
	q := NewFrameQueue(3, DropOldest)
	defer q.Close()

	for i := range 5 {
		if err := q.Push(Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
	}

	if got := q.Drops(); got != 2 {
		t.Errorf("Drops() = %d, want 2", got)
	}

	// The two oldest frames were evicted; 2, 3, 4 survive.
	want := []uint64{2, 3, 4}
	for i, w := range want {
		f, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop(%d) error: %v", i, err)
		}
		if f.Seq != w {
			t.Errorf("Pop(%d) Seq = %d, want %d", i, f.Seq, w)
		}
	}
}

func TestFrameQueueOverflowDropNewest(t *testing.T) {
	q := NewFrameQueue(3, DropNewest)
	defer q.Close()

	for i := range 5 {
		if err := q.Push(Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
	}

	if got := q.Drops(); got != 2 {
		t.Errorf("Drops() = %d, want 2", got)
	}

	// The incoming frames were discarded; 0, 1, 2 survive.
	want := []uint64{0, 1, 2}
	for i, w := range want {
		f, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop(%d) error: %v", i, err)
		}
		if f.Seq != w {
			t.Errorf("Pop(%d) Seq = %d, want %d", i, f.Seq, w)
		}
	}
}

func TestFrameQueuePopTimeout(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	defer q.Close()

	start := time.Now()
	_, err := q.Pop(20 * time.Millisecond)
	if !errors.Is(err, ErrPopTimeout) {
		t.Fatalf("Pop on empty queue error = %v, want ErrPopTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Pop returned after %v, want >= 20ms", elapsed)
	}
}

func TestFrameQueueCloseDrainsBufferedFrames(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)

	if err := q.Push(Frame{Seq: 7}); err != nil {
		t.Fatalf("Push error: %v", err)
	}
	q.Close()
	q.Close() // idempotent

	f, err := q.Pop(time.Second)
	if err != nil {
		t.Fatalf("Pop after Close error: %v", err)
	}
	if f.Seq != 7 {
		t.Errorf("Pop Seq = %d, want 7", f.Seq)
	}

	if _, err := q.Pop(10 * time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on drained closed queue error = %v, want ErrQueueClosed", err)
	}
	if err := q.Push(Frame{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close error = %v, want ErrQueueClosed", err)
	}
}

func TestFrameQueueCloseWakesBlockedPop(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Pop error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}
