package session

import (
	"testing"
	"time"
)

func TestQueue_OrderAndClose(t *testing.T) {
	t.Parallel()

	q := newQueue[int]()
	if got := q.take(); len(got) != 0 {
		t.Errorf("take on empty queue = %v", got)
	}
	for i := range 3 {
		q.push(i)
	}
	got, ok := q.next()
	if !ok || len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("next = %v, %v", got, ok)
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()
	q.close()
	select {
	case ok := <-done:
		if ok {
			t.Error("next reported ok after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not wake a blocked next")
	}

	q.push(7)
	if got := q.take(); len(got) != 0 {
		t.Errorf("push after close was kept: %v", got)
	}
}
