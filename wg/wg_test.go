package wg

import (
	"context"
	"testing"
	"time"
)

const N = 16

func testInterlocked(t *testing.T, w1, w2 *WaitGroup) {
	w1.Add(N)
	w2.Add(N)
	done := make(chan bool)
	for i := 0; i < N; i++ {
		go func(i int) {
			w1.Done()
			<-w2.C()
			done <- true
		}(i)
	}
	<-w1.C()
	for i := 0; i < N; i++ {
		select {
		case <-done:
			t.Fatal("WaitGroup released too soon")
		default:
		}
		w2.Done()
	}
	for i := 0; i < N; i++ {
		<-done
	}
}

func TestWaitGroup(t *testing.T) {
	var w1, w2 WaitGroup
	testInterlocked(t, &w1, &w2)
}

func TestWaitContextDone(t *testing.T) {
	var w WaitGroup
	w.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestWaitReleased(t *testing.T) {
	var w WaitGroup
	w.Add(1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		w.Done()
	}()
	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
