package fabric_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kp1181/scool/fabric"
)

func TestLocalSendRecv(t *testing.T) {
	peers := fabric.NewLocalFabric(3)
	ctx := context.Background()

	if err := peers[0].Send(ctx, fabric.Main, 2, fabric.ReqTag, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	from, b, err := peers[2].Recv(ctx, fabric.Main, fabric.ReqTag)
	if err != nil {
		t.Fatal(err)
	}
	if from != 0 {
		t.Errorf("got from %d, want 0", from)
	}
	if string(b) != "hello" {
		t.Errorf("got %q, want %q", b, "hello")
	}
}

func TestLocalChannelsAreIndependent(t *testing.T) {
	peers := fabric.NewLocalFabric(2)
	ctx := context.Background()

	if err := peers[0].Send(ctx, fabric.Background, 1, fabric.AnsTag, []byte("bg")); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, b, err := peers[1].Recv(ctx, fabric.Background, fabric.AnsTag)
		if err != nil {
			t.Error(err)
			return
		}
		if string(b) != "bg" {
			t.Errorf("got %q, want %q", b, "bg")
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for background-channel message")
	}
}

func TestLocalRecvCanceledByContext(t *testing.T) {
	peers := fabric.NewLocalFabric(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := peers[1].Recv(ctx, fabric.Main, fabric.ReqTag); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestLocalBarrierReleasesAllPeers(t *testing.T) {
	const n = 4
	peers := fabric.NewLocalFabric(n)
	ctx := context.Background()

	var wg sync.WaitGroup
	var arrived int
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p *fabric.Local) {
			defer wg.Done()
			if err := p.Barrier(ctx); err != nil {
				t.Error(err)
			}
			mu.Lock()
			arrived++
			mu.Unlock()
		}(peers[i])
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release all peers")
	}
	if arrived != n {
		t.Fatalf("got %d arrivals, want %d", arrived, n)
	}
}

func TestLocalBarrierIsReusable(t *testing.T) {
	const n = 3
	peers := fabric.NewLocalFabric(n)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(p *fabric.Local) {
				defer wg.Done()
				if err := p.Barrier(ctx); err != nil {
					t.Error(err)
				}
			}(peers[i])
		}
		wg.Wait()
	}
}
