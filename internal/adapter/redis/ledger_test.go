package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/billcycle/internal/adapter/redis"
)

func newTestLedger(t *testing.T, ttl time.Duration) (*redis.Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redis.NewWithClient(client, "test:", ttl), mr
}

func TestMarkFired_FirstCallWins(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newTestLedger(t, time.Hour)

	first, err := ledger.MarkFired(ctx, "wf-1", "evt-1")
	if err != nil {
		t.Fatalf("MarkFired failed: %v", err)
	}
	if !first {
		t.Error("first MarkFired = false, want true")
	}

	again, err := ledger.MarkFired(ctx, "wf-1", "evt-1")
	if err != nil {
		t.Fatalf("second MarkFired failed: %v", err)
	}
	if again {
		t.Error("second MarkFired = true, want false")
	}

	if !mr.Exists("test:wf-1:evt-1") {
		t.Errorf("expected key %q, got keys: %v", "test:wf-1:evt-1", mr.Keys())
	}
	if ttl := mr.TTL("test:wf-1:evt-1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want %v", ttl, time.Hour)
	}
}

func TestMarkFired_PairsAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, 0)

	for _, pair := range [][2]string{{"wf-1", "evt-1"}, {"wf-2", "evt-1"}, {"wf-1", "evt-2"}} {
		ok, err := ledger.MarkFired(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("MarkFired(%v) failed: %v", pair, err)
		}
		if !ok {
			t.Errorf("MarkFired(%v) = false, want true", pair)
		}
	}
}

func TestMarkFired_ExpiredPairFiresAgain(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newTestLedger(t, time.Minute)

	if _, err := ledger.MarkFired(ctx, "wf-1", "evt-1"); err != nil {
		t.Fatalf("MarkFired failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	ok, err := ledger.MarkFired(ctx, "wf-1", "evt-1")
	if err != nil {
		t.Fatalf("MarkFired failed: %v", err)
	}
	if !ok {
		t.Error("MarkFired after expiry = false, want true")
	}
}

func TestMarkFired_ConcurrentCallersFireOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, time.Hour)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.MarkFired(ctx, "wf-1", "evt-1")
			if err != nil {
				t.Errorf("MarkFired failed: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
}

func TestNew_UnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := redis.New(context.Background(), redis.Config{Addr: addr}); err == nil {
		t.Fatal("expected error connecting to a stopped server")
	}
}
