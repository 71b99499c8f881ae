package saga

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "", time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	log := &Log{
		ID:    "saga_1",
		Name:  "order-modification:update-quantity",
		State: StateRunning,
		Steps: []string{"adjust-authorization", "commit-order"},
	}
	if err := store.Save(ctx, log); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "saga_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != log.Name || got.State != StateRunning || len(got.Steps) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	log.State = StateCompleted
	if err := store.Update(ctx, log); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = store.Get(ctx, "saga_1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", got.State)
	}
}

func TestRedisStoreMissingLog(t *testing.T) {
	store, _ := newTestRedisStore(t)

	if _, err := store.Get(context.Background(), "nope"); err != ErrLogNotFound {
		t.Fatalf("err = %v, want ErrLogNotFound", err)
	}
}

func TestRedisStoreLogsExpire(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, &Log{ID: "saga_1", State: StatePending}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	if _, err := store.Get(ctx, "saga_1"); err != ErrLogNotFound {
		t.Fatalf("expired log should be gone, err = %v", err)
	}
}
