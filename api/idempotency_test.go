package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestRedisDeduperAddRemove(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "user", "req-1")
	if err != nil || !added {
		t.Fatalf("first add = %v, %v", added, err)
	}
	added, err = deduper.Add(ctx, "user", "req-1")
	if err != nil || added {
		t.Fatalf("second add = %v, %v", added, err)
	}
	if err := deduper.Remove(ctx, "user", "req-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = deduper.Add(ctx, "user", "req-1")
	if err != nil || !added {
		t.Fatalf("add after remove = %v, %v", added, err)
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	m, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "alice", "req-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	added, err := deduper.Add(ctx, "bob", "req-1")
	if err != nil || !added {
		t.Fatalf("same request id for another user should be new, got %v, %v", added, err)
	}
	if !m.Exists("mutation:alice:req-1") {
		t.Fatalf("expected namespaced key, have %v", m.Keys())
	}
	if ttl := m.TTL("mutation:alice:req-1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}
