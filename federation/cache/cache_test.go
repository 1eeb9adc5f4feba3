package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCache_SecondCallerJoinsFirst(t *testing.T) {
	c := New(0, nil)
	ctx := context.Background()

	first := c.Get(ctx, "User:1")
	if !first.IsFirst() {
		t.Fatalf("expected the first caller to be IsFirst")
	}
	second := c.Get(ctx, "User:1")
	if second.IsFirst() {
		t.Fatalf("expected the second caller to join, not be first")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var gotValue interface{}
	go func() {
		defer wg.Done()
		gotValue, _ = second.Get(ctx)
	}()

	first.Insert("alice")
	wg.Wait()

	if gotValue != "alice" {
		t.Fatalf("expected joined caller to observe inserted value, got %v", gotValue)
	}
	if c.Len() != 1 {
		t.Fatalf("expected the value to be promoted into the LRU, Len() = %d", c.Len())
	}
}

func TestCache_HitReturnsWithoutRecompute(t *testing.T) {
	c := New(0, nil)
	ctx := context.Background()

	first := c.Get(ctx, "k")
	first.Insert("v")

	hit := c.Get(ctx, "k")
	if hit.IsFirst() {
		t.Fatalf("expected a cache hit to never be IsFirst")
	}
	value, err := hit.Get(ctx)
	if err != nil || value != "v" {
		t.Fatalf("Get() = %v, %v; want v, nil", value, err)
	}
}

func TestCache_SendErrorIsNotCached(t *testing.T) {
	c := New(0, nil)
	ctx := context.Background()

	first := c.Get(ctx, "k")
	first.Send(nil, errors.New("upstream failed"))

	_, err := first.Get(ctx)
	var uncached *UncachedError
	if !errors.As(err, &uncached) {
		t.Fatalf("expected UncachedError, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected failed computation not to be promoted into the LRU")
	}

	// A fresh Get for the same key must be first again — nothing cached.
	retry := c.Get(ctx, "k")
	if !retry.IsFirst() {
		t.Fatalf("expected a retry after an uncached error to be first again")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, nil)
	ctx := context.Background()

	c.Get(ctx, "a").Insert(1)
	c.Get(ctx, "b").Insert(2)
	c.Get(ctx, "c").Insert(3) // evicts "a"

	if c.Len() != 2 {
		t.Fatalf("expected capacity to cap Len() at 2, got %d", c.Len())
	}
	if entry := c.Get(ctx, "a"); !entry.IsFirst() {
		t.Fatalf("expected \"a\" to have been evicted")
	}
}

func TestCache_GetRespectsContextCancellation(t *testing.T) {
	c := New(0, nil)
	first := c.Get(context.Background(), "k") // never resolved

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	waiter := c.Get(context.Background(), "k")
	_, err := waiter.Get(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error, got nil")
	}
	_ = first
}
