package cacher

import (
	"context"
	"time"
)

// nopCacher always calls the fetch function and stores nothing.
type nopCacher[T any] struct{}

// NewNopCacher returns a Cacher that never caches.
func NewNopCacher[T any]() Cacher[T] {
	return nopCacher[T]{}
}

func (nopCacher[T]) GetOrFetch(ctx context.Context, _ string, _ time.Duration, fetchFn FetchFunc[T]) (T, error) {
	return fetchFn(ctx)
}

func (nopCacher[T]) Delete(context.Context, string) error { return nil }

func (nopCacher[T]) DeleteByPrefix(context.Context, string) (int, error) { return 0, nil }

func (nopCacher[T]) Clear(context.Context) error { return nil }

func (nopCacher[T]) ItemCount(context.Context) (int, error) { return 0, nil }
