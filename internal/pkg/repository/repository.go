package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/instacab/dispatch/internal/pkg/logger"
)

// ErrNotFound is returned when an entity id is not cached
var ErrNotFound = errors.New("entity not found")

// ErrStorage wraps persistence failures so callers can map them onto the
// wire error code
var ErrStorage = errors.New("storage failure")

// Entity is anything held by a cache
type Entity interface {
	// GetID returns the cache key
	GetID() string
	// Snapshot returns the wire representation published to channel
	// subscribers
	Snapshot() interface{}
}

// Store is the persistent storage collaborator behind a cache
type Store[T Entity] interface {
	Load(ctx context.Context) ([]T, error)
	Save(ctx context.Context, entity T) error
}

// Publisher pushes entity snapshots to a channel topic
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Cache is an in-memory write-through cache of entities keyed by id, the
// single in-process source of truth. Hydrated at startup, kept consistent
// by an explicit Save after every mutation. Saves also publish the entity
// snapshot to the cache's channel.
type Cache[T Entity] struct {
	mu      sync.RWMutex
	items   map[string]T
	store   Store[T]
	bus     Publisher
	channel string
}

// NewCache creates a cache over a store. The bus may be nil; snapshots are
// then not published.
func NewCache[T Entity](store Store[T], bus Publisher, channel string) *Cache[T] {
	return &Cache[T]{
		items:   make(map[string]T),
		store:   store,
		bus:     bus,
		channel: channel,
	}
}

// Hydrate loads all entities from the store into the cache
func (c *Cache[T]) Hydrate(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	entities, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to hydrate cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.items[e.GetID()] = e
	}
	return nil
}

// Get returns the entity with the given id, or ErrNotFound
func (c *Cache[T]) Get(id string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Has reports whether the id is cached
func (c *Cache[T]) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[id]
	return ok
}

// All returns a point-in-time slice of every cached entity
func (c *Cache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.items))
	for _, e := range c.items {
		out = append(out, e)
	}
	return out
}

// Each invokes fn for every cached entity
func (c *Cache[T]) Each(fn func(T)) {
	for _, e := range c.All() {
		fn(e)
	}
}

// Filter returns entities matching the predicate. The read is a snapshot,
// not isolated from concurrent mutation.
func (c *Cache[T]) Filter(pred func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []T
	for _, e := range c.items {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Put inserts an entity into the cache without persisting it. Used when the
// backend collaborator materializes an entity at login.
func (c *Cache[T]) Put(e T) {
	c.mu.Lock()
	c.items[e.GetID()] = e
	c.mu.Unlock()
}

// Save persists the entity, caches it and publishes its snapshot. The
// in-memory state may be ahead of storage when persistence fails; the error
// is returned for the caller to decide.
func (c *Cache[T]) Save(ctx context.Context, e T) error {
	c.Put(e)
	c.publish(ctx, e)

	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, e); err != nil {
		return fmt.Errorf("%w: failed to persist entity %s: %w", ErrStorage, e.GetID(), err)
	}
	return nil
}

// PublishAll publishes a snapshot of every cached entity
func (c *Cache[T]) PublishAll(ctx context.Context) {
	for _, e := range c.All() {
		c.publish(ctx, e)
	}
}

func (c *Cache[T]) publish(ctx context.Context, e T) {
	if c.bus == nil || c.channel == "" {
		return
	}
	if err := c.bus.Publish(ctx, c.channel, e.Snapshot()); err != nil {
		logger.Warn("failed to publish entity snapshot", logger.Fields{
			"channel": c.channel,
			"id":      e.GetID(),
			"error":   err.Error(),
		})
	}
}
