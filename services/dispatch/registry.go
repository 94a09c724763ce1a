package dispatch

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/ws"
)

// ErrEmptyChannel rejects a subscription without a channel name
var ErrEmptyChannel = errors.New("channel name is required")

// Registry tracks which connections subscribed to which channels. Connections
// unregister themselves through their close hook; a failed delivery closes
// the connection, which in turn unregisters it everywhere.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]ws.Connection
}

// NewRegistry creates an empty subscription registry
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string][]ws.Connection)}
}

// Subscribe adds the connection to the channel's subscriber list
func (r *Registry) Subscribe(channel string, conn ws.Connection) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	r.mu.Lock()
	r.subs[channel] = append(r.subs[channel], conn)
	r.mu.Unlock()

	conn.OnClose(func() {
		r.remove(channel, conn)
	})
	return nil
}

// Subscribers returns the current subscriber count for a channel
func (r *Registry) Subscribers(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}

// Deliver fans a channel event out to every subscriber. A subscriber whose
// write fails is closed; its close hook removes it from the registry. One
// failing subscriber never blocks the rest.
func (r *Registry) Deliver(channel string, data json.RawMessage) {
	r.mu.RLock()
	conns := make([]ws.Connection, len(r.subs[channel]))
	copy(conns, r.subs[channel])
	r.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	event := models.ChannelEvent{Channel: channel, Data: data}
	for _, conn := range conns {
		if err := conn.SendJSON(event); err != nil {
			logger.Warn("dropping channel subscriber after failed delivery", logger.Fields{
				"channel": channel,
				"error":   err.Error(),
			})
			_ = conn.Close()
		}
	}
}

func (r *Registry) remove(channel string, conn ws.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[channel]
	for i, c := range subs {
		if c == conn {
			r.subs[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[channel]) == 0 {
		delete(r.subs, channel)
	}
}
