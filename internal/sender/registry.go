// Package sender delivers notifications to external channels: HTTPS
// webhooks, Telegram chats and the local desktop.
package sender

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blackwell-systems/hooknotify/internal/dispatch"
	"github.com/blackwell-systems/hooknotify/internal/queue"
)

// Registry routes a notification to the sender registered for its backend.
// It is itself a dispatch.Sender.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]dispatch.Sender
	fallback string
}

// NewRegistry creates an empty registry. Notifications whose backend is
// queue.DefaultBackend are routed to fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{backends: make(map[string]dispatch.Sender), fallback: fallback}
}

// Register adds or replaces the sender for a backend name.
func (r *Registry) Register(name string, s dispatch.Sender) {
	r.mu.Lock()
	r.backends[name] = s
	r.mu.Unlock()
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers n through its backend. An unknown backend is a delivery
// error, so the queue retries and eventually dead-letters it.
func (r *Registry) Send(ctx context.Context, n *queue.Notification) error {
	name := n.Backend
	if name == "" || name == queue.DefaultBackend {
		name = r.fallback
	}

	r.mu.RLock()
	s, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown backend %q", n.Backend)
	}
	return s.Send(ctx, n)
}
