package login

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultRegistryTTL = 30 * time.Minute

// Registry hands out one Controller per browser session. Idle controllers expire
// after the configured TTL.
type Registry struct {
	mu      sync.Mutex
	items   *cache.Cache
	ttl     time.Duration
	factory func() *Controller
}

// NewRegistry constructs a Registry that builds controllers with factory.
func NewRegistry(ttl time.Duration, factory func() *Controller) *Registry {
	if factory == nil {
		panic("login: controller factory is required")
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	return &Registry{
		items:   cache.New(ttl, ttl*2),
		ttl:     ttl,
		factory: factory,
	}
}

// For returns the controller bound to sessionID, creating it when absent.
// Every lookup extends the controller's lifetime.
func (r *Registry) For(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.items.Get(sessionID); ok {
		ctrl := v.(*Controller)
		r.items.Set(sessionID, ctrl, r.ttl)
		return ctrl
	}
	ctrl := r.factory()
	r.items.Set(sessionID, ctrl, r.ttl)
	return ctrl
}

// Peek returns the controller bound to sessionID without creating one or
// extending its lifetime.
func (r *Registry) Peek(sessionID string) (*Controller, bool) {
	v, ok := r.items.Get(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Controller), true
}

// Forget drops the controller bound to sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items.Delete(sessionID)
}

// Len reports the number of live controllers.
func (r *Registry) Len() int {
	return r.items.ItemCount()
}
