package core

import (
	"context"
	"sync"
)

type Module interface {
	Name() string

	Setup(ctx context.Context, sender Sender) error

	Routes() map[EventType]HandlerFunc
}

// Registry holds the modules wired into an agent, in registration order.
type Registry struct {
	mu      sync.Mutex
	modules []Module
}

func NewRegistry(modules ...Module) *Registry {
	r := &Registry{}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, m)
}

func (r *Registry) Modules() []Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Module(nil), r.modules...)
}
