package dispatch

import (
	"context"
	"io"
	"sync"

	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

// provider owns handler instances for one table generation. Persistent
// handlers are constructed at most once per generation; the per-entry
// once serializes concurrent first dispatches without holding the map
// lock across construction.
type provider struct {
	mu      sync.Mutex
	entries map[string]*handlerEntry
}

type handlerEntry struct {
	once sync.Once
	inst any
	err  error
}

func newProvider() *provider {
	return &provider{entries: make(map[string]*handlerEntry)}
}

// persistent returns the cached instance for the definition's handler,
// constructing it on first request. Losers of the construction race share
// the winner's instance and error.
func (p *provider) persistent(ctx context.Context, def *Definition, services *Services) (any, error) {
	p.mu.Lock()
	entry, ok := p.entries[def.Handler]
	if !ok {
		entry = &handlerEntry{}
		p.entries[def.Handler] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		entry.inst, entry.err = def.New(ctx, services)
	})
	if entry.err != nil {
		return nil, errors.NewResolutionError(def.Handler, entry.err)
	}
	return entry.inst, nil
}

// transient constructs a fresh instance for a single dispatch. The caller
// owns it and must run dispose on every exit path.
func (p *provider) transient(ctx context.Context, def *Definition, services *Services) (any, error) {
	inst, err := def.New(ctx, services)
	if err != nil {
		return nil, errors.NewResolutionError(def.Handler, err)
	}
	return inst, nil
}

// dispose closes every cached persistent handler that supports disposal.
// Called only when the owning generation is retired.
func (p *provider) dispose() []error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, entry := range p.entries {
		if closer, ok := entry.inst.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.entries = make(map[string]*handlerEntry)
	return errs
}

// dispose releases a transient instance if it supports disposal.
func dispose(inst any) error {
	if closer, ok := inst.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
