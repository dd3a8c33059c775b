package dispatch

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

// Source enumerates declared command definitions for the Loader.
type Source interface {
	Declarations() ([]*Definition, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() ([]*Definition, error)

func (f SourceFunc) Declarations() ([]*Definition, error) { return f() }

// Table is one complete generation of the command table: definitions in
// dispatch order plus the persistent handler instances that generation
// owns. A table is immutable once built; reload builds a new one.
type Table struct {
	generation uint64
	defs       []*Definition
	provider   *provider
	inflight   sync.WaitGroup
	logger     *zap.Logger
}

func (t *Table) Generation() uint64 { return t.generation }

// Definitions returns the dispatch-ordered definitions. The slice is a
// copy; the definitions themselves are shared and must not be mutated.
func (t *Table) Definitions() []*Definition {
	out := make([]*Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

func (t *Table) acquire() { t.inflight.Add(1) }
func (t *Table) release() { t.inflight.Done() }

// retire releases the generation's resources once every dispatch that
// snapshotted it has finished.
func (t *Table) retire() {
	go func() {
		t.inflight.Wait()
		for _, err := range t.provider.dispose() {
			t.logger.Warn("Handler disposal failed",
				zap.Uint64("generation", t.generation),
				zap.Error(err),
			)
		}
		t.logger.Info("Command table retired", zap.Uint64("generation", t.generation))
	}()
}

// Loader builds Table generations from declaration sources. Declaration
// order is significant: definitions keep the order sources were added and
// the order each source returns them, and that order breaks priority
// ties.
type Loader struct {
	mu      sync.Mutex
	sources []Source
	allow   map[string]bool
	logger  *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

func (l *Loader) Add(source Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, source)
}

// Allow restricts loading to definitions whose handler name is listed.
// Calling it with no names removes the restriction.
func (l *Loader) Allow(handlers ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(handlers) == 0 {
		l.allow = nil
		return
	}
	l.allow = make(map[string]bool, len(handlers))
	for _, h := range handlers {
		l.allow[h] = true
	}
}

// build assembles a complete new generation off to the side. Any failure
// aborts the whole build; nothing the caller currently runs is touched.
func (l *Loader) build(ctx context.Context, generation uint64, services *Services) (*Table, error) {
	l.mu.Lock()
	sources := make([]Source, len(l.sources))
	copy(sources, l.sources)
	allow := l.allow
	l.mu.Unlock()

	var defs []*Definition
	seen := make(map[string]bool)
	for _, source := range sources {
		declared, err := source.Declarations()
		if err != nil {
			return nil, errors.NewLoadError("declaration source failed", err)
		}
		for _, def := range declared {
			if def == nil {
				continue
			}
			if allow != nil && !allow[def.Handler] {
				continue
			}
			if err := def.validate(); err != nil {
				return nil, errors.NewLoadError("invalid definition", err)
			}
			if key := def.dupKey(); seen[key] {
				l.logger.Debug("Dropping duplicate definition", zap.String("command", def.Name()))
				continue
			} else {
				seen[key] = true
			}
			def.order = len(defs)
			defs = append(defs, def)
		}
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority > defs[j].Priority
		}
		return defs[i].order < defs[j].order
	})

	table := &Table{
		generation: generation,
		defs:       defs,
		provider:   newProvider(),
		logger:     l.logger,
	}

	for _, def := range defs {
		if !def.Eager || def.Lifetime != Persistent {
			continue
		}
		if _, err := table.provider.persistent(ctx, def, services); err != nil {
			table.provider.dispose()
			return nil, errors.NewLoadError("eager initialization failed", err)
		}
	}

	l.logger.Info("Command table built",
		zap.Uint64("generation", generation),
		zap.Int("definitions", len(defs)),
	)
	return table, nil
}
