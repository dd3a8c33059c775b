package dispatch

import (
	"reflect"
	"sync"
)

// Services is a lookup-by-type registry used for injected parameters and
// handler construction. The container registers the built-in values (the
// live reply client, the active config, the logger); anything else may be
// added or overridden at any time.
type Services struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

func NewServices() *Services {
	return &Services{values: make(map[reflect.Type]any)}
}

// Register stores value keyed by its dynamic type, replacing any previous
// entry for that type.
func (s *Services) Register(value any) {
	if value == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[reflect.TypeOf(value)] = value
}

// RegisterType stores value keyed by T. Use it when T is an interface, or
// to override under a specific type.
func RegisterType[T any](s *Services, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[typeOf[T]()] = value
}

// Lookup resolves a value by reflect type.
func (s *Services) Lookup(t reflect.Type) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[t]
	return v, ok
}

// Resolve resolves a value by its Go type.
func Resolve[T any](s *Services) (T, bool) {
	var zero T
	v, ok := s.Lookup(typeOf[T]())
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
