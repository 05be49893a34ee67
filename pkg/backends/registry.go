package backends

import (
	"fmt"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// Prober lets a backend declare whether its Query path is strictly
// read-only. Backends that cannot make that guarantee are rejected when
// they register: inspection must never mutate the system.
type Prober interface {
	// ReadOnlyInspection reports whether Query performs no writes.
	ReadOnlyInspection() bool
}

// Registry maps resource kinds to backends. It implements
// engine.BackendResolver and is immutable after configuration.
type Registry struct {
	byKind map[engine.Kind]engine.Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[engine.Kind]engine.Backend)}
}

// Register adds a backend for every kind it handles. Registration fails
// on a kind conflict and on backends that do not declare read-only
// inspection; not implementing Prober counts as not declaring it.
func (r *Registry) Register(b engine.Backend) error {
	if p, ok := b.(Prober); !ok || !p.ReadOnlyInspection() {
		return fmt.Errorf("backend %q rejected: inspection is not declared read-only", b.Name())
	}
	for _, kind := range b.Kinds() {
		if existing, taken := r.byKind[kind]; taken {
			return fmt.Errorf("kind %q already handled by backend %q", kind, existing.Name())
		}
		r.byKind[kind] = b
	}
	return nil
}

// BackendFor implements engine.BackendResolver.
func (r *Registry) BackendFor(kind engine.Kind) (engine.Backend, error) {
	b, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no backend registered for kind %q", kind)
	}
	return b, nil
}

// DefaultRegistry wires every local backend over the given runner.
func DefaultRegistry(runner Runner) (*Registry, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	r := NewRegistry()
	all := []engine.Backend{
		NewApkBackend(runner),
		NewRepositoryBackend(runner, ""),
		NewOpenRCBackend(runner),
		NewFileBackend(),
		NewUfwBackend(runner),
	}
	for _, b := range all {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}
