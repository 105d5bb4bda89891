package memory

import (
	"errors"
	"strings"
	"sync"
)

// Registry hands out one Store per project, opened lazily from shared base
// options. It is the explicit replacement for a process-wide memory bank:
// callers that need isolation simply use separate registries.
type Registry struct {
	base Options

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry returns a registry whose stores inherit base. base.Project is
// ignored.
func NewRegistry(base Options) *Registry {
	return &Registry{base: base, stores: make(map[string]*Store)}
}

// Open returns the store for project, opening it on first use.
func (r *Registry) Open(project string) (*Store, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, &ValidationError{Field: "project", Reason: "must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[project]; ok {
		return s, nil
	}
	opts := r.base
	opts.Project = project
	s, err := Open(opts)
	if err != nil {
		return nil, err
	}
	r.stores[project] = s
	return s, nil
}

// Projects lists the projects opened so far.
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for p := range r.stores {
		out = append(out, p)
	}
	return out
}

// Close closes every open store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for p, s := range r.stores {
		errs = append(errs, s.Close())
		delete(r.stores, p)
	}
	return errors.Join(errs...)
}
