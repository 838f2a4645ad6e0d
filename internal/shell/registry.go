package shell

import (
	"sync"

	"github.com/victornm/eplay/internal/errors"
)

// Registry holds the open attempts by attempt id.
type Registry struct {
	mu     sync.RWMutex
	shells map[string]*Shell
}

func NewRegistry() *Registry {
	return &Registry{shells: make(map[string]*Shell)}
}

func (r *Registry) Add(s *Shell) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shells[s.AttemptID()] = s
}

func (r *Registry) Get(attemptID string) (*Shell, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.shells[attemptID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("shell: attempt not found: %s", attemptID))
	}
	return s, nil
}

// Remove closes the attempt and drops it from the registry.
func (r *Registry) Remove(attemptID string) {
	r.mu.Lock()
	s, ok := r.shells[attemptID]
	delete(r.shells, attemptID)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}
