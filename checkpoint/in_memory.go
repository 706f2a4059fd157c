package checkpoint

import (
	clone "github.com/huandu/go-clone"

	"github.com/hupe1980/stepmesh/internal/threadmap"
)

// Options configures an InMemoryStore.
type Options struct {
	// Policy bounds the number of threads retained.
	Policy threadmap.Policy
	// MaxPerThread keeps only the most recent checkpoints of a thread. Zero
	// keeps all of them.
	MaxPerThread int
}

// InMemoryStore is an in-process Store implementation. State values are deep
// copied on Put and on every read so callers can never mutate a stored
// snapshot.
//
// Layout: threadID -> ordered checkpoints (oldest first)
type InMemoryStore struct {
	opts    Options
	threads *threadmap.Map[[]Checkpoint]
}

// NewInMemoryStore returns an empty in-memory checkpoint store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{opts: opts, threads: threadmap.New[[]Checkpoint](opts.Policy)}
}

// Put appends a deep copy of cp to its thread.
func (s *InMemoryStore) Put(cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	stored := snapshot(cp)
	s.threads.Update(cp.ThreadID, func(list []Checkpoint, _ bool) []Checkpoint {
		list = append(list, stored)
		if max := s.opts.MaxPerThread; max > 0 && len(list) > max {
			list = append([]Checkpoint(nil), list[len(list)-max:]...)
		}
		return list
	})
	return nil
}

// Latest returns the most recent checkpoint of the thread or ErrNotFound.
func (s *InMemoryStore) Latest(threadID string) (Checkpoint, error) {
	list, ok := s.threads.Get(threadID)
	if !ok || len(list) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return snapshot(list[len(list)-1]), nil
}

// Get returns the checkpoint with the given id or ErrNotFound.
func (s *InMemoryStore) Get(threadID, id string) (Checkpoint, error) {
	list, ok := s.threads.Get(threadID)
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID == id {
			return snapshot(list[i]), nil
		}
	}
	return Checkpoint{}, ErrNotFound
}

// List returns copies of every checkpoint of the thread, oldest first.
func (s *InMemoryStore) List(threadID string) ([]Checkpoint, error) {
	list, ok := s.threads.Get(threadID)
	if !ok {
		return []Checkpoint{}, nil
	}
	out := make([]Checkpoint, len(list))
	for i, cp := range list {
		out[i] = snapshot(cp)
	}
	return out, nil
}

// Delete removes every checkpoint of the thread or returns ErrNotFound.
func (s *InMemoryStore) Delete(threadID string) error {
	if _, ok := s.threads.Get(threadID); !ok {
		return ErrNotFound
	}
	s.threads.Delete(threadID)
	return nil
}

func snapshot(cp Checkpoint) Checkpoint {
	if cp.State != nil {
		cp.State = clone.Clone(cp.State)
	}
	return cp
}
