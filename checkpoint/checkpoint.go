package checkpoint

import (
	"fmt"
	"time"
)

// Checkpoint is a snapshot of graph state taken after a node completed.
// Next names the node the run continues with; it is empty once the run ended.
type Checkpoint struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	Graph     string    `json:"graph"`
	Node      string    `json:"node"`
	Next      string    `json:"next,omitempty"`
	Step      int       `json:"step"`
	State     any       `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields every checkpoint must carry.
func (c Checkpoint) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if c.ThreadID == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalid)
	}
	if c.Step < 0 {
		return fmt.Errorf("%w: step must be non-negative", ErrInvalid)
	}
	return nil
}

// Store persists checkpoints per thread in insertion order.
type Store interface {
	Put(cp Checkpoint) error
	Latest(threadID string) (Checkpoint, error)
	Get(threadID, id string) (Checkpoint, error)
	List(threadID string) ([]Checkpoint, error)
	Delete(threadID string) error
}
