package session

import "github.com/hupe1980/stepmesh/core"

// Store is a per-thread ordered message log.
type Store interface {
	// AppendUser appends every user message with non-empty text, in order.
	AppendUser(threadID string, messages []core.Content) error
	// AppendAssistant appends msg unless its normalized text is empty or equals
	// the last stored assistant message. It reports whether it appended.
	AppendAssistant(threadID string, msg core.Content) (bool, error)
	// Assemble records incoming user messages and returns the linear
	// conversation (user and assistant turns) for model invocation.
	Assemble(threadID string, incoming []core.Content) ([]core.Content, error)
	// History returns a copy of the stored history.
	History(threadID string) ([]core.Content, error)
}
