package session

import (
	"strings"

	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/internal/threadmap"
)

// Policy bounds how many thread histories are retained. The zero value keeps
// every thread for the life of the process.
type Policy = threadmap.Policy

// Options configures an InMemoryStore.
type Options struct {
	Policy Policy
}

// InMemoryStore is a volatile Store implementation keeping histories in a
// process local map. It is safe for concurrent access. Histories are cloned on
// read and write to prevent external mutation of internal state.
type InMemoryStore struct {
	threads *threadmap.Map[[]core.Content]
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{threads: threadmap.New[[]core.Content](opts.Policy)}
}

// Normalize returns the string form used for dedup and emptiness checks:
// the text parts joined without separator, trimmed.
func Normalize(c core.Content) string {
	return strings.TrimSpace(c.Text())
}

// AppendUser adds the user messages to the thread history.
func (s *InMemoryStore) AppendUser(threadID string, messages []core.Content) error {
	s.threads.Update(threadID, func(history []core.Content, _ bool) []core.Content {
		return appendUserLocked(history, messages)
	})
	return nil
}

// AppendAssistant adds an assistant message unless it is empty or a repeat of
// the last stored assistant message.
func (s *InMemoryStore) AppendAssistant(threadID string, msg core.Content) (bool, error) {
	text := Normalize(msg)
	if text == "" {
		return false, nil
	}
	appended := false
	s.threads.Update(threadID, func(history []core.Content, _ bool) []core.Content {
		if n := len(history); n > 0 {
			last := history[n-1]
			if last.Role == core.RoleAssistant && Normalize(last) == text {
				return history
			}
		}
		appended = true
		return append(history, core.AssistantText(text))
	})
	return appended, nil
}

// Assemble merges the thread history with the incoming user messages.
func (s *InMemoryStore) Assemble(threadID string, incoming []core.Content) ([]core.Content, error) {
	history := s.threads.Update(threadID, func(history []core.Content, _ bool) []core.Content {
		return appendUserLocked(history, incoming)
	})

	conversation := make([]core.Content, 0, len(history))
	for _, msg := range history {
		if msg.Role != core.RoleUser && msg.Role != core.RoleAssistant {
			continue
		}
		if Normalize(msg) == "" && len(msg.Images()) == 0 {
			continue
		}
		conversation = append(conversation, msg.Clone())
	}
	if len(conversation) == 0 {
		return core.CloneContents(incoming), nil
	}
	return conversation, nil
}

// History returns a copy of the stored thread history.
func (s *InMemoryStore) History(threadID string) ([]core.Content, error) {
	history, ok := s.threads.Get(threadID)
	if !ok {
		return []core.Content{}, nil
	}
	return core.CloneContents(history), nil
}

func appendUserLocked(history []core.Content, messages []core.Content) []core.Content {
	for _, msg := range messages {
		if msg.Role != "" && msg.Role != core.RoleUser {
			continue
		}
		if Normalize(msg) == "" {
			continue
		}
		c := msg.Clone()
		c.Role = core.RoleUser
		history = append(history, c)
	}
	return history
}
