package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepmesh/core"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_AppendAssistantDedup(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.AppendUser("t1", []core.Content{core.UserText("hi")}))
	ok, err := s.AppendAssistant("t1", core.AssistantText("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	multi := core.Content{Role: core.RoleAssistant, Parts: []core.Part{
		core.TextPart{Text: "hel"}, core.TextPart{Text: "lo"},
	}}
	ok, err = s.AppendAssistant("t1", multi)
	require.NoError(t, err)
	assert.False(t, ok, "identical normalized content must be suppressed")

	history, err := s.History("t1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestInMemoryStore_AppendAssistantSkipsEmpty(t *testing.T) {
	s := NewInMemoryStore()
	ok, err := s.AppendAssistant("t1", core.AssistantText("   "))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = s.AppendAssistant("t1", core.Content{Role: core.RoleAssistant})
	assert.False(t, ok)

	history, _ := s.History("t1")
	assert.Empty(t, history)
}

func TestInMemoryStore_RepeatAfterUserTurnIsAppended(t *testing.T) {
	s := NewInMemoryStore()
	_, _ = s.AppendAssistant("t1", core.AssistantText("same"))
	_ = s.AppendUser("t1", []core.Content{core.UserText("again")})
	ok, _ := s.AppendAssistant("t1", core.AssistantText("same"))
	assert.True(t, ok)
}

func TestInMemoryStore_AppendUserKeepsDuplicatesAndSkipsEmpty(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.AppendUser("t1", []core.Content{
		core.UserText("A"), core.UserText(""), core.UserText("A"),
	}))
	history, _ := s.History("t1")
	require.Len(t, history, 2)
	assert.Equal(t, "A", history[0].Text())
	assert.Equal(t, "A", history[1].Text())
}

func TestInMemoryStore_AssembleAcrossTurns(t *testing.T) {
	s := NewInMemoryStore()

	conv, err := s.Assemble("t1", []core.Content{core.UserText("A")})
	require.NoError(t, err)
	require.Len(t, conv, 1)
	_, _ = s.AppendAssistant("t1", core.AssistantText("answer A"))

	conv, err = s.Assemble("t1", []core.Content{core.UserText("B")})
	require.NoError(t, err)

	var got []string
	for _, c := range conv {
		got = append(got, c.Role+":"+c.Text())
	}
	assert.Equal(t, []string{"user:A", "assistant:answer A", "user:B"}, got)
}

func TestInMemoryStore_AssembleSeedsFromIncoming(t *testing.T) {
	s := NewInMemoryStore()
	img := core.Content{Role: core.RoleUser, Parts: []core.Part{core.ImagePart{Data: "eA==", MimeType: "image/png"}}}

	conv, err := s.Assemble("t1", []core.Content{img})
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Len(t, conv[0].Images(), 1)

	history, _ := s.History("t1")
	assert.Empty(t, history)
}

func TestInMemoryStore_ThreadsAreIsolated(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			_ = s.AppendUser(id, []core.Content{core.UserText(id)})
			_, _ = s.AppendAssistant(id, core.AssistantText("r"+id))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		history, _ := s.History(fmt.Sprintf("t%d", i))
		require.Len(t, history, 2)
		assert.Equal(t, fmt.Sprintf("t%d", i), history[0].Text())
	}
}

func TestInMemoryStore_EvictionPolicy(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Policy = Policy{MaxThreads: 1} })
	_ = s.AppendUser("a", []core.Content{core.UserText("x")})
	_ = s.AppendUser("b", []core.Content{core.UserText("y")})

	history, _ := s.History("a")
	assert.Empty(t, history)
	history, _ = s.History("b")
	assert.Len(t, history, 1)
}

func TestInMemoryStore_HistoryIsCopy(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.AppendUser("t1", []core.Content{core.UserText("x")})
	history, _ := s.History("t1")
	history[0].Parts[0] = core.TextPart{Text: "mutated"}

	again, _ := s.History("t1")
	assert.Equal(t, "x", again[0].Text())
}
