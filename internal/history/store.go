package history

import (
	"slices"
	"sync"

	"github.com/nugget/wfm-assistant/internal/llm"
)

// DefaultConversation is used when a caller supplies no conversation ID.
const DefaultConversation = "default"

// Store holds one History per conversation ID. When more than
// maxConversations exist, the least recently used one is evicted.
type Store struct {
	mu               sync.Mutex
	cap              int
	maxConversations int
	entries          map[string]*entry
	clock            uint64
}

type entry struct {
	history  *History
	lastUsed uint64
}

// NewStore creates a store whose histories hold cap messages each.
// maxConversations <= 0 means unbounded.
func NewStore(cap, maxConversations int) *Store {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Store{
		cap:              cap,
		maxConversations: maxConversations,
		entries:          make(map[string]*entry),
	}
}

func normalize(id string) string {
	if id == "" {
		return DefaultConversation
	}
	return id
}

// Get returns the History for id, creating it if needed.
func (s *Store) Get(id string) *History {
	id = normalize(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock++
	if e, ok := s.entries[id]; ok {
		e.lastUsed = s.clock
		return e.history
	}

	e := &entry{history: New(s.cap), lastUsed: s.clock}
	s.entries[id] = e
	s.evict(id)
	return e.history
}

// evict drops least recently used conversations other than keep until
// the store is within bounds. Must be called with mu held.
func (s *Store) evict(keep string) {
	for s.maxConversations > 0 && len(s.entries) > s.maxConversations {
		var oldestID string
		var oldest uint64
		for id, e := range s.entries {
			if id == keep {
				continue
			}
			if oldestID == "" || e.lastUsed < oldest {
				oldestID, oldest = id, e.lastUsed
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.entries, oldestID)
	}
}

// Snapshot returns a copy of the conversation's messages. Unknown IDs
// yield an empty slice without creating a conversation.
func (s *Store) Snapshot(id string) []llm.Message {
	id = normalize(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return []llm.Message{}
	}
	return e.history.Snapshot()
}

// AppendExchange commits a user message and its answer together.
func (s *Store) AppendExchange(id string, user, assistant llm.Message) {
	s.Get(id).Append(user, assistant)
}

// Clear empties a conversation and forgets it.
func (s *Store) Clear(id string) {
	id = normalize(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		e.history.Clear()
	}
}

// IDs returns the known conversation IDs, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
