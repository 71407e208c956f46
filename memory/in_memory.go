package memory

import (
	"errors"
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// DefaultMaxMessages bounds the history kept per conversation.
const DefaultMaxMessages = 100

// ErrEmptyChatID is returned for writes without a conversation id.
var ErrEmptyChatID = errors.New("memory: empty chat id")

// ChatMemory is the store used by the chat app.
type ChatMemory interface {
	Add(chatID string, msgs ...core.Content) error
	Get(chatID string, lastN int) []core.Content
	Clear(chatID string)
}

// Options configures an InMemoryStore.
type Options struct {
	// MaxMessages caps the messages retained per conversation. Older
	// messages are dropped first. Zero or negative selects DefaultMaxMessages.
	MaxMessages int
}

// InMemoryStore is a ChatMemory backed by a map of conversation id to
// message slice. It is safe for concurrent use.
type InMemoryStore struct {
	mu          sync.RWMutex
	maxMessages int
	chats       map[string][]core.Content
}

var _ ChatMemory = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{MaxMessages: DefaultMaxMessages}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	return &InMemoryStore{
		maxMessages: opts.MaxMessages,
		chats:       make(map[string][]core.Content),
	}
}

// Add appends messages to the conversation, trimming the oldest entries
// beyond MaxMessages.
func (m *InMemoryStore) Add(chatID string, msgs ...core.Content) error {
	if chatID == "" {
		return ErrEmptyChatID
	}
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	chat := append(m.chats[chatID], msgs...)
	if over := len(chat) - m.maxMessages; over > 0 {
		chat = append([]core.Content(nil), chat[over:]...)
	}
	m.chats[chatID] = chat
	return nil
}

// Get returns a copy of the last lastN messages in order. lastN <= 0
// returns the whole retained history.
func (m *InMemoryStore) Get(chatID string, lastN int) []core.Content {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat := m.chats[chatID]
	if lastN > 0 && len(chat) > lastN {
		chat = chat[len(chat)-lastN:]
	}
	out := make([]core.Content, len(chat))
	copy(out, chat)
	return out
}

// Clear forgets a conversation.
func (m *InMemoryStore) Clear(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
}

// Len returns the number of retained messages of a conversation.
func (m *InMemoryStore) Len(chatID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats[chatID])
}
