// Package memory implements store.Store with in-process maps. It backs tests
// and credential-less local runs; the sequencing contract matches postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusvoice/backend/internal/model/conversation"
	"github.com/nexusvoice/backend/internal/model/role"
	"github.com/nexusvoice/backend/internal/model/user"
	"github.com/nexusvoice/backend/internal/store"
)

// Compile-time check.
var _ store.Store = (*Store)(nil)

// Store keeps everything behind one mutex; appends to the same conversation
// serialise on it, which is the whole sequencing contract here.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]conversation.Conversation
	messages      map[string][]conversation.Message
	roles         map[string]role.Role
	users         map[string]user.User
	configs       map[string]store.SystemConfig
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]conversation.Conversation),
		messages:      make(map[string][]conversation.Message),
		roles:         make(map[string]role.Role),
		users:         make(map[string]user.User),
		configs:       make(map[string]store.SystemConfig),
	}
}

func (s *Store) CreateConversation(_ context.Context, arg store.CreateConversationParams) (*conversation.Conversation, error) {
	now := time.Now().UTC()
	conv := conversation.Conversation{
		ID:           uuid.NewString(),
		UserID:       arg.UserID,
		RoleID:       arg.RoleID,
		Title:        arg.Title,
		ModelName:    arg.ModelName,
		SystemPrompt: arg.SystemPrompt,
		Status:       conversation.StatusActive,
		LastActiveAt: now,
		CreatedAt:    now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]conversation.Message, 0, 16)
	s.mu.Unlock()

	return &conv, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || conv.Deleted {
		return nil, store.ErrNotFound
	}
	copied := conv
	return &copied, nil
}

func (s *Store) GetConversationForUser(ctx context.Context, id, userID string) (*conversation.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *Store) ListConversations(_ context.Context, userID string, limit int) ([]store.ConversationPreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	previews := make([]store.ConversationPreview, 0)
	for _, conv := range s.conversations {
		if conv.Deleted || conv.UserID != userID {
			continue
		}
		msgs := s.messages[conv.ID]
		preview := store.ConversationPreview{Conversation: conv, MessageCount: len(msgs)}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1].Content
			if runes := []rune(last); len(runes) > 100 {
				last = string(runes[:100]) + "..."
			}
			preview.LastMessage = last
		}
		previews = append(previews, preview)
	}

	sort.Slice(previews, func(i, j int) bool {
		return previews[i].Conversation.LastActiveAt.After(previews[j].Conversation.LastActiveAt)
	})
	if limit > 0 && len(previews) > limit {
		previews = previews[:limit]
	}
	return previews, nil
}

func (s *Store) UpdateConversationTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.Deleted {
		return store.ErrNotFound
	}
	conv.Title = title
	s.conversations[id] = conv
	return nil
}

func (s *Store) SoftDeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.Deleted {
		return store.ErrNotFound
	}
	conv.Deleted = true
	s.conversations[id] = conv
	return nil
}

// AppendMessage allocates sequence = len(log)+1 and bumps LastActiveAt under
// the write lock, giving the gapless contract.
func (s *Store) AppendMessage(_ context.Context, msg conversation.Message) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok || conv.Deleted {
		return nil, store.ErrNotFound
	}

	msg.ID = uuid.NewString()
	msg.Sequence = len(s.messages[msg.ConversationID]) + 1
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = conversation.MessageSent
	}

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	conv.LastActiveAt = time.Now().UTC()
	s.conversations[msg.ConversationID] = conv

	copied := msg
	return &copied, nil
}

func (s *Store) History(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := make([]conversation.Message, len(msgs))
	copy(copied, msgs)
	return copied, nil
}

func (s *Store) CountMessages(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}

func (s *Store) SumTokenCount(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, msg := range s.messages[conversationID] {
		total += msg.TokenCount
	}
	return total, nil
}

func (s *Store) CreateRole(_ context.Context, r role.Role) (*role.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.roles[r.ID] = r
	s.mu.Unlock()
	copied := r
	return &copied, nil
}

func (s *Store) GetRoleForChat(_ context.Context, id, userID string) (*role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Private roles are visible to their owner only.
	if r.UserID != "" && r.UserID != userID {
		return nil, store.ErrNotFound
	}
	copied := r
	return &copied, nil
}

func (s *Store) UpdateRoleGreetingAudio(_ context.Context, id, userID, audioURL, voiceType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok || (r.UserID != "" && r.UserID != userID) {
		return store.ErrNotFound
	}
	r.GreetingAudioURL = audioURL
	if voiceType != "" {
		r.VoiceType = voiceType
	}
	s.roles[id] = r
	return nil
}

func (s *Store) CreateUser(_ context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, exists := s.users[key]; exists {
		return store.ErrDuplicate
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[key] = u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := u
	return &copied, nil
}

// SetSystemConfig seeds a runtime knob; used by tests and local runs.
func (s *Store) SetSystemConfig(key, value string, enabled bool) {
	s.mu.Lock()
	s.configs[key] = store.SystemConfig{Key: key, Value: value, Enabled: enabled}
	s.mu.Unlock()
}

func (s *Store) GetSystemConfig(_ context.Context, key string) (*store.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cfg
	return &copied, nil
}
