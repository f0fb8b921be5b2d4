// Package database provides Supabase database integration.
package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is an in-memory implementation of RepositoryInterface for testing.
type MockRepository struct {
	mu sync.RWMutex

	// Data stores
	users      map[string]*User
	messages   map[string]*Message
	tokenUsage []TokenUsage

	// UpdatePushTokensCalls counts persistence attempts on push_tokens.
	UpdatePushTokensCalls int

	// Error injection for testing error paths
	ErrorOnNextCall error
}

// NewMockRepository creates a new mock repository for testing.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:    make(map[string]*User),
		messages: make(map[string]*Message),
	}
}

// checkError returns and clears any injected error.
func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// Reset clears all data in the mock repository.
func (m *MockRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[string]*User)
	m.messages = make(map[string]*Message)
	m.tokenUsage = nil
	m.UpdatePushTokensCalls = 0
	m.ErrorOnNextCall = nil
}

// Ensure MockRepository implements RepositoryInterface
var _ RepositoryInterface = (*MockRepository)(nil)

// =============================================================================
// Seed helpers
// =============================================================================

func (m *MockRepository) AddUser(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := user
	u.PushTokens = append([]PushToken(nil), user.PushTokens...)
	m.users[u.ID] = &u
}

func (m *MockRepository) AddMessage(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := msg
	m.messages[c.ID] = &c
}

func (m *MockRepository) AddTokenUsage(rows ...TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenUsage = append(m.tokenUsage, rows...)
}

// PushTokens returns a copy of the stored tokens for userID.
func (m *MockRepository) PushTokens(userID string) []PushToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	return append([]PushToken(nil), u.PushTokens...)
}

// =============================================================================
// RepositoryInterface
// =============================================================================

func (m *MockRepository) HealthCheck(ctx context.Context) error {
	return m.checkError()
}

func (m *MockRepository) GetUser(ctx context.Context, id string) (*User, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, NewNotFoundError("user", id)
	}
	c := *u
	c.PushTokens = append([]PushToken(nil), u.PushTokens...)
	return &c, nil
}

func (m *MockRepository) UpdatePushTokens(ctx context.Context, userID string, tokens []PushToken) error {
	m.mu.Lock()
	m.UpdatePushTokensCalls++
	m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return NewNotFoundError("user", userID)
	}
	u.PushTokens = append([]PushToken{}, tokens...)
	return nil
}

func (m *MockRepository) ListUsersWithPushTokens(ctx context.Context, limit, offset int) ([]User, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.users))
	for id, u := range m.users {
		if u.PushTokens != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return []User{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	result := make([]User, 0, end-offset)
	for _, id := range ids[offset:end] {
		u := m.users[id]
		result = append(result, User{ID: u.ID, PushTokens: append([]PushToken(nil), u.PushTokens...)})
	}
	return result, nil
}

func (m *MockRepository) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var result []UserSummary
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.FullName), q) ||
			strings.Contains(strings.ToLower(u.Email), q) {
			result = append(result, UserSummary{ID: u.ID, Username: u.Username, FullName: u.FullName, AvatarURL: u.AvatarURL})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockRepository) ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			result = append(result, *msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockRepository) UpdateMessageAction(ctx context.Context, messageID, action string, value bool) (*Message, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, NewNotFoundError("message", messageID)
	}
	switch action {
	case MessageActionFavorite:
		msg.IsFavorite = value
	case MessageActionBookmark:
		msg.IsBookmarked = value
	default:
		return nil, ErrInvalidInput
	}
	c := *msg
	return &c, nil
}

func (m *MockRepository) InsertMessages(ctx context.Context, messages []Message) ([]Message, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		c := msg
		m.messages[c.ID] = &c
		inserted = append(inserted, c)
	}
	return inserted, nil
}

func (m *MockRepository) ListTokenUsage(ctx context.Context, userID string, page, pageSize int) (*TokenUsagePage, error) {
	if err := m.checkError(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []TokenUsage
	for _, row := range m.tokenUsage {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })

	total := len(rows)
	offset := (page - 1) * pageSize
	data := []TokenUsage{}
	if offset < total {
		end := offset + pageSize
		if end > total {
			end = total
		}
		data = append(data, rows[offset:end]...)
	}
	return &TokenUsagePage{Data: data, Page: page, PageSize: pageSize, Total: total}, nil
}
