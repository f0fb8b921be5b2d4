package database

import (
	"context"
	"fmt"
)

// RepositoryInterface is the data access surface used by the API handlers.
type RepositoryInterface interface {
	HealthCheck(ctx context.Context) error

	GetUser(ctx context.Context, id string) (*User, error)
	UpdatePushTokens(ctx context.Context, userID string, tokens []PushToken) error
	ListUsersWithPushTokens(ctx context.Context, limit, offset int) ([]User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error)

	ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error)
	UpdateMessageAction(ctx context.Context, messageID, action string, value bool) (*Message, error)
	InsertMessages(ctx context.Context, messages []Message) ([]Message, error)

	ListTokenUsage(ctx context.Context, userID string, page, pageSize int) (*TokenUsagePage, error)
}

// Repository implements RepositoryInterface on top of PostgREST.
type Repository struct {
	client *Client
}

var _ RepositoryInterface = (*Repository)(nil)

// NewRepository creates a repository backed by client.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// HealthCheck issues a cheap query to confirm Supabase is reachable.
func (r *Repository) HealthCheck(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	if _, err := r.client.request(ctx, "GET", "users", nil, "select=id&limit=1"); err != nil {
		return fmt.Errorf("%w: health check: %v", ErrDatabaseError, err)
	}
	return nil
}
