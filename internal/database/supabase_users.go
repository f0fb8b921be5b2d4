package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const userColumns = "id,email,username,full_name,avatar_url,push_tokens,created_at"

// searchReplacer strips characters that would break out of a quoted PostgREST
// filter value or act as wildcards.
var searchReplacer = strings.NewReplacer(`"`, "", `\`, "", "*", "", "%", "")

func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("select", userColumns)
	params.Set("id", "eq."+id)
	params.Set("limit", "1")

	data, err := r.client.request(ctx, "GET", "users", nil, params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", ErrDatabaseError, err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: unmarshal users: %v", ErrDatabaseError, err)
	}
	if len(users) == 0 {
		return nil, NewNotFoundError("user", id)
	}
	return &users[0], nil
}

// UpdatePushTokens replaces the push_tokens column of one user.
func (r *Repository) UpdatePushTokens(ctx context.Context, userID string, tokens []PushToken) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}
	if tokens == nil {
		tokens = []PushToken{}
	}

	params := url.Values{}
	params.Set("id", "eq."+userID)
	params.Set("select", "id")

	body := map[string]interface{}{"push_tokens": tokens}
	data, err := r.client.request(ctx, "PATCH", "users", body, params.Encode())
	if err != nil {
		return fmt.Errorf("%w: update push tokens: %v", ErrDatabaseError, err)
	}

	var updated []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%w: unmarshal users: %v", ErrDatabaseError, err)
	}
	if len(updated) == 0 {
		return NewNotFoundError("user", userID)
	}
	return nil
}

// ListUsersWithPushTokens pages through users that have a push_tokens value.
func (r *Repository) ListUsersWithPushTokens(ctx context.Context, limit, offset int) ([]User, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("select", "id,push_tokens")
	params.Set("push_tokens", "not.is.null")
	params.Set("order", "id.asc")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	data, err := r.client.request(ctx, "GET", "users", nil, params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: list users with push tokens: %v", ErrDatabaseError, err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: unmarshal users: %v", ErrDatabaseError, err)
	}
	return users, nil
}

// SearchUsers does a case-insensitive substring match on username, full name
// and email.
func (r *Repository) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	query = strings.TrimSpace(searchReplacer.Replace(query))
	if query == "" {
		return nil, fmt.Errorf("%w: search query cannot be empty", ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	pattern := `"*` + query + `*"`
	params := url.Values{}
	params.Set("select", "id,username,full_name,avatar_url")
	params.Set("or", fmt.Sprintf("(username.ilike.%s,full_name.ilike.%s,email.ilike.%s)", pattern, pattern, pattern))
	params.Set("order", "username.asc")
	params.Set("limit", strconv.Itoa(limit))

	data, err := r.client.request(ctx, "GET", "users", nil, params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: search users: %v", ErrDatabaseError, err)
	}

	var users []UserSummary
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: unmarshal users: %v", ErrDatabaseError, err)
	}
	return users, nil
}
