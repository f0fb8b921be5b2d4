package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

func (r *Repository) ListMessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id cannot be empty", ErrInvalidInput)
	}

	params := url.Values{}
	params.Set("select", "*")
	params.Set("chat_id", "eq."+chatID)
	params.Set("order", "created_at.asc")

	data, err := r.client.request(ctx, "GET", "messages", nil, params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrDatabaseError, err)
	}

	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: unmarshal messages: %v", ErrDatabaseError, err)
	}
	return messages, nil
}

// UpdateMessageAction sets the flag behind action ("favorite" or "bookmark")
// on one message and returns the updated row.
func (r *Repository) UpdateMessageAction(ctx context.Context, messageID, action string, value bool) (*Message, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id cannot be empty", ErrInvalidInput)
	}
	column, ok := messageActionColumns[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message action %q", ErrInvalidInput, action)
	}

	params := url.Values{}
	params.Set("id", "eq."+messageID)

	data, err := r.client.request(ctx, "PATCH", "messages", map[string]bool{column: value}, params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: update message: %v", ErrDatabaseError, err)
	}

	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: unmarshal messages: %v", ErrDatabaseError, err)
	}
	if len(messages) == 0 {
		return nil, NewNotFoundError("message", messageID)
	}
	return &messages[0], nil
}

// InsertMessages bulk-inserts messages in a single request.
func (r *Repository) InsertMessages(ctx context.Context, messages []Message) ([]Message, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", ErrInvalidInput)
	}

	data, err := r.client.request(ctx, "POST", "messages", messages, "")
	if err != nil {
		return nil, fmt.Errorf("%w: insert messages: %v", ErrDatabaseError, err)
	}

	var inserted []Message
	if err := json.Unmarshal(data, &inserted); err != nil {
		return nil, fmt.Errorf("%w: unmarshal messages: %v", ErrDatabaseError, err)
	}
	return inserted, nil
}
