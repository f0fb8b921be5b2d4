package database

import "time"

// PushToken is one device registration stored in users.push_tokens.
type PushToken struct {
	DeviceID    string    `json:"device_id"`
	PushToken   string    `json:"push_token"`
	DeviceName  string    `json:"device_name,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// User is a row of the users table.
type User struct {
	ID         string      `json:"id"`
	Email      string      `json:"email,omitempty"`
	Username   string      `json:"username,omitempty"`
	FullName   string      `json:"full_name,omitempty"`
	AvatarURL  string      `json:"avatar_url,omitempty"`
	PushTokens []PushToken `json:"push_tokens"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
}

// UserSummary is the public projection returned by directory search.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message actions accepted by UpdateMessageAction.
const (
	MessageActionFavorite = "favorite"
	MessageActionBookmark = "bookmark"
)

var messageActionColumns = map[string]string{
	MessageActionFavorite: "is_favorite",
	MessageActionBookmark: "is_bookmarked",
}

// Message is a row of the messages table.
type Message struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	UserID       string    `json:"user_id,omitempty"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	IsFavorite   bool      `json:"is_favorite"`
	IsBookmarked bool      `json:"is_bookmarked"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenUsage is a row of the token_usage table, one per assistant call.
type TokenUsage struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// TokenUsagePage is one page of a token_usage listing.
type TokenUsagePage struct {
	Data     []TokenUsage `json:"data"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
}
