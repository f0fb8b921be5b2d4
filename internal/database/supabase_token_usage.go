package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListTokenUsage returns one page of a user's usage log, newest first.
// page is 1-based.
func (r *Repository) ListTokenUsage(ctx context.Context, userID string, page, pageSize int) (*TokenUsagePage, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id cannot be empty", ErrInvalidInput)
	}
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("%w: page and page size must be positive", ErrInvalidInput)
	}

	offset := (page - 1) * pageSize
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+userID)
	params.Set("order", "created_at.desc")
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("offset", strconv.Itoa(offset))

	resp, err := r.client.do(ctx, "GET", "token_usage", nil, params.Encode(), map[string]string{
		"Prefer": "count=exact",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list token usage: %v", ErrDatabaseError, err)
	}

	var rows []TokenUsage
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal token_usage: %v", ErrDatabaseError, err)
	}
	if rows == nil {
		rows = []TokenUsage{}
	}

	total, ok := parseContentRangeTotal(resp.header.Get("Content-Range"))
	if !ok {
		total = offset + len(rows)
	}

	return &TokenUsagePage{
		Data:     rows,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// parseContentRangeTotal reads the total from a PostgREST Content-Range header
// such as "0-19/57" or "*/0".
func parseContentRangeTotal(header string) (int, bool) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, false
	}
	total, err := strconv.Atoi(header[idx+1:])
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}
