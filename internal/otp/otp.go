// Package otp reads one-time passcodes out of a test mailbox.
package otp

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	svcerrors "github.com/storchat/api/internal/errors"
)

var (
	// ErrNoMessages is returned when the mailbox is empty.
	ErrNoMessages = errors.New("mailbox is empty")
	// ErrNoCode is returned when the latest message has no 6-digit code.
	ErrNoCode = errors.New("no otp code found")
)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// ExtractCode returns the first standalone run of six digits in text.
func ExtractCode(text string) (string, bool) {
	code := codePattern.FindString(text)
	return code, code != ""
}

// Mail is the part of a message the helper cares about.
type Mail struct {
	Subject string
	From    string
	Date    time.Time
	Body    string
}

// Mailbox returns the most recent message of a mailbox.
type Mailbox interface {
	LatestMessage(ctx context.Context) (*Mail, error)
}

// Result is the extracted passcode with its message metadata.
type Result struct {
	OTP     string    `json:"otp"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// Helper extracts the passcode from the latest mailbox message.
type Helper struct {
	mailbox Mailbox
}

func NewHelper(mailbox Mailbox) *Helper {
	return &Helper{mailbox: mailbox}
}

// Enabled reports whether a mailbox is configured.
func (h *Helper) Enabled() bool {
	return h != nil && h.mailbox != nil
}

// LatestCode looks for a code in the body of the newest message, then in its
// subject.
func (h *Helper) LatestCode(ctx context.Context) (*Result, error) {
	if !h.Enabled() {
		return nil, svcerrors.Unavailable("otp mailbox is not configured")
	}
	msg, err := h.mailbox.LatestMessage(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessages) {
			return nil, svcerrors.NotFound("message", "latest")
		}
		return nil, svcerrors.Upstream("imap", err)
	}

	code, ok := ExtractCode(msg.Body)
	if !ok {
		code, ok = ExtractCode(msg.Subject)
	}
	if !ok {
		return nil, svcerrors.NotFound("otp", strings.TrimSpace(msg.Subject)).WithDetails("reason", ErrNoCode.Error())
	}
	return &Result{OTP: code, Subject: msg.Subject, Date: msg.Date}, nil
}
