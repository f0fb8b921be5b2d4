// Package notify sends push notifications to the registered devices of a user.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/storchat/api/internal/database"
	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
)

// Message is a notification addressed to a set of device tokens.
type Message struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

// Result counts per-token delivery outcomes.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Invalid int `json:"invalid"`
}

// Provider delivers a message to a push service.
type Provider interface {
	Name() string
	SendMessage(ctx context.Context, msg Message, onInvalid func(token string)) (Result, error)
}

// DeviceStore is implemented by pushtoken.Service.
type DeviceStore interface {
	Devices(ctx context.Context, userID string) ([]database.PushToken, error)
	Forget(ctx context.Context, userID string, tokens []string) error
}

// Notification is the payload accepted by NotifyUser.
type Notification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notifier fans a notification out to every live device of a user.
type Notifier struct {
	provider Provider
	devices  DeviceStore
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// NewNotifier creates a notifier. provider may be nil, in which case every
// send reports the service as unavailable.
func NewNotifier(provider Provider, devices DeviceStore, log *logging.Logger, m *metrics.Metrics) *Notifier {
	if log == nil {
		log = logging.Default()
	}
	return &Notifier{provider: provider, devices: devices, log: log, metrics: m}
}

// Enabled reports whether a provider is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.provider != nil
}

// NotifyUser sends note to all devices of the user and forgets tokens the
// provider rejects as invalid.
func (n *Notifier) NotifyUser(ctx context.Context, note Notification) (Result, error) {
	if !n.Enabled() {
		return Result{}, svcerrors.Unavailable("push notifications are not configured")
	}
	note.UserID = strings.TrimSpace(note.UserID)
	switch {
	case note.UserID == "":
		return Result{}, svcerrors.MissingField("user_id")
	case strings.TrimSpace(note.Title) == "":
		return Result{}, svcerrors.MissingField("title")
	case strings.TrimSpace(note.Body) == "":
		return Result{}, svcerrors.MissingField("body")
	}

	devices, err := n.devices.Devices(ctx, note.UserID)
	if err != nil {
		return Result{}, err
	}
	if len(devices) == 0 {
		return Result{}, nil
	}

	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.PushToken)
	}

	var (
		mu      sync.Mutex
		invalid []string
	)
	result, err := n.provider.SendMessage(ctx, Message{
		Tokens: tokens,
		Title:  note.Title,
		Body:   note.Body,
		Data:   note.Data,
	}, func(token string) {
		mu.Lock()
		invalid = append(invalid, token)
		mu.Unlock()
	})

	n.metrics.RecordPushResult("sent", result.Sent)
	n.metrics.RecordPushResult("failed", result.Failed)
	n.metrics.RecordPushResult("invalid", result.Invalid)

	if len(invalid) > 0 {
		if ferr := n.devices.Forget(ctx, note.UserID, invalid); ferr != nil {
			n.log.WithContext(ctx).WithError(ferr).WithField("user_id", note.UserID).Warn("failed to forget invalid push tokens")
		}
	}
	if err != nil {
		return result, svcerrors.Upstream(n.provider.Name(), err)
	}

	n.log.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id": note.UserID,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"invalid": result.Invalid,
	}).Info("push notification delivered")
	return result, nil
}
