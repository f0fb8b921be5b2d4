package pushtoken

import (
	"context"
	"strings"
	"time"

	"github.com/storchat/api/internal/database"
	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
)

// Store is the persistence surface the service needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*database.User, error)
	UpdatePushTokens(ctx context.Context, userID string, tokens []database.PushToken) error
	ListUsersWithPushTokens(ctx context.Context, limit, offset int) ([]database.User, error)
}

// Request is a device registration.
type Request struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	PushToken  string `json:"push_token"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// Validate checks that the required fields are present. No format checks are
// applied.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return svcerrors.MissingField("user_id")
	case strings.TrimSpace(r.DeviceID) == "":
		return svcerrors.MissingField("device_id")
	case strings.TrimSpace(r.PushToken) == "":
		return svcerrors.MissingField("push_token")
	}
	return nil
}

const sweepPageSize = 200

// Service registers, lists and expires push tokens.
type Service struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	log     *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a push token service.
func NewService(store Store, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.Default()
	}
	s := &Service{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Register upserts the device entry for req.UserID and persists the list with
// expired entries removed. The returned slice is what was written.
func (s *Service) Register(ctx context.Context, req Request) ([]Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(req.UserID)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	incoming := Entry{
		DeviceID:   strings.TrimSpace(req.DeviceID),
		PushToken:  strings.TrimSpace(req.PushToken),
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
	}
	updated := Reconcile(user.PushTokens, incoming, now, s.ttl)
	pruned := countExpired(user.PushTokens, incoming.DeviceID, now, s.ttl)

	if err := s.persist(ctx, userID, updated); err != nil {
		return nil, err
	}
	s.metrics.RecordTokensPruned(pruned)

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":   userID,
		"device_id": incoming.DeviceID,
		"tokens":    len(updated),
		"pruned":    pruned,
	}).Info("push token registered")
	return updated, nil
}

// Devices returns the non-expired entries of a user.
func (s *Service) Devices(ctx context.Context, userID string) ([]Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, svcerrors.MissingField("user_id")
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	live, _ := Prune(user.PushTokens, s.now().UTC(), s.ttl)
	return live, nil
}

// Forget removes the given tokens from a user's list. It is a no-op when none
// of them are present.
func (s *Service) Forget(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	kept := RemoveTokens(user.PushTokens, tokens)
	if len(kept) == len(user.PushTokens) {
		return nil
	}
	if err := s.persist(ctx, userID, kept); err != nil {
		return err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"removed": len(user.PushTokens) - len(kept),
	}).Info("push tokens forgotten")
	return nil
}

// Sweep prunes expired entries for every user that has tokens and returns the
// number of users whose list was rewritten. Per-user failures are logged and
// skipped.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	touched := 0
	for offset := 0; ; offset += sweepPageSize {
		users, err := s.store.ListUsersWithPushTokens(ctx, sweepPageSize, offset)
		if err != nil {
			return touched, svcerrors.Internal("list users with push tokens", err)
		}
		for _, u := range users {
			if _, removed := Prune(u.PushTokens, s.now().UTC(), s.ttl); removed == 0 {
				continue
			}
			removed, err := s.sweepUser(ctx, u.ID)
			if err != nil {
				s.log.WithContext(ctx).WithError(err).WithField("user_id", u.ID).Warn("push token sweep update failed")
				continue
			}
			if removed == 0 {
				continue
			}
			s.metrics.RecordTokensPruned(removed)
			touched++
		}
		if len(users) < sweepPageSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return touched, err
		}
	}
	return touched, nil
}

// sweepUser prunes the current list of one user. The page snapshot is only
// used to pick candidates; the list written back is re-read here so that a
// registration landing after the page was listed is kept.
func (s *Service) sweepUser(ctx context.Context, userID string) (int, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if database.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	kept, removed := Prune(user.PushTokens, s.now().UTC(), s.ttl)
	if removed == 0 {
		return 0, nil
	}
	if err := s.store.UpdatePushTokens(ctx, userID, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (*database.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, svcerrors.NotFound("user", userID)
		}
		return nil, svcerrors.Internal("load user", err)
	}
	return user, nil
}

func (s *Service) persist(ctx context.Context, userID string, tokens []Entry) error {
	if err := s.store.UpdatePushTokens(ctx, userID, tokens); err != nil {
		if database.IsNotFound(err) {
			return svcerrors.NotFound("user", userID)
		}
		return svcerrors.Internal("save push tokens", err)
	}
	return nil
}

// countExpired counts expired entries other than those for skipDevice.
func countExpired(entries []Entry, skipDevice string, now time.Time, ttl time.Duration) int {
	n := 0
	for _, e := range entries {
		if e.DeviceID != skipDevice && expired(e, now, ttl) {
			n++
		}
	}
	return n
}
