package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storchat/api/internal/database"
	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
	"github.com/storchat/api/internal/middleware"
	"github.com/storchat/api/internal/notify"
	"github.com/storchat/api/internal/otp"
	"github.com/storchat/api/internal/pushtoken"
	"github.com/storchat/api/internal/woocommerce"
)

var (
	jwtSecret  = []byte("test-jwt-secret-with-at-least-32-characters")
	testSecret = "maestro-secret"
)

type fakeStore struct {
	info *woocommerce.StoreInfo
	err  error
}

func (f *fakeStore) TestConnection(ctx context.Context, creds woocommerce.Credentials) (*woocommerce.StoreInfo, error) {
	return f.info, f.err
}

type fakeProvider struct {
	sent    []notify.Message
	invalid []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SendMessage(ctx context.Context, msg notify.Message, onInvalid func(string)) (notify.Result, error) {
	p.sent = append(p.sent, msg)
	res := notify.Result{}
	for _, tok := range msg.Tokens {
		if contains(p.invalid, tok) {
			onInvalid(tok)
			res.Invalid++
			continue
		}
		res.Sent++
	}
	return res, nil
}

type fakeMailbox struct {
	mail *otp.Mail
	err  error
}

func (m *fakeMailbox) LatestMessage(ctx context.Context) (*otp.Mail, error) {
	return m.mail, m.err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type testEnv struct {
	repo     *database.MockRepository
	provider *fakeProvider
	store    *fakeStore
	mailbox  *fakeMailbox
	metrics  *metrics.Metrics
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.NewDiscard()
	env := &testEnv{
		repo:     database.NewMockRepository(),
		provider: &fakeProvider{},
		store:    &fakeStore{},
		mailbox:  &fakeMailbox{},
		metrics:  metrics.New("test"),
	}
	tokens := pushtoken.NewService(env.repo, log, pushtoken.WithMetrics(env.metrics))
	srv := New(Deps{
		Repo:         env.repo,
		PushTokens:   tokens,
		Notifier:     notify.NewNotifier(env.provider, tokens, log, env.metrics),
		WooCommerce:  env.store,
		OTP:          otp.NewHelper(env.mailbox),
		Auth:         middleware.NewAuthMiddleware(jwtSecret, log, nil),
		SharedSecret: testSecret,
		CORS:         middleware.NewCORSMiddleware([]string{"https://app.stor.chat"}),
		Metrics:      env.metrics,
		Logger:       log,
		Version:      "test",
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var buf []byte
	switch v := body.(type) {
	case nil:
	case string:
		buf = []byte(v)
	default:
		buf = marshal(t, v)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authedRequest(t *testing.T, method, path string, body interface{}, userID string) *http.Request {
	t.Helper()
	claims := &middleware.Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	req := jsonRequest(t, method, path, body)
	req.Header.Set("Authorization", "Bearer "+signed)
	return req
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceName, resp.Service)
	assert.Equal(t, "enabled", resp.Checks["push"])
	assert.NotEmpty(t, rr.Header().Get(middleware.TraceIDHeader))

	env.repo.ErrorOnNextCall = errors.New("db down")
	rr = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_http_requests_total")
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	env.repo.AddMessage(database.Message{ID: "m2", ChatID: "c1", Role: "assistant", Content: "hi", CreatedAt: base.Add(time.Second)})
	env.repo.AddMessage(database.Message{ID: "m1", ChatID: "c1", Role: "user", Content: "hello", CreatedAt: base})
	env.repo.AddMessage(database.Message{ID: "m3", ChatID: "c2", Role: "user", Content: "other", CreatedAt: base})

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=c1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Messages []database.Message `json:"messages"`
	}
	decode(t, rr, &resp)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	assert.Equal(t, "m2", resp.Messages[1].ID)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=empty", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"messages":[]}`, rr.Body.String())

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateMessageAction(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddMessage(database.Message{ID: "m1", ChatID: "c1", Role: "user", Content: "hello"})

	rr := env.do(jsonRequest(t, http.MethodPatch, "/api/messages/update-action",
		map[string]interface{}{"message_id": "m1", "action": "favorite", "value": true}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Message database.Message `json:"message"`
	}
	decode(t, rr, &resp)
	assert.True(t, resp.Message.IsFavorite)
	assert.False(t, resp.Message.IsBookmarked)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing id", map[string]interface{}{"action": "favorite", "value": true}, http.StatusBadRequest},
		{"bad action", map[string]interface{}{"message_id": "m1", "action": "pin", "value": true}, http.StatusBadRequest},
		{"missing value", map[string]interface{}{"message_id": "m1", "action": "bookmark"}, http.StatusBadRequest},
		{"unknown message", map[string]interface{}{"message_id": "nope", "action": "bookmark", "value": false}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(jsonRequest(t, http.MethodPatch, "/api/messages/update-action", tt.body))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestSaveMessages(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{
		"chat_id": "c1",
		"messages": []map[string]string{
			{"role": "user", "content": "first"},
			{"role": "assistant", "content": "second"},
		},
	}

	rr := env.do(jsonRequest(t, http.MethodPost, "/api/save-messages", body))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(authedRequest(t, http.MethodPost, "/api/save-messages", body, "u1"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp struct {
		Saved    int                `json:"saved"`
		Messages []database.Message `json:"messages"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, 2, resp.Saved)

	stored, err := env.repo.ListMessagesByChat(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "first", stored[0].Content)
	assert.Equal(t, "second", stored[1].Content)
	for _, m := range stored {
		assert.Equal(t, "u1", m.UserID)
		assert.NotEmpty(t, m.ID)
	}

	rr = env.do(authedRequest(t, http.MethodPost, "/api/save-messages",
		map[string]interface{}{"chat_id": "c1", "messages": []interface{}{}}, "u1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(authedRequest(t, http.MethodPost, "/api/save-messages",
		map[string]interface{}{"chat_id": "c1", "messages": []map[string]string{{"role": "user"}}}, "u1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenUsage(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		env.repo.AddTokenUsage(database.TokenUsage{ID: int64(i + 1), UserID: "u1", TotalTokens: i, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/token-usage?user_id=u1&page=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page database.TokenUsagePage
	decode(t, rr, &page)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, defaultTokenUsagePageSize, page.PageSize)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Data, 5)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/token-usage?user_id=u1&page=0&page_size=1000", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &page)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxTokenUsagePageSize, page.PageSize)
	assert.Len(t, page.Data, 25)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/token-usage", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser(database.User{ID: "u1", Username: "alice", FullName: "Alice Doe"})
	env.repo.AddUser(database.User{ID: "u2", Username: "bob", FullName: "Bob Roe"})

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/users/search?q=%20ali%20", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Users []database.UserSummary `json:"users"`
	}
	decode(t, rr, &resp)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "alice", resp.Users[0].Username)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/users/search?q=zzz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"users":[]}`, rr.Body.String())

	rr = env.do(httptest.NewRequest(http.MethodGet, "/api/users/search?q=%20", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPushToken_RegisterAndReplace(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser(database.User{ID: "u1"})

	rr := env.do(jsonRequest(t, http.MethodPost, "/api/push-token",
		pushtoken.Request{UserID: "u1", DeviceID: "d1", PushToken: "t1"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success":true,"tokens":1}`, rr.Body.String())

	rr = env.do(jsonRequest(t, http.MethodPost, "/api/push-token",
		pushtoken.Request{UserID: "u1", DeviceID: "d1", PushToken: "t2"}))
	require.Equal(t, http.StatusOK, rr.Code)

	stored := env.repo.PushTokens("u1")
	require.Len(t, stored, 1)
	assert.Equal(t, "t2", stored[0].PushToken)
}

func TestPushToken_PrunesExpiredOnWrite(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddUser(database.User{ID: "u1", PushTokens: []database.PushToken{
		{DeviceID: "old", PushToken: "t-old", LastUpdated: time.Now().Add(-40 * 24 * time.Hour)},
	}})

	rr := env.do(jsonRequest(t, http.MethodPost, "/api/push-token",
		pushtoken.Request{UserID: "u1", DeviceID: "d1", PushToken: "t1"}))
	require.Equal(t, http.StatusOK, rr.Code)

	stored := env.repo.PushTokens("u1")
	require.Len(t, stored, 1)
	assert.Equal(t, "d1", stored[0].DeviceID)
}

func TestPushToken_Errors(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"invalid json", "not json", http.StatusBadRequest},
		{"missing user", pushtoken.Request{DeviceID: "d1", PushToken: "t1"}, http.StatusBadRequest},
		{"missing device", pushtoken.Request{UserID: "u1", PushToken: "t1"}, http.StatusBadRequest},
		{"missing token", pushtoken.Request{UserID: "u1", DeviceID: "d1"}, http.StatusBadRequest},
		{"unknown user", pushtoken.Request{UserID: "ghost", DeviceID: "d1", PushToken: "t1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.AddUser(database.User{ID: "u1"})

			rr := env.do(jsonRequest(t, http.MethodPost, "/api/push-token", tt.body))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.Zero(t, env.repo.UpdatePushTokensCalls)
		})
	}
}

func TestWooCommerceTest(t *testing.T) {
	creds := woocommerce.Credentials{StoreURL: "https://shop.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	tests := []struct {
		name string
		body interface{}
		err  error
		want int
	}{
		{"success", creds, nil, http.StatusOK},
		{"missing key", woocommerce.Credentials{StoreURL: "https://shop.example.com", ConsumerSecret: "cs"}, nil, http.StatusBadRequest},
		{"bad url", creds, woocommerce.ErrInvalidStoreURL, http.StatusBadRequest},
		{"rejected", creds, woocommerce.ErrInvalidCredentials, http.StatusUnauthorized},
		{"upstream", creds, woocommerce.ErrUpstream, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.err = tt.err
			env.store.info = &woocommerce.StoreInfo{URL: "https://shop.example.com", Currency: "EUR"}

			rr := env.do(jsonRequest(t, http.MethodPost, "/api/woocommerce/test", tt.body))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestGetOTP(t *testing.T) {
	env := newTestEnv(t)
	env.mailbox.mail = &otp.Mail{Subject: "Your code", Body: "Use 482913 to sign in", Date: time.Now()}

	req := jsonRequest(t, http.MethodPost, "/api/maestro-helper/get-otp", nil)
	rr := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = jsonRequest(t, http.MethodPost, "/api/maestro-helper/get-otp", nil)
	req.Header.Set(middleware.MaestroSecretHeader, testSecret)
	rr = env.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res otp.Result
	decode(t, rr, &res)
	assert.Equal(t, "482913", res.OTP)

	env.mailbox.err = otp.ErrNoMessages
	req = jsonRequest(t, http.MethodPost, "/api/maestro-helper/get-otp", nil)
	req.Header.Set(middleware.MaestroSecretHeader, testSecret)
	assert.Equal(t, http.StatusNotFound, env.do(req).Code)
}

func TestPushSend(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.repo.AddUser(database.User{ID: "u1", PushTokens: []database.PushToken{
		{DeviceID: "a", PushToken: "good", LastUpdated: now},
		{DeviceID: "b", PushToken: "dead", LastUpdated: now},
	}})
	env.provider.invalid = []string{"dead"}

	req := jsonRequest(t, http.MethodPost, "/api/push/send",
		notify.Notification{UserID: "u1", Title: "Hi", Body: "There"})
	req.Header.Set(middleware.MaestroSecretHeader, testSecret)
	rr := env.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Result notify.Result `json:"result"`
	}
	decode(t, rr, &resp)
	assert.Equal(t, 1, resp.Result.Sent)
	assert.Equal(t, 1, resp.Result.Invalid)

	stored := env.repo.PushTokens("u1")
	require.Len(t, stored, 1)
	assert.Equal(t, "good", stored[0].PushToken)

	req = jsonRequest(t, http.MethodPost, "/api/push/send", notify.Notification{UserID: "u1"})
	req.Header.Set(middleware.MaestroSecretHeader, testSecret)
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/push-token", nil)
	req.Header.Set("Origin", "https://app.stor.chat")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rr := env.do(req)
	assert.Equal(t, "https://app.stor.chat", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	log := logging.NewDiscard()
	repo := database.NewMockRepository()
	srv := New(Deps{
		Repo:       repo,
		PushTokens: pushtoken.NewService(repo, log),
		Limiter:    middleware.NewRateLimiter(1, 1, log),
		Logger:     log,
	})
	h := srv.Handler()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=c1", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=c1", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestRateLimit_AuthenticatedRoutesKeyByUser(t *testing.T) {
	log := logging.NewDiscard()
	repo := database.NewMockRepository()
	srv := New(Deps{
		Repo:       repo,
		PushTokens: pushtoken.NewService(repo, log),
		Auth:       middleware.NewAuthMiddleware(jwtSecret, log, nil),
		Limiter:    middleware.NewRateLimiter(1, 1, log),
		Logger:     log,
	})
	h := srv.Handler()
	body := map[string]interface{}{
		"chat_id":  "c1",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}

	send := func(userID string) int {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authedRequest(t, http.MethodPost, "/api/save-messages", body, userID))
		return rr.Code
	}

	assert.Equal(t, http.StatusCreated, send("u1"))
	assert.Equal(t, http.StatusCreated, send("u2"), "same peer address, different user")
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
}
