package httpapi

import (
	"net/http"
	"strings"

	"github.com/storchat/api/internal/database"
	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/httputil"
	"github.com/storchat/api/internal/pushtoken"
)

const (
	defaultTokenUsagePageSize = 20
	maxTokenUsagePageSize     = 100
	defaultSearchLimit        = 10
	maxSearchLimit            = 50
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Server) handleTokenUsage(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.writeError(w, r, svcerrors.MissingField("user_id"))
		return
	}
	page := httputil.QueryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := clamp(httputil.QueryInt(r, "page_size", defaultTokenUsagePageSize), 1, maxTokenUsagePageSize)

	result, err := s.deps.Repo.ListTokenUsage(r.Context(), userID, page, pageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, r, svcerrors.MissingField("q"))
		return
	}
	limit := clamp(httputil.QueryInt(r, "limit", defaultSearchLimit), 1, maxSearchLimit)

	users, err := s.deps.Repo.SearchUsers(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []database.UserSummary{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handlePushToken registers a device push token. Validation happens before
// any repository call.
func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var req pushtoken.Request
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	tokens, err := s.deps.PushTokens.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tokens": len(tokens)})
}
