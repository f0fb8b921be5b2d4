package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/storchat/api/internal/httputil"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   s.deps.Version,
		Checks:    map[string]string{"database": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.deps.Repo.HealthCheck(ctx); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("health check failed")
		resp.Status = "unhealthy"
		resp.Checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	resp.Checks["push"] = enabled(s.deps.Notifier.Enabled())
	resp.Checks["otp"] = enabled(s.deps.OTP.Enabled())

	httputil.WriteJSON(w, status, resp)
}

func enabled(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}
