package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/storchat/api/internal/errors"
	internalhttputil "github.com/storchat/api/internal/httputil"
	"github.com/storchat/api/internal/logging"
)

// MaestroSecretHeader carries the shared secret of the test automation helpers.
const MaestroSecretHeader = "X-Maestro-Secret"

// SharedSecretMiddleware admits only requests whose header equals secret. An
// empty secret rejects everything.
func SharedSecretMiddleware(header, secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.LogSecurityEvent(r.Context(), "shared_secret_rejected", map[string]interface{}{
					"path":    r.URL.Path,
					"header":  header,
					"present": got != "",
				})
				internalhttputil.WriteServiceError(w, r, errors.Unauthorized("invalid or missing "+header))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
