package httpapi

import (
	"errors"
	"net/http"

	"github.com/storchat/api/internal/database"
	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/httputil"
)

// writeError maps repository and service errors onto HTTP responses and logs
// server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *database.NotFoundError
	switch {
	case errors.As(err, &nf):
		err = svcerrors.NotFound(nf.Resource, nf.ID)
	case errors.Is(err, database.ErrInvalidInput):
		err = svcerrors.BadRequest(err.Error())
	}

	if svcerrors.HTTPStatus(err) >= http.StatusInternalServerError {
		s.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteServiceError(w, r, err)
}
