package httpapi

import (
	"errors"
	"net/http"
	"strings"

	svcerrors "github.com/storchat/api/internal/errors"
	"github.com/storchat/api/internal/httputil"
	"github.com/storchat/api/internal/notify"
	"github.com/storchat/api/internal/woocommerce"
)

func (s *Server) handleWooCommerceTest(w http.ResponseWriter, r *http.Request) {
	if s.deps.WooCommerce == nil {
		s.writeError(w, r, svcerrors.Unavailable("woocommerce connector is not configured"))
		return
	}

	var creds woocommerce.Credentials
	if !httputil.DecodeJSON(w, r, &creds) {
		return
	}
	switch {
	case strings.TrimSpace(creds.StoreURL) == "":
		s.writeError(w, r, svcerrors.MissingField("store_url"))
		return
	case strings.TrimSpace(creds.ConsumerKey) == "":
		s.writeError(w, r, svcerrors.MissingField("consumer_key"))
		return
	case strings.TrimSpace(creds.ConsumerSecret) == "":
		s.writeError(w, r, svcerrors.MissingField("consumer_secret"))
		return
	}

	info, err := s.deps.WooCommerce.TestConnection(r.Context(), creds)
	if err != nil {
		switch {
		case errors.Is(err, woocommerce.ErrInvalidStoreURL):
			err = svcerrors.InvalidFormat("store_url", "must be an absolute http(s) URL")
		case errors.Is(err, woocommerce.ErrInvalidCredentials):
			err = svcerrors.Unauthorized("woocommerce rejected the credentials")
		default:
			err = svcerrors.Upstream("woocommerce", err)
		}
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "store": info})
}

func (s *Server) handleGetOTP(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.OTP.LatestCode(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handlePushSend(w http.ResponseWriter, r *http.Request) {
	var note notify.Notification
	if !httputil.DecodeJSON(w, r, &note) {
		return
	}

	result, err := s.deps.Notifier.NotifyUser(r.Context(), note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}
