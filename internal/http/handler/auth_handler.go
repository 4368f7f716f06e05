package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oauthkit/spa-auth-service/internal/config"
	"github.com/oauthkit/spa-auth-service/internal/http/middleware"
	"github.com/oauthkit/spa-auth-service/internal/http/response"
	"github.com/oauthkit/spa-auth-service/internal/observability"
	"github.com/oauthkit/spa-auth-service/internal/repository"
	"github.com/oauthkit/spa-auth-service/internal/security"
	"github.com/oauthkit/spa-auth-service/internal/service"
)

// AuthHandler renders the four session flows over HTTP. The refresh token
// travels exclusively in the signed cookie; response bodies only ever carry
// the short-lived access token.
type AuthHandler struct {
	sessions     *service.SessionService
	applications repository.ApplicationRepository
	codec        *security.CookieCodec
	variant      config.Variant
	accessTTL    int64
}

func NewAuthHandler(
	sessions *service.SessionService,
	applications repository.ApplicationRepository,
	codec *security.CookieCodec,
	cfg *config.Config,
) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		applications: applications,
		codec:        codec,
		variant:      cfg.AuthVariant,
		accessTTL:    int64(cfg.AccessTokenTTL.Seconds()),
	}
}

type tokenResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int64            `json:"expires_in"`
	User        service.UserView `json:"user"`
}

func (h *AuthHandler) tokenBody(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   h.accessTTL,
		User:        res.User,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.RecordAuthLogin(r.Context(), "bad_request")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	ctx := service.WithClientIP(r.Context(), requestIP(r))
	res, err := h.sessions.Login(ctx, req)
	if err != nil {
		h.renderAuthError(w, r, err, observability.RecordAuthLogin)
		return
	}
	h.codec.Set(w, res.RefreshToken)
	observability.RecordAuthLogin(r.Context(), "success")
	observability.Audit(r, "auth.login", "username", req.Username, "client_id", req.ClientID)
	response.JSON(w, r, http.StatusOK, h.tokenBody(res))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
	}
	if r.Body != nil {
		// An empty body is tolerated; validation rejects the missing
		// client_id with field detail.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	cookie := security.GetCookie(r, h.codec.Name())
	if cookie == "" {
		// A missing cookie fails exactly like an invalid one, but the
		// response always clears whatever state the browser holds.
		h.codec.Clear(w)
		observability.RecordAuthRefresh(r.Context(), "failure")
		response.AuthFailure(w, r)
		return
	}
	res, err := h.sessions.Refresh(r.Context(), cookie, req.ClientID)
	if err != nil {
		h.codec.Clear(w)
		h.renderAuthError(w, r, err, observability.RecordAuthRefresh)
		return
	}
	// Re-issue the same cookie value with a fresh expiry.
	h.codec.Set(w, res.RefreshToken)
	observability.RecordAuthRefresh(r.Context(), "success")
	response.JSON(w, r, http.StatusOK, h.tokenBody(res))
}

func (h *AuthHandler) Logoff(w http.ResponseWriter, r *http.Request) {
	req, ok := h.logoffRequest(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Logoff(r.Context(), req); err != nil {
		h.codec.Clear(w)
		observability.RecordAuthLogoff(r.Context(), "error")
		response.Internal(w, r)
		return
	}
	h.codec.Clear(w)
	observability.RecordAuthLogoff(r.Context(), "success")
	observability.Audit(r, "auth.logoff", "client_id", req.ClientID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// logoffRequest assembles the revocation request per deployment variant. The
// spa variant takes client_id from the body and accepts anonymous calls; the
// session variant requires the authenticated access token and derives the
// client from it.
func (h *AuthHandler) logoffRequest(w http.ResponseWriter, r *http.Request) (service.LogoffRequest, bool) {
	cookie := security.GetCookie(r, h.codec.Name())
	if h.variant == config.VariantSession {
		access, ok := middleware.AccessTokenFromContext(r.Context())
		if !ok {
			h.codec.Clear(w)
			observability.RecordAuthLogoff(r.Context(), "failure")
			response.AuthFailure(w, r)
			return service.LogoffRequest{}, false
		}
		app, err := h.applications.FindByID(r.Context(), access.ApplicationID)
		if err != nil {
			h.codec.Clear(w)
			observability.RecordAuthLogoff(r.Context(), "error")
			response.Internal(w, r)
			return service.LogoffRequest{}, false
		}
		return service.LogoffRequest{SignedCookie: cookie, ClientID: app.ClientID}, true
	}
	var body struct {
		ClientID string `json:"client_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return service.LogoffRequest{SignedCookie: cookie, ClientID: body.ClientID}, true
}

func (h *AuthHandler) LogoffEverywhere(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.codec.Clear(w)
		observability.RecordAuthLogoffEverywhere(r.Context(), "bad_request")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
		return
	}
	ctx := service.WithClientIP(r.Context(), requestIP(r))
	if err := h.sessions.LogoffEverywhere(ctx, req); err != nil {
		h.codec.Clear(w)
		h.renderAuthError(w, r, err, observability.RecordAuthLogoffEverywhere)
		return
	}
	h.codec.Clear(w)
	observability.RecordAuthLogoffEverywhere(r.Context(), "success")
	observability.Audit(r, "auth.logoff_everywhere", "username", req.Username, "client_id", req.ClientID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out_everywhere"})
}

func (h *AuthHandler) renderAuthError(w http.ResponseWriter, r *http.Request, err error, record func(context.Context, string)) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		record(r.Context(), "bad_request")
		response.ValidationFailed(w, r, vErr.Fields)
	case errors.Is(err, service.ErrAuthenticationFailed):
		record(r.Context(), "failure")
		response.AuthFailure(w, r)
	default:
		record(r.Context(), "error")
		response.Internal(w, r)
	}
}

func requestIP(r *http.Request) string {
	return r.RemoteAddr
}
