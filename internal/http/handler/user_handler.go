package handler

import (
	"net/http"

	"github.com/oauthkit/spa-auth-service/internal/http/middleware"
	"github.com/oauthkit/spa-auth-service/internal/http/response"
	"github.com/oauthkit/spa-auth-service/internal/service"
)

// UserHandler serves the protected resource surface.
type UserHandler struct{}

func NewUserHandler() *UserHandler { return &UserHandler{} }

// Me returns the profile of the user bound to the presented access token.
// Body shape mirrors the login response's user object.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.AuthFailure(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, service.UserView{
		Username: user.Username,
		Email:    user.Email,
	})
}
