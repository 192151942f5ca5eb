package auth

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/imagestudio-ai/imagestudio/internal/api"
	"github.com/imagestudio-ai/imagestudio/internal/users"
)

// AdminTier is the profile tier required for the admin console routes.
const AdminTier = "admin"

// RequireAdmin gates a route group to users whose profile tier is "admin".
// It re-reads the profile on every request so a tier downgrade takes effect
// immediately, and fails closed on any lookup error.
func RequireAdmin(userSvc *users.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserClaims(r.Context())
			if claims == nil {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			profile, err := userSvc.GetProfile(r.Context(), userID)
			if err != nil {
				slog.Error("admin check: loading profile", "error", err, "user_id", userID)
				api.HandleError(w, api.ErrAdminOnly)
				return
			}
			if profile == nil || profile.Tier != AdminTier {
				api.HandleError(w, api.ErrAdminOnly)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
