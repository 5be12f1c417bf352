package handlers

import (
	"errors"
	"net/http"

	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/sirupsen/logrus"
)

// RequireSession admits a request only when its access token cookie is
// valid and was issued to the user named in the path. The user id is then
// attached to the request context.
func RequireSession(sessions SessionService, accounts AccountService, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AccessTokenCookie)
			if err != nil || cookie.Value == "" {
				writeAppError(w, r, log, apperr.Auth(errors.New("missing access token")))
				return
			}

			claims, err := sessions.VerifyAccessToken(cookie.Value)
			if err != nil {
				writeAppError(w, r, log, err)
				return
			}

			userID, err := pathUserID(r)
			if err != nil {
				writeAppError(w, r, log, apperr.Auth(err))
				return
			}

			user, err := accounts.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeAppError(w, r, log, apperr.Auth(err))
					return
				}
				writeAppError(w, r, log, err)
				return
			}

			if claims.UserID != user.ID || claims.Email != user.Email {
				writeAppError(w, r, log, apperr.Auth(errors.New("token issued for another user")))
				return
			}

			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), user.ID)))
		})
	}
}
