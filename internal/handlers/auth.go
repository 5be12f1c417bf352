package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/auth"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	msgMissingParameter = "Falta un parámetro obligatorio en el cuerpo de la petición"
	msgRegistered       = "Usuario registrado exitosamente, ahora puedes iniciar sesión"
	msgLoggedIn         = "Login exitoso"
	msgRefreshed        = "Tokens renovados exitosamente"
	msgLoggedOut        = "Sesión cerrada exitosamente"
)

// AccountService registers and loads users.
type AccountService interface {
	Register(ctx context.Context, in services.RegisterInput) (types.User, error)
	GetByID(ctx context.Context, id int) (types.User, error)
}

// SessionService issues, rotates and revokes session tokens.
type SessionService interface {
	Login(ctx context.Context, email, password string) (types.User, auth.TokenPair, error)
	RotateRefreshToken(ctx context.Context, userID int, provided string) (auth.TokenPair, error)
	Logout(ctx context.Context, userID int, provided string) error
	VerifyAccessToken(token string) (auth.Claims, error)
}

// CookieConfig controls the attributes of the session cookies.
type CookieConfig struct {
	Secure bool
}

// AuthHandler serves registration, login, refresh and logout.
type AuthHandler struct {
	accounts AccountService
	sessions SessionService
	cookies  CookieConfig
	log      logrus.FieldLogger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts AccountService, sessions SessionService, cookies CookieConfig, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		cookies:  cookies,
		log:      log,
	}
}

type RegisterRequest struct {
	Name     *string `json:"nombre"`
	Email    *string `json:"correo"`
	Password *string `json:"contraseña"`
}

type LoginRequest struct {
	Email    *string `json:"correo"`
	Password *string `json:"contraseña"`
}

type LoginResponse struct {
	Message string `json:"mensaje"`
	UserID  int    `json:"usuarioId"`
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.log, bodyError(err, apperr.Validation(services.MsgValidationFailed)))
		return
	}
	if req.Name == nil || req.Email == nil || req.Password == nil {
		writeAppError(w, r, h.log, apperr.Flow(msgMissingParameter))
		return
	}

	_, err := h.accounts.Register(r.Context(), services.RegisterInput{
		Name:     *req.Name,
		Email:    *req.Email,
		Password: *req.Password,
	})
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}

	writeMessage(w, http.StatusCreated, msgRegistered)
}

// Login verifies credentials and sets both session cookies.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.log, bodyError(err, apperr.Validation(services.MsgMissingFields)))
		return
	}
	if req.Email == nil || req.Password == nil {
		writeAppError(w, r, h.log, apperr.Flow(msgMissingParameter))
		return
	}
	if strings.TrimSpace(*req.Email) == "" || strings.TrimSpace(*req.Password) == "" {
		writeAppError(w, r, h.log, apperr.Validation(services.MsgMissingFields))
		return
	}

	user, pair, err := h.sessions.Login(r.Context(), *req.Email, *req.Password)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, LoginResponse{Message: msgLoggedIn, UserID: user.ID})
}

// Refresh rotates the refresh token held in the cookie for the user in the path.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}

	pair, err := h.sessions.RotateRefreshToken(r.Context(), userID, cookie.Value)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}

	h.setSessionCookies(w, pair)
	writeMessage(w, http.StatusOK, msgRefreshed)
}

// Logout revokes the stored refresh token and expires both cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}

	var provided string
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		provided = cookie.Value
	}
	if err := h.sessions.Logout(r.Context(), userID, provided); err != nil {
		writeAppError(w, r, h.log, err)
		return
	}

	h.expireSessionCookies(w)
	writeMessage(w, http.StatusOK, msgLoggedOut)
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, h.cookie(AccessTokenCookie, pair.AccessToken, pair.AccessTTL))
	http.SetCookie(w, h.cookie(RefreshTokenCookie, pair.RefreshToken, pair.RefreshTTL))
}

func (h *AuthHandler) expireSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := h.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// bodyError classifies a JSON decode failure: a field of the wrong type is
// reported as typeErr, anything else as a missing parameter.
func bodyError(err error, typeErr *apperr.Error) error {
	var typeMismatch *json.UnmarshalTypeError
	if errors.As(err, &typeMismatch) {
		return typeErr
	}
	return apperr.Flow(msgMissingParameter)
}

func pathUserID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || id < 1 {
		return 0, errors.New("invalid user id in path")
	}
	return id, nil
}
