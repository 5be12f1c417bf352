// Package auth signs and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 12 * time.Hour
	DefaultIssuer     = "bookstore"

	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims identify the user a token was issued for.
type Claims struct {
	UserID int    `json:"id"`
	Email  string `json:"correo"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or a refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// Signer issues and verifies HS256 tokens with a single secret.
type Signer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

type SignerOption func(*Signer)

// WithIssuer overrides DefaultIssuer.
func WithIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner validates the secret and lifetimes. Zero lifetimes fall back
// to the defaults.
func NewSigner(secret string, accessTTL, refreshTTL time.Duration, opts ...SignerOption) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	if accessTTL == 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL == 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if accessTTL < 0 || refreshTTL < 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	s := &Signer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     DefaultIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Signer) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair signs a fresh access and refresh token for the user.
func (s *Signer) IssuePair(userID int, email string) (TokenPair, error) {
	if userID < 1 || strings.TrimSpace(email) == "" {
		return TokenPair{}, errors.New("token subject is required")
	}

	access, err := s.sign(userID, email, audienceAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, email, audienceRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    s.accessTTL,
		RefreshTTL:   s.refreshTTL,
	}, nil
}

// VerifyAccess checks signature, expiry and audience of an access token.
func (s *Signer) VerifyAccess(token string) (Claims, error) {
	return s.verify(token, audienceAccess)
}

// VerifyRefresh checks signature, expiry and audience of a refresh token.
// It does not consult the stored value.
func (s *Signer) VerifyRefresh(token string) (Claims, error) {
	return s.verify(token, audienceRefresh)
}

func (s *Signer) sign(userID int, email, audience string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   strconv.Itoa(userID),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) verify(tokenString, audience string) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrTokenInvalid
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.UserID < 1 || strings.TrimSpace(claims.Email) == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
