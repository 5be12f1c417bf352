package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/auth"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	sessionLogin   = "login"
	sessionRefresh = "refresh"
	sessionLogout  = "logout"
)

var errStaleRefreshToken = errors.New("refresh token does not match stored value")

// TokenService issues, verifies and rotates session tokens. A user has at
// most one live refresh token; issuing a new one revokes the previous one.
type TokenService struct {
	db          *sqlx.DB
	repos       Repositories
	signer      *auth.Signer
	credentials *CredentialService
	observer    Observer
	log         logrus.FieldLogger
}

func NewTokenService(conn *sqlx.DB, repos Repositories, signer *auth.Signer, credentials *CredentialService, observer Observer, log logrus.FieldLogger) *TokenService {
	if observer == nil {
		observer = nopObserver{}
	}
	return &TokenService{
		db:          conn,
		repos:       repos,
		signer:      signer,
		credentials: credentials,
		observer:    observer,
		log:         log,
	}
}

// IssueTokenPair signs a fresh pair without touching storage.
func (s *TokenService) IssueTokenPair(userID int, email string) (auth.TokenPair, error) {
	pair, err := s.signer.IssuePair(userID, email)
	if err != nil {
		return auth.TokenPair{}, apperr.Internal(err)
	}
	return pair, nil
}

// VerifyAccessToken checks an access token. Every failure is an auth error.
func (s *TokenService) VerifyAccessToken(token string) (auth.Claims, error) {
	claims, err := s.signer.VerifyAccess(token)
	if err != nil {
		return auth.Claims{}, apperr.Auth(err)
	}
	return claims, nil
}

// Login verifies credentials, issues a pair and stores the refresh token,
// replacing any previous session of the user.
func (s *TokenService) Login(ctx context.Context, email, password string) (types.User, auth.TokenPair, error) {
	user, err := s.credentials.VerifyCredentials(ctx, email, password)
	if err != nil {
		s.observer.Session(sessionLogin, "rejected")
		return types.User{}, auth.TokenPair{}, err
	}

	var pair auth.TokenPair
	err = db.WithTx(ctx, s.db, nil, func(ctx context.Context, q db.Querier) error {
		users := s.repos.Users(q)
		locked, err := users.GetByIDForUpdate(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		pair, err = s.signer.IssuePair(locked.ID, locked.Email)
		if err != nil {
			return err
		}

		swapped, err := users.SwapRefreshToken(ctx, locked.ID, locked.RefreshToken, &pair.RefreshToken)
		if err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
		if !swapped {
			return errors.New("refresh token changed under row lock")
		}
		return nil
	})
	if err != nil {
		s.observer.Session(sessionLogin, "error")
		return types.User{}, auth.TokenPair{}, apperr.From(err)
	}

	s.observer.Session(sessionLogin, "ok")
	s.log.WithField("user_id", user.ID).Info("user logged in")
	return user, pair, nil
}

// RotateRefreshToken exchanges the stored refresh token of userID for a new
// pair. The provided token must verify, must belong to userID and must equal
// the stored value; otherwise the same auth error is returned. Of two
// concurrent rotations with the same token at most one succeeds.
func (s *TokenService) RotateRefreshToken(ctx context.Context, userID int, provided string) (auth.TokenPair, error) {
	claims, err := s.signer.VerifyRefresh(provided)
	if err != nil {
		s.observer.Session(sessionRefresh, "rejected")
		return auth.TokenPair{}, apperr.Auth(err)
	}
	if claims.UserID != userID {
		s.observer.Session(sessionRefresh, "rejected")
		return auth.TokenPair{}, apperr.Auth(errors.New("refresh token issued for another user"))
	}

	var pair auth.TokenPair
	err = db.WithTx(ctx, s.db, nil, func(ctx context.Context, q db.Querier) error {
		users := s.repos.Users(q)
		user, err := users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.Auth(err)
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if user.RefreshToken == nil || *user.RefreshToken != provided {
			return apperr.Auth(errStaleRefreshToken)
		}
		if claims.Email != user.Email {
			return apperr.Auth(errors.New("refresh token email mismatch"))
		}

		pair, err = s.signer.IssuePair(user.ID, user.Email)
		if err != nil {
			return err
		}

		swapped, err := users.SwapRefreshToken(ctx, user.ID, &provided, &pair.RefreshToken)
		if err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
		if !swapped {
			return apperr.Auth(errStaleRefreshToken)
		}
		return nil
	})
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Kind == apperr.KindAuth {
			s.observer.Session(sessionRefresh, "rejected")
		} else {
			s.observer.Session(sessionRefresh, "error")
		}
		return auth.TokenPair{}, appErr
	}

	s.observer.Session(sessionRefresh, "ok")
	s.log.WithField("user_id", userID).Info("refresh token rotated")
	return pair, nil
}

// Logout clears the stored refresh token when it still equals provided.
// Calling it again, or with a stale token, is a no-op.
func (s *TokenService) Logout(ctx context.Context, userID int, provided string) error {
	if provided == "" {
		s.observer.Session(sessionLogout, "noop")
		return nil
	}

	var cleared bool
	err := db.WithTx(ctx, s.db, nil, func(ctx context.Context, q db.Querier) error {
		ok, err := s.repos.Users(q).SwapRefreshToken(ctx, userID, &provided, nil)
		cleared = ok
		return err
	})
	if err != nil {
		s.observer.Session(sessionLogout, "error")
		return apperr.Internal(fmt.Errorf("clear refresh token: %w", err))
	}

	if cleared {
		s.observer.Session(sessionLogout, "ok")
		s.log.WithField("user_id", userID).Info("user logged out")
	} else {
		s.observer.Session(sessionLogout, "noop")
	}
	return nil
}
