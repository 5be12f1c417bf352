package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/types"
)

const userColumns = `id, name, email, password_hash, refresh_token, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	q db.Querier
}

func NewUserRepository(q db.Querier) *UserRepository {
	return &UserRepository{q: q}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate loads the user and locks its row until the surrounding
// transaction ends.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

// GetByEmail looks up a user by normalized email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.q.QueryRowxContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return types.User{}, err
	}
	return user, nil
}

// SwapRefreshToken replaces the stored refresh token with next only if the
// stored value still equals expected. A nil expected matches a NULL column
// and a nil next clears it. It reports whether the row was updated.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, id int, expected, next *string) (bool, error) {
	const query = `
		UPDATE users
		SET refresh_token = $3,
			updated_at = $4
		WHERE id = $1 AND refresh_token IS NOT DISTINCT FROM $2`
	result, err := r.q.ExecContext(ctx, query, id, expected, next, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	if err := sqlx.GetContext(ctx, r.q, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
