package services

import (
	"context"

	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/libroteca/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByIDForUpdate(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SwapRefreshToken(ctx context.Context, id int, expected, next *string) (bool, error)
}

// BookRepository defines persistence operations for books.
type BookRepository interface {
	List(ctx context.Context) ([]types.Book, error)
	Search(ctx context.Context, term string) ([]types.Book, error)
	GetByID(ctx context.Context, id int) (types.Book, error)
	LockByIDs(ctx context.Context, ids []int) (map[int]types.Book, error)
	LockAll(ctx context.Context) ([]types.Book, error)
	UpdateQuantity(ctx context.Context, id, quantity int) error
	UpdateStockAndPrice(ctx context.Context, id, quantity, price int) error
}

// Repositories binds repositories to a database handle or a transaction.
type Repositories interface {
	Users(q db.Querier) UserRepository
	Books(q db.Querier) BookRepository
}

// SQLRepositories builds the postgres-backed repositories.
type SQLRepositories struct{}

func (SQLRepositories) Users(q db.Querier) UserRepository {
	return store.NewUserRepository(q)
}

func (SQLRepositories) Books(q db.Querier) BookRepository {
	return store.NewBookRepository(q)
}
