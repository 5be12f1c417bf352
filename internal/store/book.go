package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/types"
)

const bookColumns = `id, title, author, quantity_available, price, cover_id, created_at, updated_at`

// BookRepository handles persistence for books and their stock.
type BookRepository struct {
	q db.Querier
}

func NewBookRepository(q db.Querier) *BookRepository {
	return &BookRepository{q: q}
}

// List returns the whole catalog ordered by title.
func (r *BookRepository) List(ctx context.Context) ([]types.Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books ORDER BY title`
	books := []types.Book{}
	if err := sqlx.SelectContext(ctx, r.q, &books, query); err != nil {
		return nil, err
	}
	return books, nil
}

// Search matches term case-insensitively against title and author.
func (r *BookRepository) Search(ctx context.Context, term string) ([]types.Book, error) {
	const query = `
		SELECT ` + bookColumns + `
		FROM books
		WHERE title ILIKE $1 OR author ILIKE $1
		ORDER BY title`
	books := []types.Book{}
	if err := sqlx.SelectContext(ctx, r.q, &books, query, "%"+escapeLike(term)+"%"); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *BookRepository) GetByID(ctx context.Context, id int) (types.Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	var book types.Book
	if err := sqlx.GetContext(ctx, r.q, &book, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Book{}, ErrNotFound
		}
		return types.Book{}, err
	}
	return book, nil
}

// LockByIDs loads the given books and holds row locks on them until the
// surrounding transaction ends. Rows are locked in ascending id order.
// Unknown ids are absent from the result.
func (r *BookRepository) LockByIDs(ctx context.Context, ids []int) (map[int]types.Book, error) {
	if len(ids) == 0 {
		return map[int]types.Book{}, nil
	}
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}

	const query = `
		SELECT ` + bookColumns + `
		FROM books
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`
	var books []types.Book
	if err := sqlx.SelectContext(ctx, r.q, &books, query, arr); err != nil {
		return nil, err
	}

	byID := make(map[int]types.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	return byID, nil
}

// LockAll locks every book row, for bulk stock changes.
func (r *BookRepository) LockAll(ctx context.Context) ([]types.Book, error) {
	const query = `SELECT ` + bookColumns + ` FROM books ORDER BY id FOR UPDATE`
	var books []types.Book
	if err := sqlx.SelectContext(ctx, r.q, &books, query); err != nil {
		return nil, err
	}
	return books, nil
}

func (r *BookRepository) UpdateQuantity(ctx context.Context, id, quantity int) error {
	const query = `
		UPDATE books
		SET quantity_available = $2,
			updated_at = $3
		WHERE id = $1`
	return r.exec(ctx, query, id, quantity, time.Now())
}

func (r *BookRepository) UpdateStockAndPrice(ctx context.Context, id, quantity, price int) error {
	const query = `
		UPDATE books
		SET quantity_available = $2,
			price = $3,
			updated_at = $4
		WHERE id = $1`
	return r.exec(ctx, query, id, quantity, price, time.Now())
}

func (r *BookRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}
