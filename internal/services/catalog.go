package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	restockMinQuantity = 10
	restockMaxQuantity = 30
	restockMinPrice    = 13000
	restockMaxPrice    = 25000
)

// CatalogService serves catalog reads and the demo restock.
type CatalogService struct {
	db    *sqlx.DB
	repos Repositories
	log   logrus.FieldLogger
	rand  func(n int) int
}

func NewCatalogService(conn *sqlx.DB, repos Repositories, log logrus.FieldLogger) *CatalogService {
	return &CatalogService{
		db:    conn,
		repos: repos,
		log:   log,
		rand:  rand.IntN,
	}
}

func (s *CatalogService) List(ctx context.Context) ([]types.CatalogBook, error) {
	books, err := s.repos.Books(s.db).List(ctx)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list books: %w", err))
	}
	return toCatalog(books), nil
}

// Search matches term against title and author. A blank term lists the
// whole catalog.
func (s *CatalogService) Search(ctx context.Context, term string) ([]types.CatalogBook, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return s.List(ctx)
	}
	books, err := s.repos.Books(s.db).Search(ctx, term)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("search books: %w", err))
	}
	return toCatalog(books), nil
}

// Restock sets a random quantity and price on every book in one transaction.
// It returns the number of books updated.
func (s *CatalogService) Restock(ctx context.Context) (int, error) {
	var updated int
	err := db.WithTx(ctx, s.db, nil, func(ctx context.Context, q db.Querier) error {
		books := s.repos.Books(q)
		all, err := books.LockAll(ctx)
		if err != nil {
			return fmt.Errorf("lock books: %w", err)
		}
		for _, b := range all {
			qty := restockMinQuantity + s.rand(restockMaxQuantity-restockMinQuantity+1)
			price := restockMinPrice + s.rand(restockMaxPrice-restockMinPrice+1)
			if err := books.UpdateStockAndPrice(ctx, b.ID, qty, price); err != nil {
				return fmt.Errorf("restock book %d: %w", b.ID, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, apperr.From(err)
	}

	s.log.WithField("books", updated).Info("catalog restocked")
	return updated, nil
}

func toCatalog(books []types.Book) []types.CatalogBook {
	out := make([]types.CatalogBook, 0, len(books))
	for _, b := range books {
		out = append(out, types.NewCatalogBook(b))
	}
	return out
}
