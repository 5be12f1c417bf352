package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	MsgMissingPurchase = "No se recibió la información necesaria para procesar la compra"
	MsgPurchaseOK      = "Tu compra se ha procesado correctamente, en unos minutos recibirás un email con las instrucciones de pago"
)

// EventPublisher announces committed purchases.
type EventPublisher interface {
	PublishPurchase(ctx context.Context, receipt types.Receipt) error
}

// ReceiptArchiver stores a copy of each committed purchase.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, receipt types.Receipt) error
}

// PurchaseService checks a cart against live stock and commits the stock
// decrement of every line, or of none.
type PurchaseService struct {
	db       *sqlx.DB
	repos    Repositories
	events   EventPublisher
	receipts ReceiptArchiver
	observer Observer
	log      logrus.FieldLogger
	now      func() time.Time
}

type PurchaseOption func(*PurchaseService)

func WithEventPublisher(p EventPublisher) PurchaseOption {
	return func(s *PurchaseService) { s.events = p }
}

func WithReceiptArchiver(a ReceiptArchiver) PurchaseOption {
	return func(s *PurchaseService) { s.receipts = a }
}

func WithObserver(o Observer) PurchaseOption {
	return func(s *PurchaseService) { s.observer = o }
}

func NewPurchaseService(conn *sqlx.DB, repos Repositories, log logrus.FieldLogger, opts ...PurchaseOption) *PurchaseService {
	s := &PurchaseService{
		db:       conn,
		repos:    repos,
		observer: nopObserver{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Purchase applies the cart for userID in one transaction and returns the
// resulting stock of each line's book, in submitted order.
//
// Lines are checked in order: a malformed line is a flow error, a
// non-positive quantity, an unknown book or a shortfall is a validation
// error naming the title. Several lines for the same book draw from the same
// stock. Any error rolls back every decrement.
func (s *PurchaseService) Purchase(ctx context.Context, userID int, lines []types.CartLine) ([]types.StockUpdate, error) {
	if len(lines) == 0 {
		s.observer.PurchaseRejected(apperr.KindFlow.String())
		return nil, apperr.Flow(MsgMissingPurchase)
	}

	var (
		updates []types.StockUpdate
		receipt types.Receipt
	)
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	err := db.WithTx(ctx, s.db, opts, func(ctx context.Context, q db.Querier) error {
		books := s.repos.Books(q)

		locked, err := books.LockByIDs(ctx, lockOrder(lines))
		if err != nil {
			return fmt.Errorf("lock books: %w", err)
		}

		remaining := make(map[int]int, len(locked))
		receipt = types.Receipt{UserID: userID}
		for _, line := range lines {
			if line.Malformed || line.BookID == 0 || line.Title == "" {
				return apperr.Flow(MsgMissingPurchase)
			}
			if line.Quantity <= 0 {
				return apperr.Validation(fmt.Sprintf(
					"Debes seleccionar una cantidad positiva para comprar el libro %s", line.Title))
			}

			book, ok := locked[line.BookID]
			if !ok {
				return apperr.Validation(fmt.Sprintf(
					"Error en el procesamiento de tu compra: el libro '%s' no tiene un registro asociado en la base de datos", line.Title))
			}

			available, seen := remaining[book.ID]
			if !seen {
				available = book.QuantityAvailable
			}
			if available < line.Quantity {
				return apperr.Validation(
					fmt.Sprintf("Error en el procesamiento de tu compra: la cantidad seleccionada para el libro '%s' excede el stock disponible", line.Title),
					fmt.Sprintf("Faltan %d unidades de '%s'", line.Quantity-available, line.Title),
				)
			}
			remaining[book.ID] = available - line.Quantity

			receipt.Lines = append(receipt.Lines, types.ReceiptLine{
				BookID:    book.ID,
				Title:     book.Title,
				Quantity:  line.Quantity,
				UnitPrice: book.Price,
			})
			receipt.Total += line.Quantity * book.Price
		}

		ids := make([]int, 0, len(remaining))
		for id := range remaining {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if err := books.UpdateQuantity(ctx, id, remaining[id]); err != nil {
				return fmt.Errorf("update stock of book %d: %w", id, err)
			}
		}

		updates = make([]types.StockUpdate, 0, len(lines))
		for _, line := range lines {
			updates = append(updates, types.StockUpdate{
				BookID:            line.BookID,
				QuantityAvailable: remaining[line.BookID],
			})
		}
		return nil
	})
	if err != nil {
		appErr := apperr.From(err)
		s.observer.PurchaseRejected(appErr.Kind.String())
		return nil, appErr
	}

	units := 0
	for _, l := range receipt.Lines {
		units += l.Quantity
	}
	s.observer.PurchaseCompleted(units)

	receipt.ID = uuid.NewString()
	receipt.PurchasedAt = s.now().UTC()
	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"receipt_id": receipt.ID,
		"units":      units,
		"total":      receipt.Total,
	}).Info("purchase committed")
	s.afterCommit(ctx, receipt)

	return updates, nil
}

// afterCommit runs the side effects of a committed purchase. Their failures
// are logged and never reported to the buyer.
func (s *PurchaseService) afterCommit(ctx context.Context, receipt types.Receipt) {
	entry := s.log.WithField("receipt_id", receipt.ID)
	if s.events != nil {
		if err := s.events.PublishPurchase(ctx, receipt); err != nil {
			entry.WithError(err).Warn("publish purchase event failed")
		}
	}
	if s.receipts != nil {
		if err := s.receipts.ArchiveReceipt(ctx, receipt); err != nil {
			entry.WithError(err).Warn("archive receipt failed")
		}
	}
}

// lockOrder returns the distinct, non-zero book ids of well-formed lines sorted
// ascending, so concurrent purchases lock shared rows in the same order.
func lockOrder(lines []types.CartLine) []int {
	ids := make([]int, 0, len(lines))
	for _, line := range lines {
		if !line.Malformed && line.BookID != 0 {
			ids = append(ids, line.BookID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
