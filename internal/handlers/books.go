package handlers

import (
	"context"
	"net/http"

	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
)

const msgNoResults = "No hay resultados para tu búsqueda"

// CatalogService reads the catalog.
type CatalogService interface {
	List(ctx context.Context) ([]types.CatalogBook, error)
	Search(ctx context.Context, term string) ([]types.CatalogBook, error)
}

// PurchaseService commits carts against stock.
type PurchaseService interface {
	Purchase(ctx context.Context, userID int, lines []types.CartLine) ([]types.StockUpdate, error)
}

// BookHandler serves the catalog and purchases of a signed-in user.
type BookHandler struct {
	catalog   CatalogService
	purchases PurchaseService
	log       logrus.FieldLogger
}

func NewBookHandler(catalog CatalogService, purchases PurchaseService, log logrus.FieldLogger) *BookHandler {
	return &BookHandler{catalog: catalog, purchases: purchases, log: log}
}

type CatalogResponse struct {
	UserID int                 `json:"usuarioId"`
	Books  []types.CatalogBook `json:"libros"`
}

type NoResultsResponse struct {
	Message string              `json:"mensaje"`
	UserID  int                 `json:"usuarioId"`
	Books   []types.CatalogBook `json:"libros"`
}

type PurchaseResponse struct {
	Message      string              `json:"mensaje"`
	StockUpdates []types.StockUpdate `json:"stockActualizado"`
}

// List returns the whole catalog.
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}

	books, err := h.catalog.List(r.Context())
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{UserID: userID, Books: books})
}

// Search filters the catalog by the query parameter "query".
func (h *BookHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}

	books, err := h.catalog.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	if len(books) == 0 {
		writeJSON(w, http.StatusNotFound, NoResultsResponse{Message: msgNoResults, UserID: userID, Books: []types.CatalogBook{}})
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{UserID: userID, Books: books})
}

// Purchase buys every line of the cart in the body, or nothing.
func (h *BookHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, h.log, apperr.Auth(err))
		return
	}

	var lines []types.CartLine
	if err := decodeJSON(w, r, &lines); err != nil {
		writeAppError(w, r, h.log, apperr.Flow(services.MsgMissingPurchase))
		return
	}

	updates, err := h.purchases.Purchase(r.Context(), userID, lines)
	if err != nil {
		writeAppError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{Message: services.MsgPurchaseOK, StockUpdates: updates})
}
