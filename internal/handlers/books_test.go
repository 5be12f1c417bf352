package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/libroteca/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anaSession = accessCookie("access:1:ana@x.com")

func TestListBooks(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.books = []types.CatalogBook{types.NewCatalogBook(types.Book{ID: 1, Title: "Dune"})}

	rec := api.do(http.MethodGet, "/api/usuarios/1/libros", "", anaSession)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CatalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.UserID)
	require.Len(t, resp.Books, 1)
	assert.Equal(t, "Dune", resp.Books[0].Title)
}

func TestSearchBooks(t *testing.T) {
	api := newTestAPI(t)
	api.catalog.books = []types.CatalogBook{
		types.NewCatalogBook(types.Book{ID: 1, Title: "Dune"}),
		types.NewCatalogBook(types.Book{ID: 2, Title: "Rayuela"}),
	}

	rec := api.do(http.MethodGet, "/api/usuarios/1/libros/buscar?query=ray", "", anaSession)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ray", api.catalog.term)

	rec = api.do(http.MethodGet, "/api/usuarios/1/libros/buscar?query=tolkien", "", anaSession)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"mensaje":"No hay resultados para tu búsqueda","usuarioId":1,"libros":[]}`, rec.Body.String())
}

func TestPurchase(t *testing.T) {
	api := newTestAPI(t)
	api.purchases.updates = []types.StockUpdate{{BookID: 3, QuantityAvailable: 1}}

	rec := api.do(http.MethodPost, "/api/usuarios/1/libros/compras",
		`[{"id":3,"titulo":"Dune","cantidad":1}]`, anaSession)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"mensaje":"`+services.MsgPurchaseOK+`","stockActualizado":[{"id":3,"cantidad_disponible":1}]}`,
		rec.Body.String())
	assert.Equal(t, 1, api.purchases.userID)
	assert.Equal(t, []types.CartLine{{BookID: 3, Title: "Dune", Quantity: 1}}, api.purchases.lines)
}

func TestPurchase_Errors(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/usuarios/1/libros/compras", `{"id":3}`, anaSession)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, services.MsgMissingPurchase, decodeMessage(t, rec.Body.Bytes()).Message)

	api.purchases.err = apperr.Validation("Error en el procesamiento de tu compra: la cantidad seleccionada para el libro 'Dune' excede el stock disponible")
	rec = api.do(http.MethodPost, "/api/usuarios/1/libros/compras", `[{"id":3,"titulo":"Dune","cantidad":5}]`, anaSession)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeMessage(t, rec.Body.Bytes()).Message, "'Dune'")

	api.purchases.err = apperr.Internal(errBoom)
	rec = api.do(http.MethodPost, "/api/usuarios/1/libros/compras", `[{"id":3,"titulo":"Dune","cantidad":1}]`, anaSession)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperr.InternalMessage, decodeMessage(t, rec.Body.Bytes()).Message)
	assert.NotContains(t, rec.Body.String(), "boom")

	entry := api.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, errBoom, entry.Data["error"])
}

func TestPurchase_RequiresSession(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/usuarios/1/libros/compras", `[{"id":3,"titulo":"Dune","cantidad":1}]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, api.purchases.lines)
}
