package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/libroteca/apiserver/internal/auth"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeAccounts struct {
	users      map[int]types.User
	registered []services.RegisterInput
	err        error
}

func (f *fakeAccounts) Register(_ context.Context, in services.RegisterInput) (types.User, error) {
	if f.err != nil {
		return types.User{}, f.err
	}
	f.registered = append(f.registered, in)
	return types.User{ID: len(f.registered), Name: in.Name, Email: in.Email}, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id int) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

// fakeSessions accepts access tokens of the form "access:<id>:<email>".
type fakeSessions struct {
	loginUser   types.User
	loginErr    error
	rotateErr   error
	rotatedFor  int
	rotatedWith string
	loggedOut   string
}

var testPair = auth.TokenPair{
	AccessToken:  "new-access",
	RefreshToken: "new-refresh",
	AccessTTL:    15 * time.Minute,
	RefreshTTL:   12 * time.Hour,
}

func (f *fakeSessions) Login(context.Context, string, string) (types.User, auth.TokenPair, error) {
	if f.loginErr != nil {
		return types.User{}, auth.TokenPair{}, f.loginErr
	}
	return f.loginUser, testPair, nil
}

func (f *fakeSessions) RotateRefreshToken(_ context.Context, userID int, provided string) (auth.TokenPair, error) {
	f.rotatedFor, f.rotatedWith = userID, provided
	if f.rotateErr != nil {
		return auth.TokenPair{}, f.rotateErr
	}
	return testPair, nil
}

func (f *fakeSessions) Logout(_ context.Context, _ int, provided string) error {
	f.loggedOut = provided
	return nil
}

func (f *fakeSessions) VerifyAccessToken(token string) (auth.Claims, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 || parts[0] != "access" {
		return auth.Claims{}, apperr.Auth(auth.ErrTokenInvalid)
	}
	if parts[1] == "expired" {
		return auth.Claims{}, apperr.Auth(auth.ErrTokenExpired)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return auth.Claims{}, apperr.Auth(auth.ErrTokenInvalid)
	}
	return auth.Claims{UserID: id, Email: parts[2]}, nil
}

type fakeCatalog struct {
	books []types.CatalogBook
	term  string
}

func (f *fakeCatalog) List(context.Context) ([]types.CatalogBook, error) {
	return f.books, nil
}

func (f *fakeCatalog) Search(_ context.Context, term string) ([]types.CatalogBook, error) {
	f.term = term
	var out []types.CatalogBook
	for _, b := range f.books {
		if strings.Contains(strings.ToLower(b.Title), strings.ToLower(term)) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakePurchases struct {
	lines   []types.CartLine
	userID  int
	updates []types.StockUpdate
	err     error
}

func (f *fakePurchases) Purchase(_ context.Context, userID int, lines []types.CartLine) ([]types.StockUpdate, error) {
	f.userID, f.lines = userID, lines
	return f.updates, f.err
}

type testAPI struct {
	router    *chi.Mux
	accounts  *fakeAccounts
	sessions  *fakeSessions
	catalog   *fakeCatalog
	purchases *fakePurchases
	hook      *test.Hook
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log, hook := test.NewNullLogger()
	api := &testAPI{
		accounts: &fakeAccounts{users: map[int]types.User{
			1: {ID: 1, Name: "ana", Email: "ana@x.com"},
			2: {ID: 2, Name: "bob", Email: "bob@x.com"},
		}},
		sessions:  &fakeSessions{loginUser: types.User{ID: 1, Email: "ana@x.com"}},
		catalog:   &fakeCatalog{},
		purchases: &fakePurchases{},
		hook:      hook,
	}

	authHandler := NewAuthHandler(api.accounts, api.sessions, CookieConfig{Secure: true}, log)
	bookHandler := NewBookHandler(api.catalog, api.purchases, log)
	noLimit := func(next http.Handler) http.Handler { return next }

	api.router = chi.NewRouter()
	api.router.Route("/api/usuarios", func(r chi.Router) {
		UsersRouter(r, authHandler, bookHandler, RequireSession(api.sessions, api.accounts, log), noLimit)
	})
	return api
}

func (a *testAPI) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func accessCookie(value string) *http.Cookie {
	return &http.Cookie{Name: AccessTokenCookie, Value: value}
}

var errBoom = errors.New("boom")
