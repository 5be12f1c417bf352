package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/store"
	"github.com/libroteca/apiserver/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// memRepos is an in-memory Repositories. Writes apply immediately; tests
// check rollback through sqlmock expectations and by asserting that no
// write happened.
type memRepos struct {
	mu     sync.Mutex
	users  map[int]types.User
	books  map[int]types.Book
	nextID int
	writes int

	lockErr   error
	updateErr error
	swapMiss  bool
}

func newMemRepos() *memRepos {
	return &memRepos{users: map[int]types.User{}, books: map[int]types.Book{}, nextID: 1}
}

func (m *memRepos) Users(db.Querier) UserRepository { return memUsers{m} }
func (m *memRepos) Books(db.Querier) BookRepository { return memBooks{m} }

func (m *memRepos) addBook(b types.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

func (m *memRepos) book(id int) types.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[id]
}

func (m *memRepos) user(id int) types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type memUsers struct{ m *memRepos }

func (r memUsers) GetByID(_ context.Context, id int) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r memUsers) GetByIDForUpdate(ctx context.Context, id int) (types.User, error) {
	return r.GetByID(ctx, id)
}

func (r memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == user.Email || u.Name == user.Name {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = r.m.nextID
	r.m.nextID++
	r.m.users[user.ID] = user
	r.m.writes++
	return user, nil
}

func (r memUsers) SwapRefreshToken(_ context.Context, id int, expected, next *string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.swapMiss {
		return false, nil
	}
	u, ok := r.m.users[id]
	if !ok || !sameToken(u.RefreshToken, expected) {
		return false, nil
	}
	if next != nil {
		v := *next
		u.RefreshToken = &v
	} else {
		u.RefreshToken = nil
	}
	r.m.users[id] = u
	r.m.writes++
	return true, nil
}

func sameToken(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type memBooks struct{ m *memRepos }

func (r memBooks) sorted(filter func(types.Book) bool) []types.Book {
	out := []types.Book{}
	for _, b := range r.m.books {
		if filter == nil || filter(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (r memBooks) List(context.Context) ([]types.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.sorted(nil), nil
}

func (r memBooks) Search(_ context.Context, term string) ([]types.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	term = strings.ToLower(term)
	return r.sorted(func(b types.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), term) || strings.Contains(strings.ToLower(b.Author), term)
	}), nil
}

func (r memBooks) GetByID(_ context.Context, id int) (types.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.books[id]
	if !ok {
		return types.Book{}, store.ErrNotFound
	}
	return b, nil
}

func (r memBooks) LockByIDs(_ context.Context, ids []int) (map[int]types.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.lockErr != nil {
		return nil, r.m.lockErr
	}
	out := map[int]types.Book{}
	for _, id := range ids {
		if b, ok := r.m.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (r memBooks) LockAll(context.Context) ([]types.Book, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.sorted(nil), nil
}

func (r memBooks) UpdateQuantity(_ context.Context, id, quantity int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.updateErr != nil {
		return r.m.updateErr
	}
	b, ok := r.m.books[id]
	if !ok {
		return store.ErrNotFound
	}
	b.QuantityAvailable = quantity
	r.m.books[id] = b
	r.m.writes++
	return nil
}

func (r memBooks) UpdateStockAndPrice(_ context.Context, id, quantity, price int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.books[id]
	if !ok {
		return store.ErrNotFound
	}
	b.QuantityAvailable = quantity
	b.Price = price
	r.m.books[id] = b
	r.m.writes++
	return nil
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func newTestLogger() (logrus.FieldLogger, *test.Hook) {
	return test.NewNullLogger()
}

type recordingObserver struct {
	mu       sync.Mutex
	units    int
	rejected []string
	sessions []string
}

func (o *recordingObserver) PurchaseCompleted(units int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.units += units
}

func (o *recordingObserver) PurchaseRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) Session(event, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, event+":"+outcome)
}
