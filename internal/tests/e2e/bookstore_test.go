//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/logging"
	"github.com/libroteca/apiserver/internal/server"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres host: %v\n", err)
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres port: %v\n", err)
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}

	srvCtx, stop := context.WithCancel(context.Background())
	done, err := startServer(srvCtx, host, port.Int())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		stop()
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stop()
		<-done
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}

	code := m.Run()

	stop()
	<-done
	_ = testcontainers.TerminateContainer(container)
	os.Exit(code)
}

func TestSessionAndPurchaseFlow(t *testing.T) {
	client := newClient(t)
	email := fmt.Sprintf("lector_%d@example.com", time.Now().UnixNano())
	password := "testpass123"

	status, err := postJSON(client, "/api/usuarios/registro", map[string]string{
		"nombre":     fmt.Sprintf("lector%d", time.Now().UnixNano()%1_000_000),
		"correo":     email,
		"contraseña": password,
	}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if status != http.StatusCreated {
		t.Fatalf("register: unexpected status %d", status)
	}

	var login struct {
		UserID int `json:"usuarioId"`
	}
	status, err = postJSON(client, "/api/usuarios/login", map[string]string{
		"correo":     email,
		"contraseña": password,
	}, &login)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if status != http.StatusOK || login.UserID == 0 {
		t.Fatalf("login: status %d, user id %d", status, login.UserID)
	}
	userPath := fmt.Sprintf("/api/usuarios/%d", login.UserID)

	var catalog struct {
		Books []struct {
			ID       int    `json:"id"`
			Title    string `json:"titulo"`
			Quantity int    `json:"cantidad_disponible"`
		} `json:"libros"`
	}
	status, err = getJSON(client, userPath+"/libros", &catalog)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if status != http.StatusOK || len(catalog.Books) == 0 {
		t.Fatalf("list books: status %d, %d books", status, len(catalog.Books))
	}

	book := catalog.Books[0]
	for _, b := range catalog.Books {
		if b.Quantity > book.Quantity {
			book = b
		}
	}

	status, err = postJSON(client, userPath+"/libros/compras", []map[string]any{
		{"id": book.ID, "titulo": book.Title, "cantidad": book.Quantity + 1},
	}, nil)
	if err != nil {
		t.Fatalf("oversized purchase: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("oversized purchase: expected 400, got %d", status)
	}

	var purchase struct {
		Updates []struct {
			ID        int `json:"id"`
			Remaining int `json:"cantidad_disponible"`
		} `json:"stockActualizado"`
	}
	status, err = postJSON(client, userPath+"/libros/compras", []map[string]any{
		{"id": book.ID, "titulo": book.Title, "cantidad": 1},
	}, &purchase)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("purchase: unexpected status %d", status)
	}
	if len(purchase.Updates) != 1 || purchase.Updates[0].Remaining != book.Quantity-1 {
		t.Fatalf("purchase: unexpected stock update %+v", purchase.Updates)
	}

	staleRefresh := cookieValue(t, client, "refreshToken")
	status, err = postJSON(client, userPath+"/refrescar", nil, nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("refresh: unexpected status %d", status)
	}
	if cookieValue(t, client, "refreshToken") == staleRefresh {
		t.Fatalf("refresh: token was not rotated")
	}

	replay := newClient(t)
	setCookie(t, replay, "refreshToken", staleRefresh)
	status, err = postJSON(replay, userPath+"/refrescar", nil, nil)
	if err != nil {
		t.Fatalf("replay refresh: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("replay refresh: expected 401, got %d", status)
	}

	status, err = postJSON(client, userPath+"/logout", nil, nil)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("logout: unexpected status %d", status)
	}

	status, err = getJSON(client, userPath+"/libros", nil)
	if err != nil {
		t.Fatalf("list after logout: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("list after logout: expected 401, got %d", status)
	}
}

func TestBooksRequireSession(t *testing.T) {
	status, err := getJSON(newClient(t), "/api/usuarios/1/libros", nil)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func cookieValue(t *testing.T, client *http.Client, name string) string {
	t.Helper()
	u, _ := url.Parse(baseURL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %q not set", name)
	return ""
}

func setCookie(t *testing.T, client *http.Client, name, value string) {
	t.Helper()
	u, _ := url.Parse(baseURL)
	client.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func postJSON(client *http.Client, path string, body any, out any) (int, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, out)
}

func getJSON(client *http.Client, path string, out any) (int, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) (int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, error) {
	return postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("libroteca"),
		postgres.WithUsername("libroteca"),
		postgres.WithPassword("libroteca"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

// startServer migrates the database and serves the API until ctx is done.
func startServer(ctx context.Context, dbHost string, dbPort int) (<-chan struct{}, error) {
	_ = os.Setenv("SECRET_KEY", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("COOKIE_SECURE", "false")
	_ = os.Setenv("RATE_LIMIT_RPS", "100")
	_ = os.Setenv("RATE_LIMIT_BURST", "100")
	_ = os.Setenv("DB_HOST", dbHost)
	_ = os.Setenv("DB_PORT", fmt.Sprintf("%d", dbPort))
	_ = os.Setenv("DB_USER", "libroteca")
	_ = os.Setenv("DB_PASSWORD", "libroteca")
	_ = os.Setenv("DB_NAME", "libroteca")
	_ = os.Setenv("DB_USE_SSL", "false")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(cfg.Database.URL()); err != nil {
		return nil, err
	}

	log, err := logging.New(io.Discard, "error", "text")
	if err != nil {
		return nil, err
	}
	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Start(ctx)
	}()
	return done, nil
}
