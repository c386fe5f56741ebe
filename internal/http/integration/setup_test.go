package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/db"
	"github.com/geocoder89/aegisapi/internal/notifications"
	"github.com/geocoder89/aegisapi/internal/repo/postgres"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testSecret = "integration-secret-integration-secret"

var quietLog = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

// openTestDB connects to TEST_DB_DSN, applies the migrations and empties
// every table the suite touches.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	resetDB(t, pool)
	return pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE inventory, drug_pack_ratios, contract_items, budget_allocations, companies,
			stored_files, auth_tokens, refresh_tokens, user_departments, user_roles, users, departments
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// linkCapture keeps the last one-time token sent per purpose.
type linkCapture struct {
	mu   sync.Mutex
	last map[string]string
}

func (c *linkCapture) SendAuthLink(_ context.Context, in notifications.AuthLinkInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = map[string]string{}
	}
	c.last[in.Purpose] = in.Token
	return nil
}

func (c *linkCapture) token(t *testing.T, purpose string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.last[purpose]
	if tok == "" {
		t.Fatalf("no %s link was sent", purpose)
	}
	return tok
}

type authEnv struct {
	pool  *pgxpool.Pool
	store *postgres.Store
	svc   *services.AuthService
	links *linkCapture
	jwt   *auth.Manager
}

func newAuthEnv(t *testing.T) authEnv {
	t.Helper()
	pool := openTestDB(t)
	store := postgres.NewStore(pool, nil)
	links := &linkCapture{}
	jwt := auth.NewManager(testSecret, 15*time.Minute, 7*24*time.Hour)

	svc := services.NewAuthService(services.AuthDeps{
		Users:         store.Users(),
		RefreshTokens: store.RefreshTokens(),
		AuthTokens:    store.AuthTokens(),
		Tx:            services.PostgresTransactor{Store: store},
		JWT:           jwt,
		Notifier:      links,
		Log:           quietLog,
	}, services.AuthConfig{MaxLoginAttempts: 3, LockoutDuration: 15 * time.Minute})

	return authEnv{pool: pool, store: store, svc: svc, links: links, jwt: jwt}
}

func (e authEnv) register(t *testing.T, email, username string) services.AuthResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), services.RegisterInput{
		Email:     email,
		Username:  username,
		Password:  "correct-horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return res
}

func (e authEnv) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	if _, err := e.pool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

func (e authEnv) count(t *testing.T, sql string, args ...any) int {
	t.Helper()
	var n int
	if err := e.pool.QueryRow(context.Background(), sql, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", sql, err)
	}
	return n
}

func (e authEnv) activeSessions(t *testing.T, userID string) int {
	t.Helper()
	return e.count(t, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL`, userID)
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", code)
	}
	if got := apperr.From(err).Code; got != code {
		t.Fatalf("expected error %s, got %s (%v)", code, got, err)
	}
}

// helpers

func doRequest(router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func mustReadJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode JSON: %v; body=%s", err, rr.Body.String())
	}
	return v
}
