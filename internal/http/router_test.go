package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/domain/user"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/ratelimit"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/geocoder89/aegisapi/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// rejectingAuth fails every login; other methods are not reached here.
type rejectingAuth struct {
	handlers.AuthService
}

func (rejectingAuth) Login(context.Context, services.LoginInput) (services.AuthResult, error) {
	return services.AuthResult{}, apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid credentials")
}

// listOnlyUsers answers the user list; other methods are not reached here.
type listOnlyUsers struct {
	handlers.UserAdminService
}

func (listOnlyUsers) ListUsers(context.Context, services.UserListInput) (services.UserPage, error) {
	return services.UserPage{Users: []user.User{}, Page: 1, Limit: 20}, nil
}

// echoResource mounts a list and a delete route behind the guard.
type echoResource struct{}

func (echoResource) Mount(rg *gin.RouterGroup, guard func(string) gin.HandlerFunc) {
	rg.GET("", guard(rbac.ActionRead), func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	rg.DELETE("/:id", guard(rbac.ActionDelete), func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	router *gin.Engine
	jwt    *auth.Manager
}

func newTestEnv(t *testing.T, pingers map[string]handlers.Pinger) testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	jwt := auth.NewManager("test-secret-key", 15*time.Minute, 7*24*time.Hour)
	r := NewRouter(RouterDeps{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Prom:     observability.NewProm(reg),
		Gatherer: reg,
		Verifier: jwt,
		Limiter:  ratelimit.New(ratelimit.NewMemoryStore()),
		Auth:     handlers.NewAuthHandler(rejectingAuth{}, false, 0),
		Users:    handlers.NewUsersHandler(listOnlyUsers{}),
		Resources: []Resource{
			{Path: "companies", RBACName: rbac.ResCompanies, Handler: echoResource{}},
		},
		Pingers: pingers,
	})
	return testEnv{router: r, jwt: jwt}
}

func (e testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e testEnv) token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(auth.Identity{UserID: "u1", Email: "u1@example.com", Username: "u1", Role: roles[0], Roles: roles})
	require.NoError(t, err)
	return tok
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
	})

	w := env.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = env.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRouter_ReadyzReportsDownDependency(t *testing.T) {
	env := newTestEnv(t, map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return errors.New("refused") }),
	})

	w := env.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), `"postgres":"down"`)
}

func TestRouter_APIRequiresAuthAndPermission(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/companies", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/companies", "", "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	userTok := env.token(t, "user")
	w = env.do(http.MethodGet, "/api/companies", "", userTok)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodDelete, "/api/companies/1", "", userTok)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodDelete, "/api/companies/1", "", env.token(t, "manager"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UserAdminRequiresUsersPermission(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/users", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/users", "", env.token(t, "user"))
	require.Equal(t, http.StatusForbidden, w.Code)

	manager := env.token(t, "manager")
	w = env.do(http.MethodGet, "/users", "", manager)
	require.Equal(t, http.StatusOK, w.Code)

	// read-only for managers
	w = env.do(http.MethodPost, "/users/bulk/deactivate", `{"userIds":["22222222-2222-2222-2222-222222222222"]}`, manager)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPut, "/auth/me/password", `{}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_LoginRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"login":"alice","password":"wrong-password"}`

	for i := 0; i < int(ratelimit.LoginRule.Limit); i++ {
		w := env.do(http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := env.do(http.MethodPost, "/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// a different account from the same address has its own budget
	w = env.do(http.MethodPost, "/auth/login", `{"login":"bob","password":"wrong-password"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AuthRejectsNonJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("email=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_OpenAPIListsResources(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/docs/openapi.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Paths map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Contains(t, doc.Paths, "/api/companies/{id}")
	require.Contains(t, doc.Paths["/api/companies/bulk"], "delete")
	require.Contains(t, doc.Paths, "/auth/login")

	w = env.do(http.MethodGet, "/docs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/docs/openapi.json")
}

func TestRouter_UnknownRouteUsesErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code       string `json:"code"`
			StatusCode int    `json:"statusCode"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, apperr.CodeNotFound, body.Error.Code)
	require.Equal(t, http.StatusNotFound, body.Error.StatusCode)
}
