package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

type bindErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code       string              `json:"code"`
		Message    string              `json:"message"`
		StatusCode int                 `json:"statusCode"`
		Details    []apperr.FieldError `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"requestId"`
		Timestamp string `json:"timestamp"`
	} `json:"meta"`
}

type signupBody struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,username"`
	Password string `json:"password" binding:"required,min=8"`
}

func newBindRouter(t *testing.T) *gin.Engine {
	t.Helper()
	if err := handlers.RegisterValidators(); err != nil {
		t.Fatalf("register validators: %v", err)
	}

	r := gin.New()
	r.POST("/signup", func(ctx *gin.Context) {
		var req signupBody
		if !handlers.BindJSON(ctx, &req) {
			return
		}
		ctx.Status(http.StatusCreated)
	})
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBindJSON_ValidationErrorsUseJSONFieldNames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newBindRouter(t)

	w := postJSON(r, "/signup", `{"email":"not-an-email","username":"a!","password":"short"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}

	var resp bindErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v body=%s", err, w.Body.String())
	}

	if resp.Success || resp.Error.Code != apperr.CodeValidation || resp.Error.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Meta.RequestID != "req-1" || resp.Meta.Timestamp == "" {
		t.Fatalf("unexpected meta: %+v", resp.Meta)
	}

	wantRules := map[string]string{
		"email":    "email",
		"username": "username",
		"password": "min",
	}

	found := map[string]apperr.FieldError{}
	for _, fe := range resp.Error.Details {
		found[fe.Field] = fe
	}

	for field, rule := range wantRules {
		fe, ok := found[field]
		if !ok {
			t.Fatalf("missing field error for %q: %+v", field, resp.Error.Details)
		}
		if fe.Code != rule {
			t.Fatalf("field %q rule mismatch: got %q want %q", field, fe.Code, rule)
		}
		if fe.Message == "" {
			t.Fatalf("field %q should include a non-empty message", field)
		}
	}
}

func TestBindJSON_SyntaxAndTypeErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newBindRouter(t)

	tests := []struct {
		name      string
		body      string
		wantField string
		wantCode  string
	}{
		{"bad syntax", `{"email":`, "body", "invalid_json"},
		{"wrong type", `{"email":"a@b.co","username":"ada","password":123456789}`, "password", "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/signup", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}

			var resp bindErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(resp.Error.Details) != 1 {
				t.Fatalf("details=%+v", resp.Error.Details)
			}
			if got := resp.Error.Details[0]; got.Field != tt.wantField || got.Code != tt.wantCode {
				t.Fatalf("got %+v, want field=%s code=%s", got, tt.wantField, tt.wantCode)
			}
		})
	}
}

func TestBindJSON_ValidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newBindRouter(t)

	w := postJSON(r, "/signup", `{"email":"ada@example.com","username":"ada.l","password":"long-enough"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
