package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/gin-gonic/gin"
)

// CtxRequestID is the gin context key holding the request id.
const CtxRequestID = "request_id"

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	StatusCode int    `json:"statusCode"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

type Meta struct {
	RequestID  string      `json:"requestId,omitempty"`
	Timestamp  string      `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    Meta      `json:"meta"`
}

func RequestIDFrom(ctx *gin.Context) string {
	if v, ok := ctx.Get(CtxRequestID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func meta(ctx *gin.Context) Meta {
	return Meta{
		RequestID: RequestIDFrom(ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func Respond(ctx *gin.Context, status int, data any, message string) {
	ctx.JSON(status, Envelope{Success: true, Data: data, Message: message, Meta: meta(ctx)})
}

func OK(ctx *gin.Context, data any, message string) {
	Respond(ctx, http.StatusOK, data, message)
}

func Created(ctx *gin.Context, data any, message string) {
	Respond(ctx, http.StatusCreated, data, message)
}

func OKPage(ctx *gin.Context, data any, p Pagination) {
	m := meta(ctx)
	m.Pagination = &p
	ctx.JSON(http.StatusOK, Envelope{Success: true, Data: data, Meta: m})
}

func RespondError(ctx *gin.Context, status int, code, message string, details any) {
	ctx.JSON(status, Envelope{
		Success: false,
		Error: &APIError{
			Code:       code,
			Message:    message,
			Details:    details,
			StatusCode: status,
		},
		Meta: meta(ctx),
	})
}

// RespondErr writes err as an error envelope. Anything that is not an
// *apperr.Error is logged and reported as a generic 500.
func RespondErr(ctx *gin.Context, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		slog.Default().ErrorContext(ctx.Request.Context(), "request failed",
			"route", ctx.FullPath(),
			"request_id", RequestIDFrom(ctx),
			"err", err,
		)
	}
	RespondError(ctx, ae.Status(), ae.Code, ae.Message, ae.Details)
}

func AbortErr(ctx *gin.Context, err error) {
	RespondErr(ctx, err)
	ctx.Abort()
}

func RespondBadRequest(ctx *gin.Context, message string, details any) {
	RespondError(ctx, http.StatusBadRequest, apperr.CodeValidation, message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, apperr.CodeNotFound, message, nil)
}
