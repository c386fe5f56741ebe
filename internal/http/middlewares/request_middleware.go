package middlewares

import (
	"log/slog"
	"time"

	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)
		ctx.Set(CtxRequestID, id)
		ctx.Request = ctx.Request.WithContext(observability.WithRequestID(ctx.Request.Context(), id))

		ctx.Next()
	}
}

func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path // fallback (e.g. 404)
		}

		method := ctx.Request.Method

		ctx.Next()

		status := ctx.Writer.Status()
		attrs := []any{
			"method", method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		if id, ok := UserIDFromContext(ctx); ok {
			attrs = append(attrs, "user_id", id)
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		// request_id comes from the context via the trace handler
		log.Log(ctx.Request.Context(), level, "http_request", attrs...)
	}
}
