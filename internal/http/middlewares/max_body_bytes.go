package middlewares

import (
	"net/http"

	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps the request body. Requests that declare a larger
// Content-Length are refused up front; the rest fail on read.
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.ContentLength > limit {
			handlers.RespondError(ctx, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			ctx.Abort()
			return
		}
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)

		ctx.Next()
	}
}
