package middlewares

// gin context keys set by the middlewares in this package.
const (
	CtxRequestID = "request_id"
	CtxUserID    = "auth.userID"
	CtxRoles     = "auth.roles"
	CtxEmail     = "auth.email"
)
