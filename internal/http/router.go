package http

import (
	"log/slog"

	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/http/middlewares"
	"github.com/geocoder89/aegisapi/internal/observability"
	"github.com/geocoder89/aegisapi/internal/ratelimit"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const jsonBodyLimit = 1 << 20

type RouterDeps struct {
	Log         *slog.Logger
	Prom        *observability.Prom
	Gatherer    prometheus.Gatherer
	ServiceName string
	Production  bool
	CORSOrigins []string

	Verifier middlewares.TokenVerifier
	Limiter  *ratelimit.Limiter

	Auth          *handlers.AuthHandler
	Users         *handlers.UsersHandler
	Files         *handlers.FilesHandler
	MaxUploadSize int64
	Resources     []Resource
	Pingers       map[string]handlers.Pinger
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.Production))
	r.Use(middlewares.CORS(d.CORSOrigins))

	// health
	h := handlers.NewHealthHandler(d.Pingers)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// docs
	if !d.Production {
		doc := openAPIDocument(d.Resources)
		r.GET("/docs", handlers.SwaggerUI("/docs/openapi.json"))
		r.GET("/docs/openapi.json", func(c *gin.Context) { c.JSON(200, doc) })
	}

	authn := middlewares.NewAuthMiddleware(d.Verifier).RequireAuth()
	jsonOnly := []gin.HandlerFunc{middlewares.MaxBodyBytes(jsonBodyLimit), middlewares.RequireJSON()}

	// auth
	a := r.Group("/auth", jsonOnly...)
	{
		byIP := func(rule ratelimit.Rule) gin.HandlerFunc {
			return middlewares.RateLimit(d.Limiter, rule, middlewares.KeyByIP)
		}

		a.POST("/register", byIP(ratelimit.RegisterRule), d.Auth.Register)
		a.POST("/login", middlewares.RateLimit(d.Limiter, ratelimit.LoginRule, middlewares.KeyByIPAndLogin), d.Auth.Login)
		a.POST("/refresh", byIP(ratelimit.RefreshRule), d.Auth.Refresh)
		a.POST("/logout", d.Auth.Logout)

		a.POST("/unlock-account", byIP(ratelimit.LoginRule), d.Auth.UnlockAccount)
		a.POST("/verify-email", byIP(ratelimit.LoginRule), d.Auth.VerifyEmail)
		a.POST("/resend-verification", byIP(ratelimit.RegisterRule), d.Auth.ResendVerification)
		a.POST("/request-password-reset", byIP(ratelimit.RegisterRule), d.Auth.RequestPasswordReset)
		a.POST("/verify-reset-token", byIP(ratelimit.LoginRule), d.Auth.VerifyResetToken)
		a.POST("/reset-password", byIP(ratelimit.LoginRule), d.Auth.ResetPassword)

		a.GET("/me", authn, d.Auth.Me)
		a.PUT("/me", authn, d.Auth.UpdateMe)
		a.PUT("/me/password", authn, d.Auth.ChangePassword)
		a.GET("/permissions", authn, d.Auth.Permissions)
	}

	// user administration
	if d.Users != nil {
		perm := func(action string) gin.HandlerFunc { return middlewares.RequirePermission(rbac.ResUsers, action) }

		u := r.Group("/users", append([]gin.HandlerFunc{authn}, jsonOnly...)...)
		u.GET("", perm(rbac.ActionRead), d.Users.List)
		u.GET("/:id", perm(rbac.ActionRead), d.Users.Get)
		u.POST("/bulk/activate", perm(rbac.ActionUpdate), d.Users.BulkActivate)
		u.POST("/bulk/deactivate", perm(rbac.ActionUpdate), d.Users.BulkDeactivate)
		u.POST("/:id/roles", perm(rbac.ActionUpdate), d.Users.AssignRoles)
		u.DELETE("/:id/roles/:role", perm(rbac.ActionUpdate), d.Users.RemoveRole)
	}

	// files (multipart upload, so no RequireJSON)
	if d.Files != nil {
		perm := func(action string) gin.HandlerFunc { return middlewares.RequirePermission(rbac.ResFiles, action) }

		f := r.Group("/files", authn)
		f.POST("", perm(rbac.ActionCreate), middlewares.MaxBodyBytes(d.MaxUploadSize+jsonBodyLimit), d.Files.Upload)
		f.GET("/:id", perm(rbac.ActionRead), d.Files.Download)
		f.GET("/:id/metadata", perm(rbac.ActionRead), d.Files.Metadata)
		f.DELETE("/:id", perm(rbac.ActionDelete), d.Files.Delete)
	}

	// catalogue
	api := r.Group("/api", append([]gin.HandlerFunc{authn}, jsonOnly...)...)
	for _, res := range d.Resources {
		name := res.RBACName
		res.Handler.Mount(api.Group("/"+res.Path), func(action string) gin.HandlerFunc {
			return middlewares.RequirePermission(name, action)
		})
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.RespondNotFound(c, "route "+c.Request.Method+" "+c.Request.URL.Path+" not found")
	})

	return r
}
