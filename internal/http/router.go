package http

import (
	"log/slog"
	"net/http"

	"github.com/geocoder89/accounthub/internal/avatar"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Log          *slog.Logger
	Env          string
	ServiceName  string
	Users        *handlers.UsersHandler
	Health       *handlers.HealthHandler
	Auth         *middlewares.AuthMiddleware
	RateLimiter  *middlewares.RateLimiter
	Prom         *observability.Prom
	Gatherer     prometheus.Gatherer
	CORSOrigins  []string
	MaxBodyBytes int64
	// AvatarMaxBytes caps the multipart upload on PATCH /avatar.
	AvatarMaxBytes int64
	// AvatarsDir is served at /avatars when avatars are stored locally.
	AvatarsDir string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.ServiceName == "" {
		d.ServiceName = "accounthub-api"
	}

	handlers.RegisterValidators()

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(d.ServiceName))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))

	if d.Health != nil {
		r.GET("/healthz", d.Health.Healthz)
		r.GET("/readyz", d.Health.Readyz)
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	if d.AvatarsDir != "" {
		r.StaticFS("/"+avatar.PublicPrefix, gin.Dir(d.AvatarsDir, false))
	}

	public := func(c *gin.Context) { c.Next() }
	private := func(c *gin.Context) { c.Next() }
	if d.RateLimiter != nil {
		public = d.RateLimiter.RateLimiterMiddleware("users_public", middlewares.KeyByIP)
		private = d.RateLimiter.RateLimiterMiddleware("users_private", middlewares.KeyByUserOrIP)
	}

	limit := middlewares.MaxBodyBytes(d.MaxBodyBytes)
	requireJSON := middlewares.RequireJSON()

	users := r.Group("/api/users")
	{
		users.POST("/register", public, limit, requireJSON, d.Users.Register)
		users.GET("/verify/:verificationToken", public, d.Users.Verify)
		users.POST("/verify", public, limit, requireJSON, d.Users.ResendVerify)
		users.POST("/login", public, limit, requireJSON, d.Users.Login)

		authed := users.Group("")
		authed.Use(d.Auth.RequireAuth(), private)
		authed.GET("/current", d.Users.Current)
		authed.POST("/logout", d.Users.Logout)
		authed.PATCH("/subscription", limit, requireJSON, d.Users.Subscription)
		authed.PATCH("/avatar", middlewares.MaxBodyBytes(d.AvatarMaxBytes), d.Users.Avatar)
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.RespondError(c, http.StatusNotFound, "not_found", "Not found", nil)
	})

	return r
}
