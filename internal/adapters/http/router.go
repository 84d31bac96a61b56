package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Dial/internal/adapters/signal"
	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/app/calls"
	"github.com/dkeye/Dial/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Deps are the services the router exposes.
type Deps struct {
	Registry *app.Registry
	Calls    *calls.Manager
	Signal   *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("DialSessions", store))

	h := &handlers{
		registry: deps.Registry,
		calls:    deps.Calls,
		limiter:  NewWindowRateLimiter(cfg.Calls.InitiateLimit, cfg.Calls.InitiateWindow),
	}

	api := r.Group("/api")

	api.GET("/ws/:user_id", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.Param("user_id")).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})
	api.POST("/session", h.login)
	api.GET("/users/:id/presence", h.presence)
	api.GET("/professionals", h.professionals)

	authed := api.Group("", IdentityMiddleware(deps.Registry))
	authed.GET("/me", h.me)
	authed.PUT("/status", h.setStatus)
	authed.POST("/call/initiate", h.initiate)
	authed.POST("/call/:id/accept", h.accept)
	authed.POST("/call/:id/end", h.end)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
