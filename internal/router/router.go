package router // package router wires handlers and middleware onto echo

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/handler"
	"github.com/iliyamo/camp-seat-checkout/internal/middleware"
	"github.com/iliyamo/camp-seat-checkout/internal/utils"
)

// Handlers groups the endpoint handlers registered by RegisterRoutes.
type Handlers struct {
	Catalog  *handler.CatalogHandler
	Checkout *handler.CheckoutHandler
	Webhook  *handler.WebhookHandler
	Admin    *handler.AdminHandler
	Auth     *handler.AuthHandler
}

// Options carries the middleware settings.  Redis may be nil, in which
// case the catalog cache and the checkout rate limit are disabled.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	Cache          config.CacheConfig
	RateLimit      config.RateLimitConfig
	Redis          *redis.Client
	Log            zerolog.Logger
}

// RegisterRoutes registers every endpoint of the service.
//
//    GET  /healthz
//    GET  /api/catalog                       cached
//    POST /api/create-checkout-session       rate limited
//    POST /api/webhooks                      provider signature
//    POST /v1/auth/login                     rate limited
//    GET  /v1/admin/slots                    ADMIN
//    POST /v1/admin/sessions/:id/reconcile   ADMIN
func RegisterRoutes(e *echo.Echo, h Handlers, opt Options) {
	e.Use(middleware.Recover(opt.Log))
	e.Use(middleware.RequestLogger(opt.Log))
	// root level so preflight requests, which match no route, get the headers
	e.Use(middleware.CORS(opt.AllowedOrigins))

	e.GET("/healthz", handler.Health)

	api := e.Group("/api")
	api.GET("/catalog", h.Catalog.List, middleware.NewRedisCache(opt.Cache, opt.Redis, opt.Log))
	api.POST("/create-checkout-session", h.Checkout.Create, middleware.NewTokenBucket(opt.RateLimit, opt.Redis, opt.Log))
	api.POST("/webhooks", h.Webhook.Receive)

	e.POST("/v1/auth/login", h.Auth.Login, middleware.NewTokenBucket(opt.RateLimit, opt.Redis, opt.Log))

	admin := e.Group("/v1/admin", middleware.JWTAuth(opt.JWTSecret), middleware.RequireRole(utils.RoleAdmin))
	admin.GET("/slots", h.Admin.Slots)
	admin.POST("/sessions/:id/reconcile", h.Admin.Reconcile)
}
