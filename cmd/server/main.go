package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/camp-seat-checkout/internal/catalog"
	"github.com/iliyamo/camp-seat-checkout/internal/checkout"
	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/database"
	"github.com/iliyamo/camp-seat-checkout/internal/handler"
	"github.com/iliyamo/camp-seat-checkout/internal/logging"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/queue"
	"github.com/iliyamo/camp-seat-checkout/internal/reconcile"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
	"github.com/iliyamo/camp-seat-checkout/internal/router"
	queue_publisher "github.com/iliyamo/camp-seat-checkout/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional outside local development

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(os.Stderr, "info", "json")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBParams())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	pricingCfg := config.LoadPricingConfig()
	holdCfg := config.LoadHoldConfig()
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn().Msg("redis unreachable: cache and rate limit disabled")
	} else {
		defer rdb.Close()
	}

	offerings := repository.NewOfferingRepo(db)
	variants := repository.NewVariantRepo(db)
	buyers := repository.NewBuyerRepo(db)

	// Interfaces stay nil, not typed-nil, when holds are off.
	var holder checkout.SeatHolder
	var releaser reconcile.HoldReleaser
	var heldCounter handler.HeldCounter
	switch {
	case !holdCfg.Enabled:
		log.Warn().Msg("seat holds disabled: capacity check is advisory and concurrent checkouts may oversell the last seats")
	case holdCfg.Backend == config.HoldBackendRedis && rdb != nil:
		holds := repository.NewHoldStore(rdb, holdCfg.Prefix)
		holder, releaser, heldCounter = holds, holds, holds
		log.Info().Str("backend", holdCfg.Backend).Dur("ttl", holdCfg.TTL).Msg("seat holds enabled")
	default:
		holds := repository.NewSeatHoldRepo(db)
		holder, releaser, heldCounter = holds, holds, holds
		log.Info().Str("backend", config.HoldBackendMySQL).Dur("ttl", holdCfg.TTL).Msg("seat holds enabled")
	}

	provider := payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil, logging.Component(log, "stripe"))
	builder := checkout.NewBuilder(checkout.Deps{
		Variants: variants,
		Holds:    holder,
		Buyers:   buyers,
		Provider: provider,
	}, pricingCfg, config.LoadValidationConfig(), holdCfg,
		checkout.URLs{Success: cfg.SuccessURL, Cancel: cfg.ReturnURL},
		logging.Component(log, "checkout"))

	reconciler := reconcile.New(reconcile.Deps{
		Provider:  provider,
		Variants:  variants,
		Counters:  variants,
		Holds:     releaser,
		Publisher: queue_publisher.New(cfg.RabbitURL, logging.Component(log, "publisher")),
	}, logging.Component(log, "reconcile"))

	cat := catalog.NewService(offerings, variants, pricingCfg.SiblingTier, logging.Component(log, "catalog"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterRoutes(e, router.Handlers{
		Catalog:  handler.NewCatalogHandler(cat, log),
		Checkout: handler.NewCheckoutHandler(builder, log),
		Webhook:  handler.NewWebhookHandler(provider, reconciler, log),
		Admin:    handler.NewAdminHandler(variants, heldCounter, reconciler, log),
		Auth:     handler.NewAuthHandler(repository.NewOperatorRepo(db), cfg.JWTSecret, time.Duration(cfg.AccessTTLMin)*time.Minute, log),
	}, router.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Cache:          config.LoadCacheConfig(),
		RateLimit:      config.LoadRateLimitConfig(),
		Redis:          rdb,
		Log:            log,
	})

	consumer := queue.NewConsumer(cfg.RabbitURL, "logs", logging.Component(log, "booking_consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	return g.Wait()
}
