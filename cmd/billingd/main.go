package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingd/core"
	"github.com/dmitrymomot/billingd/modules/account"
	billingmodule "github.com/dmitrymomot/billingd/modules/billing"
	"github.com/dmitrymomot/billingd/pkg/billing"
	"github.com/dmitrymomot/billingd/pkg/config"
	"github.com/dmitrymomot/billingd/pkg/httpserver"
	"github.com/dmitrymomot/billingd/pkg/jwt"
	"github.com/dmitrymomot/billingd/pkg/logger"
	"github.com/dmitrymomot/billingd/pkg/mailer"
	"github.com/dmitrymomot/billingd/pkg/mongodb"
	"github.com/dmitrymomot/billingd/pkg/ratelimiter"
	"github.com/dmitrymomot/billingd/pkg/redis"
)

type appConfig struct {
	Logger  logger.Config
	HTTP    httpserver.Config
	Mongo   mongodb.Config
	Redis   redis.Config
	Stripe  billing.StripeConfig
	Mailer  mailer.Config
	Account account.Config

	PlansFile    string        `env:"PLANS_FILE" envDefault:"plans.yaml"`
	ReminderLead time.Duration `env:"RENEWAL_REMINDER_LEAD" envDefault:"72h"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(cfg.Logger, logger.WithService("billingd"))
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	db, err := mongodb.Database(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Client().Disconnect(context.Background())
	}()

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store := billing.NewMongoUserStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}
	transitions := billing.NewMongoTransitionLog(db)
	if err := transitions.EnsureIndexes(ctx); err != nil {
		return err
	}

	gateway, err := billing.NewStripeGateway(cfg.Stripe)
	if err != nil {
		return err
	}

	catalog, err := billing.NewCatalog(ctx, billing.NewYAMLFileSource(cfg.PlansFile))
	if err != nil {
		return err
	}

	sender, err := mailer.NewPostmarkSender(cfg.Mailer)
	if err != nil {
		log.Warn("postmark not configured, falling back to dev sender", slog.Any("error", err))
		sender = mailer.NewDevSender(log)
	}
	dispatcher := billing.NewAsyncDispatcher(sender, log)
	defer dispatcher.Wait()

	reminders := billing.NewRenewalReminders(dispatcher, cfg.ReminderLead, log)
	go reminders.Run(ctx)

	checkout := billing.NewCheckoutService(catalog, gateway, store, dispatcher,
		billing.WithTransitionLog(transitions),
		billing.WithLogger(log),
	)
	reconciler := billing.NewReconciler(gateway, store, dispatcher, reminders,
		billing.WithReconcilerTransitionLog(transitions),
		billing.WithReconcilerLogger(log),
	)

	jwtSvc, err := jwt.New(cfg.Account.JWTSigningKey)
	if err != nil {
		return err
	}
	accountSvc := account.NewService(store, jwtSvc, cfg.Account)

	authMiddleware := jwt.Middleware[account.TokenClaims](jwtSvc, jwt.BearerTokenExtractor,
		func(w http.ResponseWriter, r *http.Request, err error) {
			core.JSONError(w, core.ErrUnauthorized)
		})

	cancelBucket, err := ratelimiter.NewBucket(
		ratelimiter.NewRedisStore(redisClient, "billingd:cancel"),
		ratelimiter.Config{Capacity: 5, RefillRate: 1, RefillInterval: time.Minute},
	)
	if err != nil {
		return err
	}
	cancelLimiter := ratelimiter.Middleware(cancelBucket, func(r *http.Request) string {
		if claims, ok := jwt.GetClaimsFromContext[account.TokenClaims](r.Context()); ok {
			return claims.UserID.String()
		}
		return ""
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(
		mongodb.Healthcheck(db.Client()),
		redis.Healthcheck(redisClient),
	))

	r.Mount("/account", account.Router(accountSvc, authMiddleware))
	r.Mount("/billing", billingmodule.Router(billingmodule.RouterOptions{
		Checkout:       checkout,
		Reconciler:     reconciler,
		AuthMiddleware: authMiddleware,
		CurrentUserID: func(r *http.Request) (uuid.UUID, bool) {
			claims, ok := jwt.GetClaimsFromContext[account.TokenClaims](r.Context())
			if !ok {
				return uuid.Nil, false
			}
			return claims.UserID, true
		},
		MintToken:     accountSvc.IssueToken,
		CancelLimiter: cancelLimiter,
	}))

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

func healthHandler(checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				core.JSONError(w, core.NewHTTPError(http.StatusServiceUnavailable, "unhealthy"))
				return
			}
		}
		core.JSONMessage(w, http.StatusOK, "ok")
	}
}
