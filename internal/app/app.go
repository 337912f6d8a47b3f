package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirinyoku/flight-wizard/internal/clock"
	"github.com/kirinyoku/flight-wizard/internal/config"
	"github.com/kirinyoku/flight-wizard/internal/redis"
	redisrepo "github.com/kirinyoku/flight-wizard/internal/repository/redis"
	"github.com/kirinyoku/flight-wizard/internal/service"
	"github.com/kirinyoku/flight-wizard/internal/service/booking"
	httpgin "github.com/kirinyoku/flight-wizard/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

const evictEvery = time.Minute

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	rdb        *goredis.Client
	pubsub     *redisrepo.WizardPubSub
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps := booking.Deps{
		Clock:  clock.NewSystem(),
		Logger: logger,
	}

	var (
		rdb    *goredis.Client
		pubsub *redisrepo.WizardPubSub
		idem   *redisrepo.IdempotencyStore
	)

	if cfg.Redis.Enabled() {
		var err error
		rdb, err = redis.New(context.Background(), redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}

		pubsub = redisrepo.NewWizardPubSub(rdb)
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Wizard.IdempotencyTTL)

		deps.Publisher = pubsub
		deps.SeatMaps = redisrepo.NewSeatMapCache(redisrepo.New(rdb), cfg.Wizard.SeatMapTTL)
		if cfg.RateLimit.PerMinute > 0 {
			deps.Limiter = redisrepo.NewSlidingWindowLimiter(rdb, "sessions", cfg.RateLimit.PerMinute, time.Minute)
		}
	} else {
		logger.Warn("REDIS_ADDR not set, running without cache, rate limiting, idempotency and change fan-out")
	}

	services := service.NewServices(deps, service.Config{
		Booking: booking.Config{IdleTTL: cfg.Wizard.IdleTTL},
	})

	router := httpgin.NewRouter(services, idem, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		rdb:      rdb,
		pubsub:   pubsub,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if a.rdb != nil {
		defer a.rdb.Close()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(evictEvery)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				a.services.Booking.EvictIdle(gCtx)
			}
		}
	})

	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, msg redisrepo.WizardChanged) {
				a.logger.Debug("wizard changed", "session_id", msg.SessionID, "state", msg.State)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("wizard change subscription: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
