package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/config"
	"github.com/yuta-hayashi/eventcap/internal/gateway"
	"github.com/yuta-hayashi/eventcap/internal/mailer"
	"github.com/yuta-hayashi/eventcap/internal/postgres"
	"github.com/yuta-hayashi/eventcap/internal/redis"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	redisrepo "github.com/yuta-hayashi/eventcap/internal/repository/redis"
	"github.com/yuta-hayashi/eventcap/internal/service"
	"github.com/yuta-hayashi/eventcap/internal/service/refund"
	"github.com/yuta-hayashi/eventcap/internal/service/reservation"
	httpgin "github.com/yuta-hayashi/eventcap/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	services   *service.Services
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisrepo.NewCapacityPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(
		rdb,
		"reserve",
		cfg.Rate.ReserveLimit,
		cfg.Rate.ReserveWindow,
	)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	gw, err := newGateway(cfg.Gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	mail, err := mailer.New(mailer.Config{
		Provider:    cfg.Mailer.Provider,
		FromAddress: cfg.Mailer.FromAddress,
		FromName:    cfg.Mailer.FromName,
		SES: mailer.SESConfig{
			Region:          cfg.Mailer.SESRegion,
			AccessKeyID:     cfg.Mailer.SESAccessKeyID,
			SecretAccessKey: cfg.Mailer.SESSecretAccessKey,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, gw, mail, clock.Real{}, logger, service.Config{
		Reservation: reservation.Config{
			DefaultTTL: cfg.Hold.DefaultTTL,
			MinTTL:     cfg.Hold.MinTTL,
			MaxTTL:     cfg.Hold.MaxTTL,
		},
		Refund: refund.Config{DefaultCurrency: cfg.Refund.DefaultCurrency},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func newGateway(cfg config.GatewayConfig) (gateway.Gateway, error) {
	switch cfg.Provider {
	case "stripe":
		return gateway.NewStripeGateway(gateway.StripeConfig{SecretKey: cfg.StripeSecretKey})
	case "square":
		return gateway.NewSquareGateway(gateway.SquareConfig{
			AccessToken: cfg.SquareAccessToken,
			Environment: cfg.SquareEnvironment,
		})
	case "mock":
		return gateway.NewMock(), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Background sweep frees capacity behind reservations that expired
	// without ever being touched again.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Hold.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				n, err := a.services.Reservation.Expire(gCtx)
				if err != nil {
					a.logger.Error("reservation sweep failed", "error", err)
					continue
				}
				if n > 0 {
					a.logger.Info("reservation sweep", "expired", n)
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
