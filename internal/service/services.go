package service

import (
	"log/slog"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/gateway"
	"github.com/yuta-hayashi/eventcap/internal/mailer"
	postgres "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	redis "github.com/yuta-hayashi/eventcap/internal/repository/redis"
	"github.com/yuta-hayashi/eventcap/internal/service/admin"
	"github.com/yuta-hayashi/eventcap/internal/service/credits"
	"github.com/yuta-hayashi/eventcap/internal/service/query"
	"github.com/yuta-hayashi/eventcap/internal/service/refund"
	"github.com/yuta-hayashi/eventcap/internal/service/registration"
	"github.com/yuta-hayashi/eventcap/internal/service/reservation"
)

type Services struct {
	Reservation  *reservation.Service
	Registration *registration.Service
	Refund       *refund.Service
	Credits      *credits.Service
	Query        *query.Service
	Admin        *admin.Service
}

type Config struct {
	Reservation reservation.Config
	Refund      refund.Config
	Query       query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.CapacityPubSub,
	limiter *redis.SlidingWindowLimiter,
	gw gateway.Gateway,
	mail mailer.Mailer,
	clk clock.Clock,
	log *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Reservation: reservation.New(
			store.Events(),
			store.Reservations(),
			store.Credits(),
			cache,
			pubsub,
			limiter,
			clk,
			cfg.Reservation,
		),
		Registration: registration.New(
			store.Events(),
			store.Registrations(),
			store.Credits(),
			cache,
			pubsub,
		),
		Refund: refund.New(
			store.Events(),
			store.Refunds(),
			gw,
			mail,
			cache,
			pubsub,
			clk,
			log,
			cfg.Refund,
		),
		Credits: credits.New(store.Credits()),
		Query:   query.New(store.Events(), cache, cfg.Query),
		Admin:   admin.New(store.Events(), cache, pubsub),
	}
}
