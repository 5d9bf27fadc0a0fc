package di

import (
	"github.com/jirayu-w/eventseat/internal/engine"
	"github.com/jirayu-w/eventseat/internal/handler"
	"github.com/jirayu-w/eventseat/internal/store"
	"github.com/jirayu-w/eventseat/pkg/database"
	"github.com/jirayu-w/eventseat/pkg/redis"
)

// Container holds all dependencies for the reservation service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Storage
	EventStore store.EventStore
	Ledger     store.Ledger

	// Publishers
	EventPublisher engine.EventPublisher

	// Core
	Engine *engine.Engine

	// Handlers
	HealthHandler      *handler.HealthHandler
	EventHandler       *handler.EventHandler
	ReservationHandler *handler.ReservationHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	StoreBackend   string
	EventStore     store.EventStore
	Ledger         store.Ledger
	EventPublisher engine.EventPublisher
	EngineConfig   *engine.Config
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		EventStore:     cfg.EventStore,
		Ledger:         cfg.Ledger,
		EventPublisher: cfg.EventPublisher,
	}

	c.Engine = engine.New(c.EventStore, c.Ledger, c.EventPublisher, cfg.EngineConfig)

	var probes []handler.ReadinessProbe
	if c.Redis != nil {
		probes = append(probes, handler.ReadinessProbe{Name: "redis", Check: c.Redis.HealthCheck})
	}
	if c.DB != nil {
		probes = append(probes, handler.ReadinessProbe{Name: "database", Check: c.DB.HealthCheck})
	}

	c.HealthHandler = handler.NewHealthHandler(cfg.StoreBackend, probes...)
	c.EventHandler = handler.NewEventHandler(c.Engine)
	c.ReservationHandler = handler.NewReservationHandler(c.Engine)

	return c
}
