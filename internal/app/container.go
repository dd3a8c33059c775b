package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/bot"
	"github.com/kapu/iris-dispatch-go/internal/command"
	"github.com/kapu/iris-dispatch-go/internal/config"
	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/iris"
	"github.com/kapu/iris-dispatch-go/internal/service/cache"
	"github.com/kapu/iris-dispatch-go/internal/service/database"
)

// Container bundles assembled services for constructing the runtime bot.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	Engine *dispatch.Engine

	botDeps *bot.Dependencies
	closers []func()
}

func (c *Container) NewBot() (*bot.Bot, error) {
	if c == nil || c.botDeps == nil {
		return nil, fmt.Errorf("bot dependencies not initialized")
	}
	return bot.NewBot(c.botDeps)
}

// Close releases the container's infrastructure connections.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles the infrastructure services and the dispatch engine.
// Everything heavy-weight happens here; bot.NewBot stays orchestration
// only. On failure the partially built services are unwound.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	// Messaging primitives
	irisClient := iris.NewClient(cfg.Iris.BaseURL, logger)
	irisWS := iris.NewWebSocket(cfg.Iris.WSURL, 5, 5*time.Second, logger)

	// Optional infrastructure
	var cacheSvc *cache.Service
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cache.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache service: %w", err)
		}
		closers = append(closers, func() {
			_ = cacheSvc.Close()
		})
	}

	var audit *database.AuditRepository
	if cfg.Postgres.Enabled {
		audit, err = database.Open(database.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		closers = append(closers, func() {
			_ = audit.Close()
		})
	}

	// Service registry: the built-in injectables every definition may ask
	// for by type.
	services := dispatch.NewServices()
	services.Register(cfg)
	services.Register(logger)
	services.Register(irisClient)
	if cacheSvc != nil {
		services.Register(cacheSvc)
	}

	// Declarations and engine
	loader := dispatch.NewLoader(logger)
	loader.Add(command.Declarations(&command.Dependencies{
		Config: cfg,
		Logger: logger,
		Cache:  cacheSvc,
	}))
	if len(cfg.Bot.Allowlist) > 0 {
		loader.Allow(cfg.Bot.Allowlist...)
	}

	engine := dispatch.NewEngine(dispatch.Options{
		Prefix:        cfg.Bot.Prefix,
		PrefixMode:    prefixMode(cfg.Bot.PrefixRequirement),
		CaseSensitive: cfg.Bot.CaseSensitive,
	}, loader, services, irisClient, logger)
	services.Register(engine)

	deps := &bot.Dependencies{
		Config: cfg,
		Logger: logger,
		Client: irisClient,
		Socket: irisWS,
		Engine: engine,
		Cache:  cacheSvc,
		Audit:  audit,
	}

	return &Container{
		Config:  cfg,
		Logger:  logger,
		Engine:  engine,
		botDeps: deps,
		closers: closers,
	}, nil
}

func prefixMode(requirement string) dispatch.PrefixMode {
	switch requirement {
	case "group":
		return dispatch.PrefixGroupOnly
	case "never":
		return dispatch.PrefixNever
	default:
		return dispatch.PrefixAlways
	}
}
