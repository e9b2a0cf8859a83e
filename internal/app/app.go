package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"google.golang.org/grpc"

	"github.com/rl1809/reseller/internal/adapter/handler"
	"github.com/rl1809/reseller/internal/adapter/messaging"
	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/config"
	"github.com/rl1809/reseller/internal/core/service"
	"github.com/rl1809/reseller/internal/logs"
	"github.com/rl1809/reseller/internal/port"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 5 * time.Second
)

// Module assembles the server: storage, cache, messaging, services and both
// transports.
var Module = fx.Options(
	fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
		return &fxevent.SlogLogger{Logger: logger}
	}),
	injectInfra(),
	injectService(),
	injectHandler(),
	fx.Invoke(
		startHTTP,
		startGRPC,
	),
)

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		newDatabase,
		newRepository,
		newRedis,
		newCache,
		newNATS,
		newPublisher,
	)
}

func injectService() fx.Option {
	return fx.Provide(
		newDispatcher,
		func(d *service.Dispatcher) service.Notifier { return d },
		newOrderService,
		service.NewWalletService,
		service.NewReferralService,
		service.NewInventoryService,
	)
}

func injectHandler() fx.Option {
	return fx.Provide(
		newAuthenticator,
		handler.NewHTTPHandler,
		handler.NewGRPCHandler,
		newEcho,
		newGRPCServer,
	)
}

type databaseParams struct {
	fx.In
	fx.Lifecycle

	Config *config.Config
	Logger *slog.Logger
}

func newDatabase(params databaseParams) (*sql.DB, storage.Dialect, error) {
	cfg := params.Config.Database
	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, dialect, cfg.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, "", err
	}
	params.Logger.Info("connected to database", "driver", string(dialect))

	if cfg.AutoMigrate {
		if err := storage.RunMigrations(ctx, db, dialect, "up"); err != nil {
			_ = db.Close()
			return nil, "", err
		}
		params.Logger.Info("migrations applied", "driver", string(dialect))
	}

	params.Append(fx.Hook{
		OnStop: func(context.Context) error {
			params.Logger.Info("closing database")
			return errors.WithStack(db.Close())
		},
	})
	return db, dialect, nil
}

func newRepository(db *sql.DB, dialect storage.Dialect) port.DatabaseRepository {
	return storage.NewSQLAdapter(db, dialect)
}

func newRedis(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect redis %s", cfg.Redis.Addr)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.WithStack(client.Close())
		},
	})
	return client, nil
}

func newCache(client *redis.Client, cfg *config.Config) port.CacheRepository {
	return storage.NewRedisAdapter(client, cfg.Redis.IdempotencyTTL)
}

func newNATS(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := messaging.Connect(cfg.NATS.URL, cfg.Env.ServiceName, logger)
	if err != nil {
		return nil, err
	}
	if nc == nil {
		logger.Info("nats disabled, events are not published")
		return nil, nil
	}
	logger.Info("connected to nats", "url", nc.ConnectedUrl())

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.WithStack(nc.Drain())
		},
	})
	return nc, nil
}

// newPublisher returns a nil publisher when NATS is disabled.
func newPublisher(nc *nats.Conn) port.EventPublisher {
	if nc == nil {
		return nil
	}
	return messaging.NewNATSPublisher(nc)
}

func newDispatcher(lc fx.Lifecycle, cfg *config.Config, cache port.CacheRepository, publisher port.EventPublisher, logger *slog.Logger) *service.Dispatcher {
	d := service.NewDispatcher(cache, publisher, cfg.Dispatcher.QueueSize, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start(cfg.Dispatcher.Workers)
			return nil
		},
		OnStop: func(context.Context) error {
			d.Close()
			logger.Info("dispatcher stopped")
			return nil
		},
	})
	return d
}

func newOrderService(cfg *config.Config, db port.DatabaseRepository, cache port.CacheRepository, notifier service.Notifier, logger *slog.Logger) *service.OrderService {
	return service.NewOrderService(db, cache, notifier, decimal.NewFromFloat(cfg.Commission.DefaultPercent), logger)
}

func newAuthenticator(cfg *config.Config, db port.DatabaseRepository, notifier service.Notifier, logger *slog.Logger) *handler.Authenticator {
	return handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, db, notifier, logger)
}

func newEcho(cfg *config.Config, logger *slog.Logger, h *handler.HTTPHandler) *echo.Echo {
	e := handler.NewEcho(logger, cfg.HTTP.MaxRequestBodySize)
	h.RegisterRoutes(e)
	return e
}

func newGRPCServer(auth *handler.Authenticator, h *handler.GRPCHandler) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryAPIKey()))
	handler.RegisterOrderServiceServer(srv, h)
	return srv
}

func startHTTP(lc fx.Lifecycle, cfg *config.Config, e *echo.Echo, logger *slog.Logger) {
	t := cfg.HTTP.Timeouts
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           e,
		ReadTimeout:       t.ReadTimeout,
		ReadHeaderTimeout: t.ReadHeaderTimeout,
		WriteTimeout:      t.WriteTimeout,
		IdleTimeout:       t.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen http %s", server.Addr)
			}
			go func() {
				logger.Info("HTTP server listening", "addr", server.Addr)
				if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			logger.Info("shutting down HTTP server")
			return errors.WithStack(server.Shutdown(shutdownCtx))
		},
	})
}

func startGRPC(lc fx.Lifecycle, cfg *config.Config, srv *grpc.Server, logger *slog.Logger) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return errors.Wrapf(err, "listen grpc %s", addr)
			}
			go func() {
				logger.Info("gRPC server listening", "addr", addr)
				if err := srv.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			srv.GracefulStop()
			logger.Info("gRPC server stopped")
			return nil
		},
	})
}
