package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/adapter/cache"
	"github.com/smallbiznis/railzway-connect/internal/adapter/memory"
	provideradapter "github.com/smallbiznis/railzway-connect/internal/adapter/oauth"
	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/crypto"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
	"github.com/smallbiznis/railzway-connect/internal/oauth"
	"github.com/smallbiznis/railzway-connect/internal/repository"
	"github.com/smallbiznis/railzway-connect/internal/sweeper"
	"github.com/smallbiznis/railzway-connect/internal/telemetry"
	"github.com/smallbiznis/railzway-connect/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newStateStore,
			newSessionStore,
			newRevocationRegistry,
			newKeychain,
			jwt.NewCodec,
			newKeyring,
			crypto.NewService,
			newProviderClient,
			oauth.NewFlowManager,
			token.NewService,
			newSweeper,
		),
		fx.Invoke(useTelemetry, startSweeper),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// newStateStore selects Redis when an address is configured; otherwise the
// in-memory store serves single-instance deployments.
func newStateStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.StateStore, error) {
	if cfg.RedisAddr == "" {
		return memory.NewStateStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	logger.Info("redis state store enabled", zap.String("addr", cfg.RedisAddr))
	return cache.NewRedisStateStore(client), nil
}

func newSessionStore() repository.SessionStore {
	return memory.NewSessionStore()
}

func newRevocationRegistry() repository.RevocationRegistry {
	return memory.NewRevocationRegistry()
}

func newKeychain(cfg config.Config) (*jwt.Keychain, error) {
	if !cfg.IsProduction() && cfg.SigningSecret != "" {
		return jwt.NewSymmetricKeychain(cfg.SigningSecret)
	}
	return jwt.NewKeychain()
}

func newKeyring(cfg config.Config) (*crypto.Keyring, error) {
	return crypto.NewKeyring(cfg)
}

func newProviderClient(cfg config.Config) provideradapter.ProviderClient {
	return provideradapter.NewHTTPProviderClient(nil, cfg.ProviderRateLimitRPM)
}

func newSweeper(cfg config.Config, flows *oauth.FlowManager, tokens *token.Service, logger *zap.Logger) *sweeper.Runner {
	return sweeper.NewRunner(logger,
		sweeper.Target{Name: "oauth_states", Interval: cfg.SweepInterval, Run: flows.CleanupExpiredStates},
		sweeper.Target{Name: "sessions", Interval: cfg.SweepInterval, Run: tokens.CleanupExpiredSessions},
		sweeper.Target{Name: "revocations", Interval: cfg.SweepInterval, Run: tokens.CleanupRevokedTokens},
	)
}

func startSweeper(lc fx.Lifecycle, runner *sweeper.Runner, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := runner.Run(runCtx); err != nil {
					logger.Error("sweeper stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
