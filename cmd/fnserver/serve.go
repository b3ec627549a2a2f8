// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/redpanda-data/wasm-functions/accounts"
	"github.com/redpanda-data/wasm-functions/config"
	"github.com/redpanda-data/wasm-functions/engine"
	"github.com/redpanda-data/wasm-functions/httpapi"
	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/logging"
	"github.com/redpanda-data/wasm-functions/metering"
	"github.com/redpanda-data/wasm-functions/metrics"
	"github.com/redpanda-data/wasm-functions/modcache"
	"github.com/redpanda-data/wasm-functions/platform"
	"github.com/redpanda-data/wasm-functions/store"
	"github.com/redpanda-data/wasm-functions/store/bolt"
	"github.com/redpanda-data/wasm-functions/store/memdb"
	"github.com/redpanda-data/wasm-functions/usage"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "serve --config ./fnserver.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file. Environment variables prefixed with "+config.EnvPrefix+" override it.")

	return cmd
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogger installs the process logger. The returned func closes the
// log file, if any.
func setupLogger(cfg config.Log) (logr.Logger, func() error, error) {
	logger, err := logging.NewZap(cfg.Level, os.Stderr)
	if err != nil {
		return logr.Discard(), nil, err
	}
	closeFn := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return logr.Discard(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		fileLogger, err := logging.NewZap(cfg.Level, f)
		if err != nil {
			_ = f.Close()
			return logr.Discard(), nil, err
		}
		logger = logging.Tee(logger, fileLogger)
		closeFn = f.Close
	}
	logging.SetGlobals(logger)
	return logger, closeFn, nil
}

func openStore(cfg config.Storage) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		return bolt.Open(cfg.Path)
	case config.DriverMemDB:
		return memdb.New()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newSigner(cfg config.Auth, logger logr.Logger) (identity.Signer, *ecdsa.PrivateKey, error) {
	if cfg.PrivateKeyPath != "" {
		key, err := identity.LoadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, nil, err
		}
		return identity.NewKeySigner(key, cfg.TokenValidity), key, nil
	}
	return identity.NewClient(cfg.SignerURL, logger.WithName("signer")), nil, nil
}

func newVerifier(cfg config.Auth, key *ecdsa.PrivateKey) (*identity.Verifier, error) {
	if cfg.PublicKeyPath == "" {
		return identity.NewVerifier(&key.PublicKey), nil
	}
	pub, err := identity.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	return identity.NewVerifier(pub), nil
}

func newUsagePublisher(ctx context.Context, cfg config.Usage, logger logr.Logger) (usage.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return usage.Nop{}, nil
	}
	return usage.NewKafkaPublisher(ctx, cfg.Topic,
		usage.WithBrokers(cfg.Brokers...),
		usage.WithTopicLayout(cfg.Partitions, cfg.ReplicationFactor),
		usage.WithLogger(logger.WithName("usage")),
	)
}

func serve(ctx context.Context, cfg config.Config) (retErr error) {
	logger, closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	var closers []func() error
	defer func() {
		var result *multierror.Error
		for i := len(closers) - 1; i >= 0; i-- {
			result = multierror.Append(result, closers[i]())
		}
		result = multierror.Append(result, closeLog())
		retErr = errors.Join(retErr, result.ErrorOrNil())
	}()

	s, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	closers = append(closers, s.Close)

	cost, err := metering.ByName(cfg.Metering.Policy)
	if err != nil {
		return err
	}
	engineOpts := []engine.Opt{
		engine.WithMemoryLimitPages(cfg.Engine.MemoryLimitPages),
		engine.WithCostFunc(cost),
		engine.WithLogger(logger.WithName("engine")),
	}
	if cfg.Engine.CompilationCacheDir != "" {
		engineOpts = append(engineOpts, engine.WithCompilationCacheDir(cfg.Engine.CompilationCacheDir))
	}
	e, err := engine.New(ctx, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	closers = append(closers, func() error { return e.Close(context.Background()) })

	m, err := metrics.NewPrometheus(metrics.WithMetricsNamespace(cfg.Metrics.Namespace))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	cache := modcache.New(e.Compile, modcache.WithLogger(logger.WithName("modcache")), modcache.WithMetrics(m))
	closers = append(closers, func() error { return cache.Close(context.Background()) })

	signer, key, err := newSigner(cfg.Auth, logger)
	if err != nil {
		return err
	}
	verifier, err := newVerifier(cfg.Auth, key)
	if err != nil {
		return err
	}

	publisher, err := newUsagePublisher(ctx, cfg.Usage, logger)
	if err != nil {
		return fmt.Errorf("failed to create usage publisher: %w", err)
	}
	closers = append(closers, func() error { publisher.Close(); return nil })

	acc := accounts.New(s, signer, cache,
		accounts.WithInitialCredits(cfg.Wallet.InitialCredits),
		accounts.WithMetrics(m),
		accounts.WithLogger(logger.WithName("accounts")),
	)
	plat := platform.New(s, e, cache,
		platform.WithMetrics(m),
		platform.WithUsagePublisher(publisher),
		platform.WithLogger(logger.WithName("platform")),
	)
	api := httpapi.NewServer(acc, plat, verifier,
		httpapi.WithMetrics(m),
		httpapi.WithLogger(logger.WithName("http")),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runServer(ctx, srv, logger)
}

// runServer serves until ctx is done, then shuts srv down gracefully.
func runServer(ctx context.Context, srv *http.Server, logger logr.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
