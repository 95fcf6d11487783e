// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/seclink/lib/capbus"
	"github.com/bureau-foundation/seclink/lib/captoken"
	"github.com/bureau-foundation/seclink/lib/clock"
	"github.com/bureau-foundation/seclink/lib/config"
	"github.com/bureau-foundation/seclink/lib/mailbox"
	"github.com/bureau-foundation/seclink/lib/region"
	"github.com/bureau-foundation/seclink/lib/seccoord"
	"github.com/bureau-foundation/seclink/lib/seccore"
)

// service owns every component of a running coordinator.
type service struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	core        *seccore.Core
	allocator   *region.Allocator
	server      *capbus.Server
	coordinator *seccoord.Coordinator

	// authenticate is nil when tokens are not required.
	authenticate capbus.Authenticator
}

// newService opens the Security Core and builds the bus in front of
// it. On error everything opened so far is closed.
func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *service, err error) {
	s := &service{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if s.core, err = openCore(ctx, cfg, logger, s.registry); err != nil {
		return nil, err
	}

	s.allocator, err = region.New(region.Config{
		Windows:    cfg.Bus.Windows,
		WindowSize: cfg.Bus.WindowSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	s.server, err = capbus.NewServer(capbus.ServerConfig{
		Interface: cfg.Bus.Interface,
		Allocator: s.allocator,
		Logger:    logger,
		Metrics:   capbus.NewMetrics(s.registry),
	})
	if err != nil {
		return nil, err
	}

	s.coordinator, err = seccoord.New(seccoord.Config{
		Server:  s.server,
		Core:    s.core,
		Logger:  logger,
		Metrics: seccoord.NewMetrics(s.registry),
	})
	if err != nil {
		return nil, err
	}

	if s.authenticate, err = newAuthenticator(cfg, clock.Real()); err != nil {
		return nil, err
	}
	return s, nil
}

// openCore loads the archive and key store and opens the configured
// backend.
func openCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, registry prometheus.Registerer) (*seccore.Core, error) {
	kind, err := seccore.ParseKind(cfg.Core.Backend)
	if err != nil {
		return nil, err
	}

	var archive *seccore.Archive
	if cfg.Core.Archive != "" {
		if archive, err = seccore.LoadArchive(cfg.Core.Archive); err != nil {
			return nil, err
		}
		logger.Info("loaded builtin archive", "path", cfg.Core.Archive, "files", len(archive.Names()))
	}

	replyTimeout, err := cfg.Mailbox.ReplyTimeoutDuration()
	if err != nil {
		return nil, err
	}
	breakerCooldown, err := cfg.Mailbox.BreakerCooldownDuration()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.KeyStore, logger)
	if err != nil {
		return nil, err
	}

	// Open closes store on failure.
	return seccore.Open(ctx, seccore.Config{
		Kind:    kind,
		Archive: archive,
		Store:   store,
		Logger:  logger,
		Mailbox: mailbox.Config{
			MaxPayload:      cfg.Mailbox.MaxPayload,
			ReplyTimeout:    replyTimeout,
			Logger:          logger,
			Metrics:         mailbox.NewMetrics(registry),
			BreakerFailures: cfg.Mailbox.BreakerFailures,
			BreakerCooldown: breakerCooldown,
		},
		FIFODepth:   cfg.Mailbox.FIFODepth,
		InlineLimit: cfg.Mailbox.InlineLimit,
	})
}

// openStore opens the configured key store: sqlite when a path is
// set, memory otherwise, sealed when a root key is set.
func openStore(ctx context.Context, cfg config.KeyStoreConfig, logger *slog.Logger) (seccore.KeyStore, error) {
	var sealer *seccore.Sealer
	if cfg.RootKey != "" {
		root, err := seccore.LoadRootKey(cfg.RootKey, cfg.Identity)
		if err != nil {
			return nil, err
		}
		if sealer, err = seccore.NewSealer(root); err != nil {
			root.Close()
			return nil, err
		}
	}

	if cfg.Path == "" {
		logger.Warn("key store is in memory; values are lost on exit", "sealed", sealer != nil)
		return seccore.NewMemoryStore(sealer), nil
	}

	store, err := seccore.OpenSQLStore(ctx, seccore.SQLStoreConfig{
		Path:     cfg.Path,
		Sealer:   sealer,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		if sealer != nil {
			sealer.Close()
		}
		return nil, err
	}
	logger.Info("opened key store", "path", cfg.Path, "sealed", sealer != nil)
	return store, nil
}

// newAuthenticator returns the attach token check, or nil when tokens
// are optional. Revoked ids stay refused for one token lifetime, after
// which any token they named has expired anyway.
func newAuthenticator(cfg *config.Config, source clock.Clock) (capbus.Authenticator, error) {
	if !cfg.Auth.Required {
		return nil, nil
	}
	publicKey, err := captoken.LoadPublicKey(cfg.Auth.KeyDir)
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.Auth.TokenTTLDuration()
	if err != nil {
		return nil, err
	}

	blacklist := captoken.NewBlacklist()
	for _, id := range cfg.Auth.Revoked {
		blacklist.Revoke(id, source.Now().Add(ttl))
	}
	verifier := &captoken.Verifier{
		PublicKey: publicKey,
		Audience:  cfg.Bus.Interface,
		Clock:     source,
		Blacklist: blacklist,
	}
	return verifier.Authenticate, nil
}

// Run serves the bus socket, the dispatch loop, and the metrics
// endpoint until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(s.cfg.Bus.SocketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	errs := make(chan error, 3)
	running := 2
	go func() {
		errs <- s.coordinator.Serve(ctx)
	}()
	go func() {
		errs <- capbus.ListenSocket(ctx, capbus.SocketConfig{
			Path:         s.cfg.Bus.SocketPath,
			Server:       s.server,
			Authenticate: s.authenticate,
			Logger:       s.logger,
		})
	}()
	if s.cfg.Metrics.Listen != "" {
		running++
		go func() {
			errs <- s.serveMetrics(ctx)
		}()
	}

	s.logger.Info("coordinator running",
		"backend", string(s.core.Kind()),
		"socket", s.cfg.Bus.SocketPath,
		"auth_required", s.authenticate != nil,
	)

	// The first component to stop takes the rest down with it.
	var result error
	for range running {
		err := <-errs
		if err != nil && result == nil {
			result = err
		}
		cancel()
	}
	return result
}

func (s *service) serveMetrics(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("metrics listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the bus, the window pool, and the Security Core.
func (s *service) Close() error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Close())
	}
	if s.allocator != nil {
		errs = append(errs, s.allocator.Close())
	}
	if s.core != nil {
		errs = append(errs, s.core.Close())
	}
	return errors.Join(errs...)
}
