package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oy3o/contactd/contacts"
	"github.com/oy3o/contactd/contacts/httpapi"
	"github.com/oy3o/contactd/contacts/memstore"
	"github.com/oy3o/contactd/contacts/pgstore"
	"github.com/oy3o/contactd/o11y"
)

const storeScope = "contactd.Store"

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		dsn      string
		migrate  bool
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and the gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("database") {
				cfg.Database.DSN = dsn
			}
			if cmd.Flags().Changed("migrate") {
				cfg.Database.Migrate = migrate
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&dsn, "database", "", "PostgreSQL DSN; the contact book is kept in memory when empty")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the database schema before serving")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address of the REST API")
	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	provider, err := o11y.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	log := provider.Logger
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	store, closeStore, err := openStore(ctx, provider, cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open store")
		return err
	}
	defer closeStore()

	api := &httpapi.API{
		Contacts: contacts.NewContactService(store, provider.Scope(contacts.ContactServiceScope)),
		Groups:   contacts.NewGroupService(store, provider.Scope(contacts.GroupServiceScope)),
		Tags:     contacts.NewTagService(store, provider.Scope(contacts.TagServiceScope)),
		Ready:    store,
	}
	middleware := o11y.Handler(provider.Root(), o11y.HandlerOptions{SkipPaths: []string{"/api/health"}})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           middleware(api.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var (
		grpcServer *grpc.Server
		lis        net.Listener
	)
	healthServer := health.NewServer()
	if cfg.GRPC.Addr != "" {
		lis, err = net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
		}
		grpcServer = grpc.NewServer(o11y.GRPCServerOptions(provider.Root())...)
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		reflection.Register(grpcServer)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		for ctx.Err() == nil {
			status := healthpb.HealthCheckResponse_SERVING
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := store.Ping(pingCtx); err != nil && ctx.Err() == nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				log.Warn().Err(err).Msg("Store is not reachable")
			}
			cancel()
			healthServer.SetServingStatus("", status)

			select {
			case <-ctx.Done():
			case <-time.After(15 * time.Second):
			}
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Warn().Msg("Shutdown signal received, starting graceful shutdown...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	log.Info().Msg("Server gracefully stopped.")
	return nil
}

func openStore(ctx context.Context, provider *o11y.Provider, cfg DatabaseConfig) (contacts.Store, func(), error) {
	if cfg.DSN == "" {
		provider.Logger.Info().Msg("No database configured, keeping contacts in memory")
		return memstore.New(), func() {}, nil
	}

	scope := provider.Scope(storeScope)
	if cfg.Migrate {
		if err := pgstore.Migrate(ctx, scope, cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	store, err := pgstore.Open(ctx, scope, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
