package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/provider-orchestrator/app"
	"github.com/upb/provider-orchestrator/config"
	"github.com/upb/provider-orchestrator/internal/observability"
	"github.com/upb/provider-orchestrator/routes"
	"github.com/upb/provider-orchestrator/services/providers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "AI provider routing and health orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newProvidersCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var providersFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			if providersFile != "" {
				cfg.ProvidersFile = providersFile
			}
			return serve(cmd.Context(), cfg, nil)
		},
	}
	cmd.Flags().StringVar(&providersFile, "providers", "", "provider catalog path (overrides PROVIDERS_FILE)")
	return cmd
}

// serve runs the API until ctx is cancelled. When ready is non-nil it receives
// the bound listener address once the server accepts connections.
func serve(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		_ = logger.Sync()
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	server := &http.Server{
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening",
			zap.String("address", listener.Addr().String()),
			zap.Bool("tls", cfg.Server.TLS.Enabled),
			zap.String("environment", cfg.Environment))

		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ServeTLS(listener, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.Serve(listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	deps.Orchestrator.Start(gctx)
	if ready != nil {
		ready <- listener.Addr().String()
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		return deps.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newProvidersCommand() *cobra.Command {
	var providersFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Load the provider catalog and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if providersFile == "" {
				providersFile = os.Getenv("PROVIDERS_FILE")
			}
			if providersFile == "" {
				providersFile = "providers.yaml"
			}

			loaded, err := config.LoadProviders(providersFile)
			if err != nil {
				return err
			}
			registry, err := providers.NewRegistry(loaded.Providers...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(registry.List())
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tCOST/TOKEN\tACTIVE\tMODELS")
			for _, p := range registry.List() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%t\t%s\n",
					p.ID, providers.CapabilityFor(p.Type).Type, p.Priority, p.CostPerToken, p.Active, strings.Join(p.Models, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			for _, ref := range loaded.Unresolved {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: credential %s is not set\n", ref)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providersFile, "file", "", "provider catalog path (default $PROVIDERS_FILE or providers.yaml)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}
