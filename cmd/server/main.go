package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/visite/visite-admin/internal/backend"
	"github.com/visite/visite-admin/internal/config"
	"github.com/visite/visite-admin/internal/handlers"
	"github.com/visite/visite-admin/internal/logging"
	"github.com/visite/visite-admin/internal/mapview"
	"github.com/visite/visite-admin/internal/services"
	"github.com/visite/visite-admin/internal/store"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "visite-admin",
		Short:         "Field visit forms and map service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(formsCmd())
	rootCmd.AddCommand(markersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runServer(cfg, logger)
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := backend.NewClient(cfg.Backend, logger)
	formService := services.NewFormService(client, logger)
	sessionService := services.NewSessionService(formService, st, logger)
	mapService := services.NewMapService(cfg, client, logger)
	notifier := services.NewNotificationService(cfg)
	mailer := services.NewEmailService(cfg)

	server := handlers.NewServer(cfg, handlers.Services{
		Forms:         formService,
		Sessions:      sessionService,
		Submissions:   services.NewSubmissionService(cfg, sessionService, client, st, notifier, mailer, logger),
		Map:           mapService,
		Territory:     services.NewTerritoryService(client.Countries(), client.Provinces(), client.Areas(), client.Users(), logger),
		Analytics:     services.NewAnalyticsService(st, logger),
		Notifications: notifier,
		Email:         mailer,
	}, logger)

	if cfg.Map.AutoRefresh {
		go mapService.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return st.Close()
		},
	}
}

func formsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forms",
		Short: "List the forms published by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout+5*time.Second)
			defer cancel()

			list, err := services.NewFormService(backend.NewClient(cfg.Backend, logger), logger).GetAvailableForms(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "UUID\tTITLE\tSTATUS")
			for _, f := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.UUID, f.Title, f.Status)
			}
			return w.Flush()
		},
	}
}

func markersCmd() *cobra.Command {
	var lat, lng float64
	var filter services.MapFilter

	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Fetch map markers and print the computed view as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			var user *mapview.Point
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				user = &mapview.Point{Lat: lat, Lng: lng}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout+5*time.Second)
			defer cancel()

			ms := services.NewMapService(cfg, backend.NewClient(cfg.Backend, logger), logger)
			result := ms.View(ctx, filter, user)
			if result.Error != "" {
				return fmt.Errorf("failed to fetch markers: %s", result.Error)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the viewer")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude of the viewer")
	cmd.Flags().StringVar(&filter.CountryUUID, "country", "", "Only markers in this country")
	cmd.Flags().StringVar(&filter.ProvinceUUID, "province", "", "Only markers in this province")
	cmd.Flags().StringVar(&filter.AreaUUID, "area", "", "Only markers in this area")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Only markers whose text matches")
	return cmd
}
