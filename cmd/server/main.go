package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/demohub/internal/apps"
	"github.com/Brownie44l1/demohub/internal/config"
	"github.com/Brownie44l1/demohub/internal/handlers"
	"github.com/Brownie44l1/demohub/internal/hub"
	"github.com/Brownie44l1/demohub/internal/logging"
	"github.com/Brownie44l1/demohub/internal/model"
	"github.com/Brownie44l1/demohub/internal/store"
)

func main() {
	godotenv.Load()

	var configPath string
	var watch bool

	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve the pretrained-model demo apps over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, watch)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("DEMOHUB_CONFIG"), "path to config.yaml (defaults built in when empty)")
	rootCmd.Flags().BoolVar(&watch, "watch", true, "reload thresholds when the config file changes")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	model.SetLibraryPath(cfg.ONNX.LibraryPath)

	hubClient := hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.CacheDir,
		hub.WithToken(cfg.Hub.Token),
		hub.WithHTTPClient(&http.Client{Timeout: cfg.Hub.Timeout}),
		hub.WithLogger(log.Named("hub")))

	g, gctx := errgroup.WithContext(ctx)

	opts := []apps.Option{apps.WithLogger(log.Named("apps")), apps.WithLifetime(gctx)}
	if cfg.History.Path != "" {
		history, err := store.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer history.Close()
		opts = append(opts, apps.WithHistory(history))
		log.Info("History enabled", zap.String("path", cfg.History.Path))
	}

	registry, err := apps.NewRegistry(cfg, apps.SourceLoaders(cfg, hubClient, model.OpenONNX, log.Named("loader")), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("Failed to release models", zap.Error(err))
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	handler := handlers.NewHandler(registry, cfg.HTTP.MaxUploadMB<<20, log.Named("http"))
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: handlers.NewRouter(handler, cfg.HTTP.AllowedOrigins, log.Named("http")),
	}

	g.Go(func() error {
		registry.Warm(gctx, cfg)
		return nil
	})

	g.Go(func() error {
		log.Info("Server starting", zap.Int("port", cfg.HTTP.Port))
		for _, info := range registry.List() {
			log.Info("App available", zap.String("id", info.ID), zap.String("title", info.Title), zap.String("kind", info.Kind))
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if watch && configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, log.Named("config"), registry.SetThresholds)
		})
	}

	err = g.Wait()
	log.Info("Exiting")
	return err
}
