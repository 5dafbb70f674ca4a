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
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/api"
	"github.com/mycloud-net/storage-go/internal/blobstore"
	"github.com/mycloud-net/storage-go/internal/config"
	"github.com/mycloud-net/storage-go/internal/files"
	"github.com/mycloud-net/storage-go/internal/logging"
	"github.com/mycloud-net/storage-go/internal/metrics"
	"github.com/mycloud-net/storage-go/internal/store"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "storaged",
		Short:         "Personal cloud storage server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./config.yml if present)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata schema and exit",
		RunE:  runMigrate,
	}

	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Print a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, args[0], ttl)
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("storaged failed")
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// index holds the metadata repositories for the configured driver.
type index struct {
	objects  store.Repo
	accounts store.AccountRepo
	close    func()
}

func openIndex(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*index, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &index{
			objects:  store.NewGormRepo(db),
			accounts: store.NewGormAccountRepo(db),
			close: func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		}, nil
	default:
		if err := store.MigratePostgres(cfg.DSN); err != nil {
			return nil, err
		}
		pool, err := store.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &index{
			objects:  store.NewPostgresRepo(pool),
			accounts: store.NewPostgresAccountRepo(pool),
			close:    pool.Close,
		}, nil
	}
}

func openBlobs(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	if cfg.Driver == "s3" {
		return blobstore.NewS3(ctx, blobstore.S3Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	}
	return blobstore.NewLocal(cfg.MediaRoot)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idx, err := openIndex(ctx, cfg.Database, log.Logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.close()

	blobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := files.New(files.Deps{
		Objects:  idx.objects,
		Accounts: idx.accounts,
		Blobs:    blobs,
		Clock:    clock.WallClock,
		Location: loc,
		Metrics:  metrics.New(reg),
		Logger:   log.Logger,
	})
	router := api.NewRouter(api.Deps{
		Files:    svc,
		Verifier: access.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clock.WallClock),
		Accounts: idx.accounts,
		Gatherer: reg,
		Clock:    clock.WallClock,
		Logger:   log.Logger,
	}, cfg.HTTP)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("database", cfg.Database.Driver).
			Str("storage", cfg.Storage.Driver).
			Msg("storaged listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := openIndex(cmd.Context(), cfg.Database, log.Logger)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	idx.close()
	log.Info().Str("database", cfg.Database.Driver).Msg("schema is current")
	return nil
}

func runToken(cmd *cobra.Command, arg string, ttl time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	accountID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || accountID <= 0 {
		return fmt.Errorf("invalid account id %q", arg)
	}
	token, err := access.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clock.WallClock).Sign(accountID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
