package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/ai"
	"github.com/mailsense/mailsense/plugin/search"
	"github.com/mailsense/mailsense/plugin/search/querycache"
	"github.com/mailsense/mailsense/server"
	"github.com/mailsense/mailsense/store"
	"github.com/mailsense/mailsense/store/db"
)

const greetingBanner = `
_  _ ____ _ _    ____ ____ _  _ ____ ____
|\/| |__| | |    [__  |___ |\ | [__  |___
|  | |  | | |___ ___] |___ | \| ___] |___

hybrid retrieval service
`

var rootCmd = &cobra.Command{
	Use:   "mailsense",
	Short: "A hybrid vector and keyword retrieval service for email data",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		instanceProfile := profile.Default()
		instanceProfile.FromEnv()
		instanceProfile.Mode = viper.GetString("mode")
		instanceProfile.Addr = viper.GetString("addr")
		instanceProfile.Port = viper.GetInt("port")
		instanceProfile.Data = viper.GetString("data")
		instanceProfile.Driver = viper.GetString("driver")
		if dsn := viper.GetString("dsn"); dsn != "" {
			instanceProfile.DSN = dsn
		}
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		logger := newLogger(instanceProfile)
		slog.SetDefault(logger)

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			return fmt.Errorf("failed to create db driver: %w", err)
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate db: %w", err)
		}

		cache := querycache.New(querycache.Config{
			Capacity: instanceProfile.QueryCacheCapacity,
			TTL:      instanceProfile.QueryCacheTTL,
		})
		defer cache.Close()

		var embedder ai.EmbeddingService
		if instanceProfile.IsAIEnabled() {
			embedder, err = ai.NewEmbeddingService(instanceProfile)
			if err != nil {
				return fmt.Errorf("failed to create embedding service: %w", err)
			}
		} else {
			logger.Warn("no embedding provider configured, queries must carry their own vector")
		}
		searchService := search.NewService(storeInstance, cache, embedder, logger)

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, searchService, logger)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("shutting down")
			s.Shutdown(ctx)
			cancel()
		}()

		fmt.Print(greetingBanner)
		return s.Start(ctx)
	},
}

func newLogger(p *profile.Profile) *slog.Logger {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if p.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("driver", "postgres")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of the server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", `database driver, can be "postgres", "sqlite" or "memory"`)
	rootCmd.PersistentFlags().String("dsn", "", "database connection string")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("mailsense")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
