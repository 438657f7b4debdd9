package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-livechat/internal/api"
	"github.com/npezzotti/go-livechat/internal/config"
	"github.com/npezzotti/go-livechat/internal/database"
	"github.com/npezzotti/go-livechat/internal/server"
	"github.com/npezzotti/go-livechat/internal/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type repository interface {
	database.GoChatRepository
	Migrate() error
}

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:          "gochat",
	Short:        "real-time chat server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply database schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := openRepository(cfg)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return err
		}
		logger.Infow("migrations applied", "driver", cfg.DatabaseDriver)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./gochat.yaml)")
	flags.String("addr", "", "server address")
	flags.String("db-driver", "", "database driver (postgres or sqlite)")
	flags.String("dsn", "", "database connection string")
	flags.String("log-level", "", "log level")
	flags.StringSlice("allowed-origins", nil, "allowed origins for CORS")

	v.BindPFlag("server.addr", flags.Lookup("addr"))
	v.BindPFlag("database.driver", flags.Lookup("db-driver"))
	v.BindPFlag("database.dsn", flags.Lookup("dsn"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("server.allowed_origins", flags.Lookup("allowed-origins"))

	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup reads the configuration and builds the logger.
func setup() (*config.Config, *zap.SugaredLogger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gochat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = lvl
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar().Named("gochat"), nil
}

func openRepository(cfg *config.Config) (repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return database.NewPgGoChatRepository(cfg.DatabaseDSN)
	case config.DriverSqlite:
		return database.NewGormGoChatRepository(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

func serve() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorw("db close", "error", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		return err
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger.Named("chat"), db, statsUpdater, cfg.SendTimeout)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	app := api.NewGoChatApp(mux, logger.Named("api"), chatServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", cfg.ServerAddr, "driver", cfg.DatabaseDriver)
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infow("received signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Errorw("server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
