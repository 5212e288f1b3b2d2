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

	"github.com/MarcoPoloResearchLab/matebook/internal/auth"
	"github.com/MarcoPoloResearchLab/matebook/internal/config"
	"github.com/MarcoPoloResearchLab/matebook/internal/database"
	"github.com/MarcoPoloResearchLab/matebook/internal/logging"
	"github.com/MarcoPoloResearchLab/matebook/internal/media"
	"github.com/MarcoPoloResearchLab/matebook/internal/server"
	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/MarcoPoloResearchLab/matebook/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "matebook-api",
		Short: "Matebook directory service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newCreateUserCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-host", defaults.GetString("database.host"), "PostgreSQL host")
	cmd.PersistentFlags().Int("database-port", defaults.GetInt("database.port"), "PostgreSQL port")
	cmd.PersistentFlags().String("database-name", defaults.GetString("database.name"), "PostgreSQL database name")
	cmd.PersistentFlags().String("database-user", defaults.GetString("database.user"), "PostgreSQL user")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("media-dir", defaults.GetString("media.dir"), "Directory for uploaded avatars")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.host", "database-host")
	bindFlag(cmd, "database.port", "database-port")
	bindFlag(cmd, "database.name", "database-name")
	bindFlag(cmd, "database.user", "database-user")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "media.dir", "media-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and pending data migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(viper.GetString("log.level"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			gateway, err := openDatabase(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer gateway.Close()

			return database.Migrate(gateway.DB(), logger)
		},
	}
}

func newCreateUserCommand() *cobra.Command {
	var (
		username  string
		password  string
		email     string
		fullName  string
		superuser bool
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account that can sign in to the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(viper.GetString("log.level"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			gateway, err := openDatabase(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer gateway.Close()

			if err := database.Migrate(gateway.DB(), logger); err != nil {
				return err
			}
			usersService, err := users.NewService(users.ServiceConfig{Runner: gateway, Logger: logger})
			if err != nil {
				return err
			}
			input := users.UserCreate{
				Username:    username,
				Password:    password,
				IsSuperuser: superuser,
			}
			if email != "" {
				input.Email = &email
			}
			if fullName != "" {
				input.FullName = &fullName
			}
			created, err := usersService.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			logger.Info("user created",
				zap.Int64("user_id", created.ID),
				zap.String("username", created.Username),
				zap.Bool("superuser", created.IsSuperuser))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Account display name")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Grant superuser rights")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func openDatabase(ctx context.Context, logger *zap.Logger) (*database.Gateway, error) {
	dbConfig, err := config.LoadDatabase(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return database.Open(ctx, dbConfig, logger)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	gateway, err := database.Open(ctx, appConfig.Database, logger)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if err := database.Migrate(gateway.DB(), logger); err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Runner: gateway, Logger: logger})
	if err != nil {
		return err
	}
	studentsService, err := students.NewService(students.ServiceConfig{Runner: gateway, Logger: logger})
	if err != nil {
		return err
	}
	avatarStore, err := media.NewLocalStore(media.LocalStoreConfig{
		Dir:      appConfig.MediaDir,
		BaseURL:  appConfig.MediaBaseURL,
		MaxBytes: appConfig.MediaMaxBytes,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := registerCollectors(registry, gateway); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:    tokenManager,
		UsersService:    usersService,
		StudentsService: studentsService,
		Media:           avatarStore,
		Database:        gateway,
		Registry:        registry,
		Logger:          logger,
		AllowedOrigins:  appConfig.AllowedOrigins,
		MediaRoute:      appConfig.MediaRoute,
		MediaDir:        appConfig.MediaDir,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func registerCollectors(registry *prometheus.Registry, gateway *database.Gateway) error {
	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(gateway.SQLDB(), "matebook"),
	} {
		if err := registry.Register(collector); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}
