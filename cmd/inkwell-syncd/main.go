package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/auth"
	"github.com/inkwellhq/inkwell-sync/internal/broadcast"
	"github.com/inkwellhq/inkwell-sync/internal/config"
	"github.com/inkwellhq/inkwell-sync/internal/database"
	"github.com/inkwellhq/inkwell-sync/internal/localstore"
	"github.com/inkwellhq/inkwell-sync/internal/logging"
	"github.com/inkwellhq/inkwell-sync/internal/remote"
	"github.com/inkwellhq/inkwell-sync/internal/remote/httpapi"
	"github.com/inkwellhq/inkwell-sync/internal/remote/notify"
	"github.com/inkwellhq/inkwell-sync/internal/server"
	"github.com/inkwellhq/inkwell-sync/internal/syncer"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkwell-syncd",
		Short: "Inkwell offline-first sync daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("control-address", defaults.GetString("control.address"), "Control API listen address")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote file store base URL")
	cmd.PersistentFlags().String("notify-url", defaults.GetString("remote.notify_url"), "Remote notification stream URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("replica-id", defaults.GetString("sync.replica_id"), "Stable replica identifier for CRDT operations")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between periodic sync passes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Control API signing secret (overrides env)")

	bindFlag(cmd, "control.address", "control-address")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.notify_url", "notify-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "sync.replica_id", "replica-id")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "control.signing_secret", "signing-secret")
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
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := localstore.NewStore(localstore.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := store.EnsureMainFolder(ctx); err != nil {
		return err
	}

	replicaID, err := resolveReplicaID(ctx, appConfig.ReplicaID, store)
	if err != nil {
		return err
	}

	client, err := httpapi.NewClient(httpapi.ClientConfig{
		BaseURL:     appConfig.RemoteBaseURL,
		AccessToken: appConfig.RemoteAccessToken,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	hub := broadcast.NewHub()
	defer hub.Close()

	service, err := syncer.NewService(syncer.ServiceConfig{
		Store:        store,
		Folders:      client.Folders(),
		Notes:        client.Notes(),
		Attachments:  client,
		Feed:         client,
		Connectivity: client,
		Hub:          hub,
		ReplicaID:    replicaID,
		Logger:       logger,
		SkewBuffer:   appConfig.SkewBuffer,
	})
	if err != nil {
		return err
	}

	queue := syncer.NewDebounceQueue(syncer.DebounceQueueConfig{
		SettleWindow: appConfig.SettleWindow,
		Logger:       logger,
		Process: func([]remote.ChangeEvent) {
			service.Kick()
		},
	})

	tokens, err := auth.NewControlTokens(auth.ControlTokensConfig{
		SigningSecret: []byte(appConfig.ControlSigningSecret),
		PairingSecret: []byte(appConfig.ControlPairingSecret),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens: tokens,
		Syncer: service,
		Store:  store,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.ControlAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := service.Run(signalCtx, appConfig.SyncInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sync loop stopped", zap.Error(err))
		}
	}()

	if appConfig.NotifyURL != "" {
		listener, err := notify.NewListener(notify.ListenerConfig{
			URL:         appConfig.NotifyURL,
			AccessToken: appConfig.RemoteAccessToken,
			Handler:     queue.Enqueue,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := listener.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification listener stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api starting", zap.String("address", appConfig.ControlAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		queue.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// resolveReplicaID returns the configured replica id, or mints and persists
// one so CRDT operations keep a stable actor across restarts.
func resolveReplicaID(ctx context.Context, configured string, store *localstore.Store) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return store.EnsureReplicaID(ctx)
}
