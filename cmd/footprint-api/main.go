package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/auth"
	"github.com/MarcoPoloResearchLab/footprint/internal/config"
	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/database"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"github.com/MarcoPoloResearchLab/footprint/internal/logging"
	"github.com/MarcoPoloResearchLab/footprint/internal/media"
	"github.com/MarcoPoloResearchLab/footprint/internal/payments"
	"github.com/MarcoPoloResearchLab/footprint/internal/publish"
	"github.com/MarcoPoloResearchLab/footprint/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "footprint-api",
		Short: "Footprint publish and identity service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newClassifyCommand())

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
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Owner token signing secret (overrides env)")
	cmd.PersistentFlags().String("webhook-secret", "", "Payment notification secret (overrides env)")
	cmd.PersistentFlags().Int64("serial-start", defaults.GetInt64("serial.start"), "First serial number for a fresh store")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "payments.webhook_secret", "webhook-secret")
	bindFlag(cmd, "serial.start", "serial-start")
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

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <input>",
		Short: "Print the descriptor a pasted input classifies to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(content.Classify(strings.Join(args, " ")))
		},
	}
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

	db, err := database.Open(database.Config{
		Driver:      appConfig.DatabaseDriver,
		Path:        appConfig.DatabasePath,
		DSN:         appConfig.DatabaseDSN,
		SerialStart: appConfig.SerialStart,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	allocator, err := identity.NewAllocator(identity.AllocatorConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	ledger, err := identity.NewLedger(identity.LedgerConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	pages, err := footprints.NewRepository(footprints.RepositoryConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	tiles, err := content.NewStore(content.StoreConfig{
		Database:   db,
		IDProvider: content.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
		MaxTiles:   appConfig.MaxTiles,
	})
	if err != nil {
		return err
	}

	events, err := payments.NewEventStore(payments.EventStoreConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	verifier, err := payments.NewEventVerifier(payments.EventVerifierConfig{
		WebhookSecret: []byte(appConfig.PaymentsWebhookKey),
		Clock:         time.Now,
	})
	if err != nil {
		return err
	}

	lookupConfig := payments.LookupConfig{Events: events, Logger: logger}
	var checkout server.CheckoutGateway
	if appConfig.PaymentsGatewayEnabled() {
		gateway, err := payments.NewHTTPGateway(payments.HTTPGatewayConfig{
			BaseURL:    appConfig.PaymentsAPIURL,
			SecretKey:  appConfig.PaymentsSecretKey,
			HTTPClient: &http.Client{Timeout: appConfig.PaymentLookupTimeout},
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		lookupConfig.Fallback = gateway
		checkout = gateway
	}
	lookup, err := payments.NewLookup(lookupConfig)
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	coordinator, err := publish.NewCoordinator(publish.Config{
		Database:      db,
		Payments:      lookup,
		Allocator:     allocator,
		Ledger:        ledger,
		Pages:         pages,
		Content:       tiles,
		Notifier:      server.NewPublishNotifier(dispatcher, logger),
		LookupTimeout: appConfig.PaymentLookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	var uploader server.MediaUploader
	if appConfig.MediaEnabled() {
		blobStore, err := media.NewS3Store(ctx, media.S3Config{
			Bucket:          appConfig.S3.Bucket,
			Region:          appConfig.S3.Region,
			Endpoint:        appConfig.S3.Endpoint,
			AccessKeyID:     appConfig.S3.AccessKeyID,
			SecretAccessKey: appConfig.S3.SecretAccessKey,
			PublicBaseURL:   appConfig.S3.PublicBaseURL,
		})
		if err != nil {
			return err
		}
		mediaUploader, err := media.NewUploader(media.UploaderConfig{
			Store:          blobStore,
			MaxUploadBytes: appConfig.MaxUploadBytes,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		uploader = mediaUploader
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Publisher:   coordinator,
		Pages:       pages,
		Tiles:       tiles,
		OwnerTokens: tokenIssuer,
		Checkout:    checkout,
		CheckoutSettings: server.CheckoutSettings{
			PriceCents: appConfig.CheckoutPriceCents,
			Currency:   appConfig.CheckoutCurrency,
			SuccessURL: appConfig.CheckoutSuccessURL,
			CancelURL:  appConfig.CheckoutCancelURL,
		},
		EventVerifier: verifier,
		EventRecorder: events,
		Uploader:      uploader,
		Realtime:      dispatcher,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.Bool("payments_gateway", appConfig.PaymentsGatewayEnabled()),
			zap.Bool("media_uploads", appConfig.MediaEnabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
