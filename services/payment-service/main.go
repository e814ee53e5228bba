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

	"github.com/ashendes/petadoption-payments/internal/config"
	"github.com/ashendes/petadoption-payments/internal/gateway"
	"github.com/ashendes/petadoption-payments/internal/idempotency"
	"github.com/ashendes/petadoption-payments/internal/ledger"
	"github.com/ashendes/petadoption-payments/internal/ledger/sqlite"
	"github.com/ashendes/petadoption-payments/internal/notify"
	"github.com/ashendes/petadoption-payments/internal/patterns"
	"github.com/ashendes/petadoption-payments/internal/payment"
	"github.com/ashendes/petadoption-payments/internal/settlement"
	"github.com/ashendes/petadoption-payments/internal/txnid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

const shutdownTimeout = 20 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:     "payment-service",
		Short:   "Donation payment intake service",
		Version: Version,
		RunE:    runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pendingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func setupLogging(level string) {
	log.SetFormatter(&log.JSONFormatter{})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// closer releases a resource at shutdown
type closer func() error

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.WithField("error", err.Error()).Warn("Failed to release resource")
			}
		}
	}()

	store, closeStore, err := openIdempotencyStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	ldg, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeLedger)

	registry, err := gateway.Build(cfg.GatewayRoutes, cfg.Providers(), gateway.BuildOptions{
		HTTP: gateway.HTTPOptions{
			Timeout:      cfg.GatewayTimeout,
			Service:      payment.ServiceName,
			Breaker:      patterns.DefaultBreakerSettings,
			BulkheadSize: cfg.BulkheadSize,
			BulkheadWait: cfg.BulkheadWait,
		},
		MockEnabled:   cfg.MockGateway,
		MockSlowDelay: cfg.MockSlowDelay,
	})
	if err != nil {
		return fmt.Errorf("build gateway registry: %w", err)
	}

	dispatcher, closeDispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeDispatcher)
	notifier := notify.NewBestEffort("donation", dispatcher, cfg.NotificationTimeout)

	service := payment.NewService(payment.Config{
		Issuer: txnid.NewGenerator(store),
		Ledger: ldg,
		Settler: settlement.NewMediator(settlement.Config{
			Gateways: registry,
			Ledger:   ldg,
			Notifier: notifier,
			Timeout:  cfg.GatewayTimeout,
		}),
		ReplayWait: cfg.ReplayWait,
	})

	router := payment.NewRouter(payment.NewHandler(service))

	// Health check endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/payment/status", getStatus(registry, cfg))

	// Chaos engineering endpoints
	if cfg.ChaosEnabled {
		registerChaos(router, registry)
	}

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("Payment Service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Payment Service shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("HTTP server did not shut down cleanly")
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("Pending notifications were abandoned")
	}
	return nil
}

func openIdempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, closer, error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, idempotency keys are kept in memory")
		return idempotency.NewMemory(cfg.IdempotencyTTL), func() error { return nil }, nil
	}
	store, err := idempotency.ConnectRedis(ctx, cfg.RedisAddr, cfg.IdempotencyTTL)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("addr", cfg.RedisAddr).Info("Idempotency store connected")
	return store, store.Close, nil
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, closer, error) {
	if cfg.LedgerPath == "" {
		log.Warn("LEDGER_PATH not set, transactions are kept in memory")
		return ledger.NewMemory(), func() error { return nil }, nil
	}
	store, err := sqlite.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("path", cfg.LedgerPath).Info("Ledger opened")
	return store, store.Close, nil
}

func buildDispatcher(cfg config.Config) (notify.Dispatcher, closer, error) {
	dispatchers := notify.Multi{notify.LogDispatcher{}}
	closeAll := func() error { return nil }

	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := notify.DialKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		dispatchers = append(dispatchers, kafka)
		closeAll = kafka.Close
	}
	if cfg.NotifyWebhookURL != "" {
		dispatchers = append(dispatchers, notify.NewWebhookDispatcher(cfg.NotifyWebhookURL, cfg.NotificationTimeout))
		log.WithField("url", cfg.NotifyWebhookURL).Info("Notification webhook configured")
	}
	return dispatchers, closeAll, nil
}
