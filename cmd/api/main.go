// Package main runs the thin API in front of the payment processor, the SMS
// gateway, the managed database and the push transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nsqio/go-nsq"
	"github.com/rs/cors"

	"github.com/kimhsiao/ridelink/backend/internal/admin"
	"github.com/kimhsiao/ridelink/backend/internal/api"
	"github.com/kimhsiao/ridelink/backend/internal/config"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	configPath := flag.String("config", "etc/ridelink.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the API server and the connections it owns.
type app struct {
	config   config.Config
	server   *api.Server
	producer *nsq.Producer
	nsqLog   *io.PipeWriter
	alerts   *admin.AlertStore
	logger   *logging.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *logging.Logger) (*app, error) {
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	a := &app{config: cfg, logger: logger}
	deps := api.Deps{
		Config:    cfg.API,
		PushTopic: cfg.Push.Topic,
		Logger:    logger,
	}

	if cfg.Push.ProducerAddr != "" {
		producer, err := nsq.NewProducer(cfg.Push.ProducerAddr, nsq.NewConfig())
		if err != nil {
			return nil, fmt.Errorf("create nsq producer: %w", err)
		}
		a.nsqLog = logger.With("nsq").Writer()
		producer.SetLogger(log.New(a.nsqLog, "[nsq] ", 0), nsq.LogLevelWarning)
		a.producer = producer
		deps.Publisher = producer
	}

	if cfg.API.Admin.DSN != "" {
		alerts, err := admin.OpenMySQL(cfg.API.Admin.DSN, cfg.API.Admin.MaxOpenConns)
		if err != nil {
			a.close()
			return nil, err
		}
		a.alerts = alerts
		if err := alerts.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		deps.Alerts = alerts
	}

	a.server = api.NewServer(deps)
	return a, nil
}

// handler wraps the gin router in CORS for the configured web origins.
func (a *app) handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   a.config.API.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(a.server.Router())
}

// sweepLoop forgets idle rate-limit buckets until ctx is done.
func (a *app) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.server.Limiter().Sweep(); removed > 0 {
				a.logger.Debug("rate limiter swept", map[string]interface{}{"removed": removed})
			}
		}
	}
}

func (a *app) close() {
	if a.producer != nil {
		a.producer.Stop()
		a.nsqLog.Close()
	}
	if a.alerts != nil {
		if err := a.alerts.Close(); err != nil {
			a.logger.Error("close admin store failed", err)
		}
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.sweepLoop(ctx, sweepInterval)

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           a.handler(),
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      cfg.API.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", map[string]interface{}{"addr": cfg.API.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
