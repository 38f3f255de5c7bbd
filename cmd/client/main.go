// Package main runs the client session agent. Application windows talk to it
// over REST and a websocket on localhost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/kimhsiao/ridelink/backend/cmd/client/handlers"
	"github.com/kimhsiao/ridelink/backend/internal/config"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/session"
)

// Version is set at build time.
var Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "etc/ridelink.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	s, err := session.New(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Client.Addr,
		Handler:           newHandler(s, logger),
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("client agent listening", map[string]interface{}{"addr": cfg.Client.Addr, "version": Version})
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

// newHandler builds the agent's routes behind CORS for the window origins.
func newHandler(s *session.Session, logger *logging.Logger) http.Handler {
	syncHandler := handlers.NewSyncHandler(s.Scheduler, s.Store, logger)
	records := handlers.NewRecordsHandler(s.Store, s.Scheduler, s.Config.Client.UserID, logger)

	router := httprouter.New()
	router.GET("/api/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ridelink-client"}`))
	})

	router.GET("/api/sync/status", syncHandler.GetStatus)
	router.POST("/api/sync/now", syncHandler.TriggerSync)
	router.POST("/api/sync/online", syncHandler.SetOnline)

	router.POST("/api/trips", records.SaveTrip)
	router.POST("/api/messages", records.SaveMessage)
	router.GET("/api/pending", records.GetPending)
	router.GET("/api/preferences/:key", records.GetPreference)
	router.PUT("/api/preferences/:key", records.PutPreference)

	router.Handler(http.MethodGet, "/ws", s.Hub)
	router.Handler(http.MethodGet, "/app/*path", http.StripPrefix("/app", s.Proxy))

	origins := s.Config.Client.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)
}
