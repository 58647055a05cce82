/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the classroom points service. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (CLASSPOINTS_* variables)
  2. Configure logging
  3. Open the JSON document store
  4. Start the event bus
  5. Wire the handler graph and router
  6. Serve until SIGINT/SIGTERM, then drain

GRACEFUL SHUTDOWN:
  On signal: stop accepting connections, wait up to 30s for in-flight
  requests, close the bus (which disconnects every SSE subscriber), exit.

ENVIRONMENT:
  See config/config.go for the variable list. CLASSPOINTS_JWT_SECRET is the
  only required setting.
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/classpoints/api"
	"github.com/warp/classpoints/config"
	"github.com/warp/classpoints/events"
	"github.com/warp/classpoints/store/jsonfile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("configuration error")
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	entry := logrus.NewEntry(log)

	store, err := jsonfile.New(cfg.DataDir, entry)
	if err != nil {
		log.WithError(err).Fatal("failed to open data directory")
	}

	bus := events.NewBus(entry)
	defer bus.Close()

	handler := api.NewHandler(store, bus, []byte(cfg.JWTSecret), entry)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE streams are long-lived; per-write deadlines
		// are enforced on the stream itself.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "dataDir": cfg.DataDir}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("server stopped")
}
