// main is the entry point of the Persons API.
//
// STARTUP SEQUENCE:
//  1. Load configuration from a YAML file (+ env overrides)
//  2. Initialise the logger
//  3. Open the persistence provider (connection pool + schema)
//  4. Build the router
//  5. Start the HTTP server in a separate goroutine
//  6. Block until SIGINT / SIGTERM
//  7. Drain in-flight requests, then close the provider
//
// RUNNING THE SERVER:
//
//	go run ./cmd/persons-api --config=config/local.yaml
//
// or (with the environment variable):
//
//	CONFIG_PATH=config/local.yaml go run ./cmd/persons-api
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aanand-mishra/persons-api/internal/config"
	"github.com/aanand-mishra/persons-api/internal/http/handlers/person"
	"github.com/aanand-mishra/persons-api/internal/http/router"
	"github.com/aanand-mishra/persons-api/internal/logger"
	"github.com/aanand-mishra/persons-api/internal/storage/sqlstore"
)

const version = "1.0.0"

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting persons-api", "env", cfg.Env, "version", version)

	// A provider that cannot start is fatal: the process never serves.
	provider, err := sqlstore.New(cfg.Storage)
	if err != nil {
		log.Fatal("failed to initialise storage", "driver", cfg.Storage.Driver, "error", err)
	}
	log.Info("storage initialised", "driver", cfg.Storage.Driver, "seed", cfg.Storage.Seed)

	res := person.NewResource(provider, log)

	server := &http.Server{
		Addr:         cfg.HTTPServer.Addr,
		Handler:      router.New(res, log, cfg.HTTPServer.BasePath),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("server started", "address", cfg.HTTPServer.Addr, "base_path", cfg.HTTPServer.BasePath)

		// ErrServerClosed is the normal result of Shutdown.
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server encountered an error", "error", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	exitCode := 0
	if err := server.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown server gracefully", "error", err)
		exitCode = 1
	}

	// Requests have drained (or timed out); only now release the pool.
	stats := provider.Stats()
	log.Info("closing storage", "open_conns", stats.Open, "in_use", stats.InUse)
	if err := provider.Close(); err != nil {
		log.Error("failed to close storage", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		log.Sync()
		os.Exit(exitCode)
	}
	log.Info("server stopped gracefully")
}
