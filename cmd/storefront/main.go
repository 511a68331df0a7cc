package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/checkout"
	"github.com/sicko7947/shopstore/internal/localddb"
	"github.com/sicko7947/shopstore/notify"
	"github.com/sicko7947/shopstore/store"
	"github.com/sicko7947/shopstore/stream"
)

const memoryPath = ":memory:"

// Shared state used by the HTTP handlers
var (
	db          *store.DynamoDBStore
	coordinator *checkout.Coordinator
	dispatcher  *notify.Dispatcher
	local       *localddb.Store
)

// initializeApp loads the configuration and wires the store, checkout and
// notification components
func initializeApp(ctx context.Context) shopstore.Config {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	cfg, err := shopstore.LoadConfig(os.Getenv("SHOPSTORE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var client store.DynamoDBClient
	var admin store.TableAdmin
	if cfg.LocalPath != "" {
		local, err = localddb.Open(localddb.Options{
			Path:     cfg.LocalPath,
			InMemory: cfg.LocalPath == memoryPath,
		})
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.LocalPath).Msg("Failed to open local table")
		}
		client, admin = local, local
		log.Info().Str("path", cfg.LocalPath).Msg("Running against the local table")
	} else {
		ddb, err := store.NewDynamoDBClient(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create DynamoDB client")
		}
		client, admin = ddb, ddb
	}

	if err := store.EnsureTable(ctx, admin, cfg.TableName, log.Logger); err != nil {
		log.Fatal().Err(err).Str("table", cfg.TableName).Msg("Failed to provision table")
	}

	db = store.NewDynamoDBStore(client, cfg, store.WithLogger(log.Logger))

	dispatcher = notify.NewDispatcher(
		notify.Multi{db.Notifications(), notify.LogNotifier{Logger: log.Logger}},
		notify.WithLogger(log.Logger),
		notify.WithTimeout(cfg.NotifyTimeout),
	)

	coordinator = checkout.New(db,
		checkout.WithLogger(log.Logger),
		checkout.WithNotifier(dispatcher),
		checkout.WithAuditor(db.Audit()),
	)

	log.Info().Str("table", cfg.TableName).Msg("Storefront initialized successfully")
	return cfg
}

// runExpiry stands in for the TTL service and table stream in local mode:
// expired rows are removed and replayed through the stream handler
func runExpiry(ctx context.Context, cfg shopstore.Config, interval time.Duration) {
	handler := stream.NewHandler(db.Carts(), dispatcher,
		stream.WithLogger(log.Logger),
		stream.WithLowStockThreshold(cfg.LowStockThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sweeps int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		swept, err := local.SweepExpired(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Expiry sweep failed")
		}
		if len(swept) == 0 {
			continue
		}

		sweeps++
		records := make([]events.DynamoDBEventRecord, 0, len(swept))
		for i, e := range swept {
			records = append(records, stream.ExpiryRecord(fmt.Sprintf("sweep-%d-%d", sweeps, i), e.Item))
		}
		if _, err := handler.Handle(ctx, events.DynamoDBEvent{Records: records}); err != nil {
			log.Error().Err(err).Msg("Failed to process expired items")
		}
		log.Debug().Int("count", len(swept)).Msg("Expired items removed")
	}
}

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize shared components
	cfg := initializeApp(ctx)

	if local != nil {
		go runExpiry(ctx, cfg, time.Minute)
	}

	app := fiber.New(fiber.Config{
		AppName:      "shopstore storefront",
		ErrorHandler: errorHandler,
	})
	registerRoutes(app)

	// Start server in a goroutine
	go func() {
		addr := os.Getenv("STOREFRONT_ADDR")
		if addr == "" {
			addr = ":3000"
		}
		log.Info().Str("address", addr).Msg("Starting HTTP server")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	stop()
	dispatcher.Wait()
	if local != nil {
		if err := local.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close local table")
		}
	}

	log.Info().Msg("Server stopped")
}
