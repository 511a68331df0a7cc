// Command ttl-stream consumes the table stream: it emits order and stock
// facts and purges cart lines after the TTL service removes a cart header.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/notify"
	"github.com/sicko7947/shopstore/store"
	"github.com/sicko7947/shopstore/stream"
)

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx := context.Background()
	cfg, err := shopstore.LoadConfig(os.Getenv("SHOPSTORE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	client, err := store.NewDynamoDBClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create DynamoDB client")
	}
	db := store.NewDynamoDBStore(client, cfg, store.WithLogger(log.Logger))

	// Facts are delivered synchronously so a failed delivery fails the
	// record and the stream retries it.
	notifier := notify.Multi{db.Notifications(), notify.LogNotifier{Logger: log.Logger}}

	handler := stream.NewHandler(db.Carts(), deadline(notifier, cfg.NotifyTimeout),
		stream.WithLogger(log.Logger),
		stream.WithLowStockThreshold(cfg.LowStockThreshold),
	)

	lambda.Start(handler.Handle)
}

// deadline bounds each delivery to the configured notify timeout
func deadline(next shopstore.Notifier, timeout time.Duration) shopstore.Notifier {
	if timeout <= 0 {
		return next
	}
	return shopstore.NotifierFunc(func(ctx context.Context, fact shopstore.Fact) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return next.Notify(ctx, fact)
	})
}
