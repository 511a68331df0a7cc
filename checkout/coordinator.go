// Package checkout coordinates the multi-entity writes that a single
// repository cannot perform alone: placing an order, moving it through its
// lifecycle and cancelling it with stock returned to inventory.
package checkout

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/store"
)

// Coordinator builds and submits order transactions against the single table
type Coordinator struct {
	db       *store.DynamoDBStore
	config   shopstore.Config
	logger   zerolog.Logger
	notifier shopstore.Notifier
	auditor  shopstore.Auditor
	now      func() time.Time
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithLogger sets a custom logger for the coordinator
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConfig overrides the configuration taken from the store
func WithConfig(config shopstore.Config) Option {
	return func(c *Coordinator) {
		c.config = config
	}
}

// WithNotifier sets the collaborator that receives order facts
func WithNotifier(n shopstore.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithAuditor sets the collaborator that records performed actions
func WithAuditor(a shopstore.Auditor) Option {
	return func(c *Coordinator) {
		c.auditor = a
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator over db.
// If no logger is provided, a default stdout logger with Info level is used.
// Without a notifier or auditor the corresponding facts are not sent.
func New(db *store.DynamoDBStore, opts ...Option) *Coordinator {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	c := &Coordinator{
		db:     db,
		config: db.Config(),
		logger: defaultLogger,
		now:    db.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With().Str("component", "checkout").Logger()
	return c
}

// Line is one requested order line. A zero UnitPriceCents takes the
// catalog price of the variant, or of the product when the variant has none.
type Line struct {
	ProductID      int64  `json:"product_id"`
	VariantID      *int64 `json:"variant_id,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

// OrderInput is everything needed to place an order
type OrderInput struct {
	Email           string             `json:"email"`
	Currency        string             `json:"currency"`
	Lines           []Line             `json:"lines"`
	DiscountCode    string             `json:"discount_code,omitempty"`
	ShippingCents   int64              `json:"shipping_cents"`
	TaxCents        int64              `json:"tax_cents"`
	ShippingAddress *shopstore.Address `json:"shipping_address,omitempty"`

	// IdempotencyKey becomes the transaction's client request token.
	// Empty generates one per call.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"-"`
}

// Receipt is the result of a committed order. PendingLines lists line
// numbers written after the transaction that could not be stored.
type Receipt struct {
	Order        *shopstore.Order       `json:"order"`
	Items        []*shopstore.OrderItem `json:"items"`
	PendingLines []int                  `json:"pending_lines,omitempty"`
}

// maxTokenLength is the ClientRequestToken limit
const maxTokenLength = 36

func (in *OrderInput) validate() error {
	if in.Email == "" {
		return shopstore.NewValidationError("email is required")
	}
	if in.Currency == "" {
		return shopstore.NewValidationError("currency is required")
	}
	if len(in.Lines) == 0 {
		return shopstore.NewValidationError("an order needs at least one line")
	}
	if in.ShippingCents < 0 || in.TaxCents < 0 {
		return shopstore.NewValidationError("shipping and tax cannot be negative")
	}
	if len(in.IdempotencyKey) > maxTokenLength {
		return shopstore.NewValidationError("idempotency key is longer than %d characters", maxTokenLength)
	}
	for i, l := range in.Lines {
		if l.ProductID <= 0 {
			return shopstore.NewValidationError("line %d: product_id is required", i+1)
		}
		if l.VariantID != nil && *l.VariantID <= 0 {
			return shopstore.NewValidationError("line %d: variant_id must be positive", i+1)
		}
		if l.Quantity <= 0 {
			return shopstore.NewValidationError("line %d: quantity must be positive, got %d", i+1, l.Quantity)
		}
		if l.UnitPriceCents < 0 {
			return shopstore.NewValidationError("line %d: unit price cannot be negative", i+1)
		}
	}
	return nil
}
