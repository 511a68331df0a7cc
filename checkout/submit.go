package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/store"
)

// submit sends one transaction and retries it with the same token while the
// store reports a retryable failure. The returned error is unclassified on
// the last attempt so cancellation reasons stay inspectable.
//
// Retrying replays every write of items, stock changes included. That is
// only sound because a cancelled or throttled transaction writes nothing and
// every transaction built here carries a condition that its own commit
// breaks: the order header is put with attribute_not_exists and status
// changes are conditioned on the version they read. A replay after an unseen
// commit is therefore cancelled as a whole. Order creation also passes a
// ClientRequestToken so a replay returns the first outcome. A caller adding
// a transaction without such a condition must pass a token, never "".
func (c *Coordinator) submit(ctx context.Context, items []types.TransactWriteItem, token, op string, key store.Key) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.WriteRetries; attempt++ {
		if attempt > 0 {
			delay := shopstore.CalculateBackoff(c.config.RetryDelayMs, attempt, c.config.RetryBackoff)
			c.logger.Warn().
				Str("operation", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying transaction")
			if delay > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("failed to %s: %w", op, ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		lastErr = c.db.Transact(ctx, items, token)
		if lastErr == nil {
			return nil
		}
		if !shopstore.IsRetryable(store.Classify(lastErr, op, "", key)) {
			return lastErr
		}
	}

	c.logger.Error().
		Str("operation", op).
		Int("max_retries", c.config.WriteRetries).
		Err(lastErr).
		Msg("Transaction failed after all retries exhausted")
	return lastErr
}

// notify hands a fact to the notifier. Delivery failures are logged and
// never reach the caller.
func (c *Coordinator) notify(ctx context.Context, fact shopstore.Fact) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), fact); err != nil {
		shopstore.LogFactDropped(c.logger, fact.Kind, fact.EntityID, err)
	}
}

// record appends to the audit trail with the same delivery rules as notify
func (c *Coordinator) record(ctx context.Context, entry shopstore.AuditEntry) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn().
			Str("event", shopstore.EventFactDropped).
			Str("action", entry.Action).
			Str("entity_id", entry.EntityID).
			Err(err).
			Msg("Audit entry dropped")
	}
}
