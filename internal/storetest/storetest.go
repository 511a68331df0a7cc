// Package storetest provisions an in-memory table for package tests
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/internal/localddb"
	"github.com/sicko7947/shopstore/store"
	"github.com/stretchr/testify/require"
)

// Table is a provisioned in-memory table with a store over it
type Table struct {
	Local *localddb.Store
	Store *store.DynamoDBStore
	Clock *Clock
}

// Clock is a settable time source shared by the table and the store
type Clock struct {
	at time.Time
}

// Now returns the current fake time
func (c *Clock) Now() time.Time { return c.at }

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) { c.at = c.at.Add(d) }

// New opens an in-memory table named after the test config, creates the
// single-table layout on it and returns a store wired to it
func New(t *testing.T, opts ...func(*shopstore.Config)) *Table {
	t.Helper()

	cfg := shopstore.DefaultConfig
	cfg.RetryDelayMs = 1
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := &Clock{at: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)}
	local, err := localddb.Open(localddb.Options{InMemory: true, Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() {
		local.Close()
	})

	logger := zerolog.Nop()
	require.NoError(t, store.EnsureTable(context.Background(), local, cfg.TableName, logger))

	db := store.NewDynamoDBStore(local, cfg, store.WithLogger(logger), store.WithClock(clock.Now))
	return &Table{Local: local, Store: db, Clock: clock}
}
