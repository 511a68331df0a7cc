package store

import (
	"context"
	"time"

	"github.com/sicko7947/shopstore"
	"github.com/voxtechnica/tuid-go"
)

func auditSchema() Schema[*shopstore.AuditLog] {
	return Schema[*shopstore.AuditLog]{
		EntityType: EntityTypeAuditLog,
		New:        func() *shopstore.AuditLog { return &shopstore.AuditLog{} },
		Key:        func(a *shopstore.AuditLog) Key { return AuditKey(a.ID) },
		Indexes: func(a *shopstore.AuditLog) []IndexKey {
			return []IndexKey{auditDateIndex(a), auditEntityIndex(a)}
		},
		Required: []string{"id", "action"},
	}
}

// AuditRepository is the append-only audit trail
type AuditRepository struct {
	db    *DynamoDBStore
	audit *Repository[*shopstore.AuditLog]
}

var _ shopstore.AuditStore = (*AuditRepository)(nil)

func newAuditRepository(db *DynamoDBStore) *AuditRepository {
	return &AuditRepository{
		db:    db,
		audit: NewRepository(db, auditSchema()),
	}
}

// Record appends an entry
func (r *AuditRepository) Record(ctx context.Context, entry shopstore.AuditEntry) error {
	if entry.Action == "" {
		return shopstore.NewValidationError("audit action is required")
	}
	at := entry.OccurredAt
	if at.IsZero() {
		at = r.db.now()
	}

	a := &shopstore.AuditLog{
		ID:         tuid.NewIDWithTime(at).String(),
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Actor:      entry.Actor,
		Details:    entry.Details,
		TTL:        shopstore.ExpiryFrom(r.db.now(), r.db.config.AuditTTL),
	}
	a.CreatedAt = at

	_, err := r.audit.Create(ctx, a)
	return err
}

func (r *AuditRepository) Get(ctx context.Context, id string) (*shopstore.AuditLog, error) {
	return r.audit.Get(ctx, AuditKey(id), false)
}

// ListByDate lists the entries of one UTC day in time order
func (r *AuditRepository) ListByDate(ctx context.Context, day time.Time, page shopstore.PageRequest) (shopstore.Page[*shopstore.AuditLog], error) {
	ik := auditDateIndex(&shopstore.AuditLog{Lifecycle: shopstore.Lifecycle{CreatedAt: day}})
	return r.audit.List(ctx, ListQuery{Index: ik.Index, Partition: ik.PK}, page)
}

// ListForEntity lists the entries about one entity, newest first
func (r *AuditRepository) ListForEntity(ctx context.Context, entityType, entityID string, page shopstore.PageRequest) (shopstore.Page[*shopstore.AuditLog], error) {
	ik := auditEntityIndex(&shopstore.AuditLog{EntityType: entityType, EntityID: entityID})
	return r.audit.List(ctx, ListQuery{Index: ik.Index, Partition: ik.PK, Descending: true}, page)
}
