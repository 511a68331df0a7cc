package store

import (
	"context"

	"github.com/sicko7947/shopstore"
	"github.com/voxtechnica/tuid-go"
)

func notificationSchema() Schema[*shopstore.Notification] {
	return Schema[*shopstore.Notification]{
		EntityType: EntityTypeNotification,
		New:        func() *shopstore.Notification { return &shopstore.Notification{} },
		Key:        func(n *shopstore.Notification) Key { return NotificationKey(n.ID) },
		Indexes: func(n *shopstore.Notification) []IndexKey {
			return []IndexKey{notificationEntityIndex(n), notificationStatusIndex(n)}
		},
		Required: []string{"id", "kind"},
	}
}

// NotificationRepository persists facts for back-office display. Ids are
// TUIDs, so index partitions sort by creation time.
type NotificationRepository struct {
	db            *DynamoDBStore
	notifications *Repository[*shopstore.Notification]
}

var _ shopstore.NotificationStore = (*NotificationRepository)(nil)

func newNotificationRepository(db *DynamoDBStore) *NotificationRepository {
	return &NotificationRepository{
		db:            db,
		notifications: NewRepository(db, notificationSchema()),
	}
}

// Notify stores fact as an unread notification
func (r *NotificationRepository) Notify(ctx context.Context, fact shopstore.Fact) error {
	if fact.Kind == "" || fact.EntityID == "" {
		return shopstore.NewValidationError("fact needs a kind and entity id")
	}
	at := fact.OccurredAt
	if at.IsZero() {
		at = r.db.now()
	}

	n := &shopstore.Notification{
		ID:         tuid.NewIDWithTime(at).String(),
		Kind:       fact.Kind,
		EntityType: fact.EntityType,
		EntityID:   fact.EntityID,
		Message:    fact.Message,
		Attributes: fact.Attributes,
		TTL:        shopstore.ExpiryFrom(r.db.now(), r.db.config.NotificationTTL),
	}
	n.CreatedAt = at

	_, err := r.notifications.Create(ctx, n)
	return err
}

func (r *NotificationRepository) Get(ctx context.Context, id string) (*shopstore.Notification, error) {
	if !tuid.IsValid(tuid.TUID(id)) {
		return nil, shopstore.NewValidationError("notification id %q is not a TUID", id)
	}
	return r.notifications.Get(ctx, NotificationKey(id), false)
}

// ListForEntity lists the notifications about one entity, newest first
func (r *NotificationRepository) ListForEntity(ctx context.Context, entityType, entityID string, page shopstore.PageRequest) (shopstore.Page[*shopstore.Notification], error) {
	return r.list(ctx, notificationEntityIndex(&shopstore.Notification{EntityType: entityType, EntityID: entityID}), page)
}

// ListUnread lists unread notifications, newest first
func (r *NotificationRepository) ListUnread(ctx context.Context, page shopstore.PageRequest) (shopstore.Page[*shopstore.Notification], error) {
	return r.list(ctx, notificationStatusIndex(&shopstore.Notification{}), page)
}

func (r *NotificationRepository) list(ctx context.Context, ik IndexKey, page shopstore.PageRequest) (shopstore.Page[*shopstore.Notification], error) {
	live := unexpiredFilter(r.db.now())
	return r.notifications.List(ctx, ListQuery{
		Index:      ik.Index,
		Partition:  ik.PK,
		Descending: true,
		Filter:     &live,
	}, page)
}

// MarkRead moves a notification out of the unread partition
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (*shopstore.Notification, error) {
	return r.notifications.Update(ctx, NotificationKey(id), func(n *shopstore.Notification) error {
		n.Read = true
		return nil
	})
}
