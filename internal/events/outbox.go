package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes a billing event to store in the outbox.
type Event struct {
	ClientID  string
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Record is the billing_events row.
type Record struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	ClientID  string            `gorm:"type:text;not null;uniqueIndex:ux_billing_events_dedupe,priority:1"`
	EventType string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"not null"`
	DedupeKey *string           `gorm:"type:text;uniqueIndex:ux_billing_events_dedupe,priority:2"`
	Published bool              `gorm:"not null;default:false"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (Record) TableName() string { return "billing_events" }

// Outbox inserts billing events into the billing_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	if o == nil {
		return errors.New("outbox_unavailable")
	}
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	clientID := strings.TrimSpace(event.ClientID)
	if clientID == "" {
		return errors.New("invalid_client_id")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	var dedupeValue *string
	if dedupe := strings.TrimSpace(event.DedupeKey); dedupe != "" {
		dedupeValue = &dedupe
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (id, client_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (client_id, dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		clientID,
		name,
		payload,
		dedupeValue,
		time.Now().UTC(),
	).Error
}
