package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"gorm.io/gorm"
)

func MustNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// InsertClient stores an active scale-plan client and applies mutate first.
func InsertClient(t testing.TB, db *gorm.DB, id string, createdAt time.Time, mutate func(*clientdomain.BillingRecord)) *clientdomain.BillingRecord {
	t.Helper()
	record := &clientdomain.BillingRecord{
		ID:              id,
		Name:            "Client " + id,
		PlanType:        "scale",
		PlanRank:        3,
		MinuteAllowance: 5000,
		PricePerMinute:  decimal.RequireFromString("0.23"),
		AgentStatus:     clientdomain.AgentActive,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       createdAt.UTC(),
	}
	if mutate != nil {
		mutate(record)
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("insert client: %v", err)
	}
	return record
}

// LoadClient reads a client row back, failing the test when missing.
func LoadClient(t testing.TB, db *gorm.DB, id string) clientdomain.BillingRecord {
	t.Helper()
	var record clientdomain.BillingRecord
	if err := db.Where("id = ?", id).Take(&record).Error; err != nil {
		t.Fatalf("load client %s: %v", id, err)
	}
	return record
}

func AssertCount(t testing.TB, db *gorm.DB, table string, want int64) {
	t.Helper()
	var got int64
	if err := db.Table(table).Count(&got).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if got != want {
		t.Fatalf("expected %d rows in %s, got %d", want, table, got)
	}
}
