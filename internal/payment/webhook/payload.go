package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTransactionCompleted  = "transaction.completed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionUpdated   = "subscription.updated"
)

type envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type itemPrice struct {
	ID string `json:"id"`
}

type itemProduct struct {
	PriceID string `json:"price_id"`
}

type lineItem struct {
	PriceID string       `json:"price_id"`
	Price   *itemPrice   `json:"price"`
	Product *itemProduct `json:"product"`
}

type totals struct {
	GrandTotal   decimal.Decimal `json:"grand_total"`
	CurrencyCode string          `json:"currency_code"`
}

// eventData is the union of the transaction and subscription fields used here.
type eventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	AddressID      string         `json:"address_id"`
	SubscriptionID string         `json:"subscription_id"`
	InvoiceID      string         `json:"invoice_id"`
	OrderID        string         `json:"order_id"`
	CurrencyCode   string         `json:"currency_code"`
	BilledAt       string         `json:"billed_at"`
	NextBilledAt   string         `json:"next_billed_at"`
	CustomData     map[string]any `json:"custom_data"`
	Customer       *customer      `json:"customer"`
	Items          []lineItem     `json:"items"`
	Details        struct {
		Totals totals `json:"totals"`
	} `json:"details"`
}

// clientID reads the client reference the checkout stored in custom_data.
func (d eventData) clientID() string {
	for _, key := range []string{"client_id", "custom_data[client_id]"} {
		if value := stringValue(d.CustomData[key]); value != "" {
			return value
		}
	}
	return ""
}

// priceID accepts the shapes Paddle has used for the first line item.
func (d eventData) priceID() string {
	if len(d.Items) == 0 {
		return ""
	}
	item := d.Items[0]
	if item.Price != nil && strings.TrimSpace(item.Price.ID) != "" {
		return strings.TrimSpace(item.Price.ID)
	}
	if strings.TrimSpace(item.PriceID) != "" {
		return strings.TrimSpace(item.PriceID)
	}
	if item.Product != nil {
		return strings.TrimSpace(item.Product.PriceID)
	}
	return ""
}

func (d eventData) email() string {
	if d.Customer == nil {
		return ""
	}
	return strings.TrimSpace(d.Customer.Email)
}

func (d eventData) customerID() string {
	if id := strings.TrimSpace(d.CustomerID); id != "" {
		return id
	}
	if d.Customer != nil {
		return strings.TrimSpace(d.Customer.ID)
	}
	return ""
}

// subscriptionID is the subscription entity id on subscription events and
// the linked subscription on transactions.
func (d eventData) subscriptionID(eventType string) string {
	if strings.HasPrefix(eventType, "subscription.") {
		return strings.TrimSpace(d.ID)
	}
	return strings.TrimSpace(d.SubscriptionID)
}

func (d eventData) currency() string {
	if code := strings.TrimSpace(d.CurrencyCode); code != "" {
		return strings.ToUpper(code)
	}
	return strings.ToUpper(strings.TrimSpace(d.Details.Totals.CurrencyCode))
}

// grandTotal converts the minor-unit string total into major units.
func (d eventData) grandTotal() decimal.Decimal {
	return d.Details.Totals.GrandTotal.Shift(-2)
}

func parseTimestamp(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func stringValue(value any) string {
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case json.Number:
		return cast.String()
	case float64:
		return decimal.NewFromFloat(cast).String()
	default:
		return ""
	}
}
