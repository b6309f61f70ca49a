package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB represents a PostgreSQL JSONB field used by the audit-trail tables.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// PartyKind distinguishes the role a party plays in an order.
type PartyKind string

const (
	PartyKindVendor   PartyKind = "vendor"
	PartyKindRider    PartyKind = "rider"
	PartyKindCustomer PartyKind = "customer"
	PartyKindAdmin    PartyKind = "admin"
)

// Party is a vendor, rider, customer, or admin identified by id and phone.
type Party struct {
	Kind              PartyKind `json:"kind"`
	ID                string    `json:"id"`
	Phone             string    `json:"phone"` // normalized E.164
	DisplayName       string    `json:"displayName"`
	PreferredLanguage string    `json:"preferredLanguage"`
}

// OrderState is the Core Backend's order lifecycle state. The core never
// owns this transition matrix, only requests transitions into it.
type OrderState string

const (
	OrderStatePending        OrderState = "pending"
	OrderStatePartial        OrderState = "partial"
	OrderStateConfirmed      OrderState = "confirmed"
	OrderStateProcessing     OrderState = "processing"
	OrderStateHandover       OrderState = "handover"
	OrderStateOutForDelivery OrderState = "out_for_delivery"
	OrderStateDelivered      OrderState = "delivered"
	OrderStateCancelled      OrderState = "cancelled"
)

// PaymentMode is how the order total is being settled.
type PaymentMode string

const (
	PaymentModePrepaid PaymentMode = "prepaid"
	PaymentModeCOD     PaymentMode = "cod"
)

// Item is a single line in an order.
type Item struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Order is the core's read-only view of a Core Backend order. It is never
// mutated locally and is cached for at most 30s (see backend.Client).
type Order struct {
	ID          string      `json:"orderId"`
	Amount      int64       `json:"amount"` // fixed-point, minor units (paise)
	PaymentMode PaymentMode `json:"paymentMode"`
	State       OrderState  `json:"state"`
	Vendor      Party       `json:"vendor"`
	Customer    Party       `json:"customer"`
	Rider       *Party      `json:"rider,omitempty"`
	Items       []Item      `json:"items"`
}
