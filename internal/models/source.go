package models

import "time"

// SourceRecord is an order as the legacy commerce source returns it. Ids,
// statuses and amounts are kept as raw strings; nothing here is trusted until
// the reconciliation engine has validated and mapped it.
type SourceRecord struct {
	Id           string    `json:"id"`
	BuyerRef     string    `json:"buyer_ref" validate:"required"`
	Amount       string    `json:"amount" validate:"required,numeric"`
	Status       string    `json:"status" validate:"required"`
	ItemRef      string    `json:"item_ref" validate:"required"`
	AffiliateRef string    `json:"affiliate_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Malformed is set when the record arrived in a shape that could not be
	// read. The engine counts such records as invalid.
	Malformed string `json:"-"`
}

// Page is one page of records from the legacy source.
type Page struct {
	Number     int
	Offset     int
	Cursor     string
	NextCursor string
	HasMore    bool
	Records    []SourceRecord
}
