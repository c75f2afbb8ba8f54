package expense

import (
	"fmt"
	"math"
	"time"
)

// Status marks a record as live or tombstoned. Deletions are never physical:
// a tombstone keeps the record's identity and timestamp so they can be
// reconciled across stores.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Consumption tax rates (percent). 10 is the standard rate, 8 the reduced
// rate for qualifying goods.
const (
	TaxRateStandard = 10
	TaxRateReduced  = 8
)

// DefaultPaymentMethod is used when no payment method is supplied.
const DefaultPaymentMethod = "現金"

// Categories is the fixed business-expense label set, in display order.
var Categories = []string{
	"交通費",
	"会議費",
	"接待交際費",
	"消耗品費",
	"通信費",
	"図書研究費",
	"その他",
}

// Record represents a single expense entry with metadata
type Record struct {
	ID            string    `json:"id"`
	Date          string    `json:"date"` // ISO 8601 (YYYY-MM-DD)
	StoreName     string    `json:"storeName,omitempty"`
	Category      string    `json:"category"`
	Amount        int       `json:"amount"` // whole yen
	PaymentMethod string    `json:"paymentMethod"`
	Project       string    `json:"project,omitempty"`
	Memo          string    `json:"memo,omitempty"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	TaxRate       int       `json:"taxRate"`
	TaxExcluded   int       `json:"taxExcludedAmount"`
	Tax           int       `json:"taxAmount"`
	ImageURL      string    `json:"imageReference,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SplitTax computes the tax-excluded amount and the tax portion of a
// tax-included amount. The excluded amount is rounded first and the tax is
// the remainder, so the two always sum back to the original amount.
func SplitTax(amount, taxRate int) (excluded, tax int) {
	excluded = int(math.Round(float64(amount) / (1 + float64(taxRate)/100)))
	tax = amount - excluded
	return excluded, tax
}

// New constructs a Record, fills defaults and derived tax fields, and stamps
// both timestamps. The timestamp is a required parameter so a record without
// a modification time cannot exist.
func New(id string, date string, category string, amount int, now time.Time) Record {
	rec := Record{
		ID:            id,
		Date:          date,
		Category:      category,
		Amount:        amount,
		PaymentMethod: DefaultPaymentMethod,
		TaxRate:       TaxRateStandard,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.TaxExcluded, rec.Tax = SplitTax(rec.Amount, rec.TaxRate)
	return rec
}

// Touch refreshes derived fields and the modification timestamp. Every
// mutation path must call this before the record is written anywhere.
func (r *Record) Touch(now time.Time) {
	if r.PaymentMethod == "" {
		r.PaymentMethod = DefaultPaymentMethod
	}
	if r.TaxRate == 0 {
		r.TaxRate = TaxRateStandard
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	r.TaxExcluded, r.Tax = SplitTax(r.Amount, r.TaxRate)
	r.UpdatedAt = now
}

// Tombstone marks the record deleted with a fresh modification time so the
// deletion wins reconciliation against older copies.
func (r *Record) Tombstone(now time.Time) {
	r.Status = StatusDeleted
	r.UpdatedAt = now
}

// Validate checks the required fields before any write.
func (r *Record) Validate() error {
	if r.Date == "" {
		return &ValidationError{Field: "date", Reason: "date is required"}
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return &ValidationError{Field: "date", Reason: fmt.Sprintf("date must be YYYY-MM-DD: %q", r.Date)}
	}
	if r.Category == "" {
		return &ValidationError{Field: "category", Reason: "category is required"}
	}
	if r.Amount < 0 {
		return &ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}
	if r.TaxRate != TaxRateStandard && r.TaxRate != TaxRateReduced {
		return &ValidationError{Field: "taxRate", Reason: fmt.Sprintf("tax rate must be %d or %d", TaxRateReduced, TaxRateStandard)}
	}
	return nil
}
