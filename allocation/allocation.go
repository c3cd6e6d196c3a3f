// Package allocation validates proposed batch/serial allocations against a
// line quantity. Both receipt workflows run every incoming payload through
// here exactly once, at the boundary, before any row is written.
package allocation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grndock/infrastructure/fault"
)

// QuantityTolerance is the allowed drift between a line quantity and the
// sum of its batch allocations.
var QuantityTolerance = decimal.New(1, -3) // 0.001

// SerialInput is one proposed serial unit. JSON keys follow the ERP wire
// shape so validated payloads can be stored and posted verbatim.
type SerialInput struct {
	InternalSerialNumber     string     `json:"InternalSerialNumber"`
	ManufacturerSerialNumber string     `json:"ManufacturerSerialNumber,omitempty"`
	ManufactureDate          *time.Time `json:"ManufactureDate,omitempty"`
	ExpiryDate               *time.Time `json:"ExpiryDate,omitempty"`
	Notes                    string     `json:"Notes,omitempty"`
}

// BatchInput is one proposed sub-lot.
type BatchInput struct {
	BatchNumber              string          `json:"BatchNumber"`
	Quantity                 decimal.Decimal `json:"Quantity"`
	InternalSerialNumber     string          `json:"InternalSerialNumber,omitempty"`
	ManufacturerSerialNumber string          `json:"ManufacturerSerialNumber,omitempty"`
	ExpiryDate               *time.Time      `json:"ExpiryDate,omitempty"`
}

// ValidateSerials checks a serial-managed line's allocation set:
// the quantity must be a positive whole number, the entry count must equal
// it exactly (one serial per physical unit), and every entry needs a
// non-blank internal serial number unique within the set. Uniqueness
// across the system is enforced separately at the storage layer.
func ValidateSerials(quantity decimal.Decimal, serials []SerialInput) error {
	if len(serials) == 0 {
		return fault.New(fault.Validation, "serial numbers are required for serial-managed items")
	}
	if quantity.Sign() <= 0 {
		return fault.New(fault.Validation, "quantity must be positive for serial-managed items")
	}
	if !quantity.IsInteger() {
		return fault.New(fault.Validation, "quantity must be a whole number for serial-managed items (one serial per unit)")
	}
	want := int(quantity.IntPart())
	if len(serials) != want {
		return fault.New(fault.Validation, "number of serial entries (%d) must exactly equal quantity (%d)", len(serials), want)
	}
	seen := make(map[string]bool, len(serials))
	for i, s := range serials {
		isn := strings.TrimSpace(s.InternalSerialNumber)
		if isn == "" {
			return fault.New(fault.Validation, "serial #%d: internal serial number is required", i+1)
		}
		if seen[isn] {
			return fault.New(fault.Duplicate, "serial number %q appears more than once", isn)
		}
		seen[isn] = true
	}
	return nil
}

// ValidateBatches checks a batch-managed line's allocation set: at least
// one entry, every entry with a batch number and a strictly positive
// quantity, and the quantities summing to the line quantity within
// tolerance.
func ValidateBatches(quantity decimal.Decimal, batches []BatchInput) error {
	if len(batches) == 0 {
		return fault.New(fault.Validation, "batch numbers are required for batch-managed items")
	}
	total := decimal.Zero
	for i, b := range batches {
		if strings.TrimSpace(b.BatchNumber) == "" {
			return fault.New(fault.Validation, "batch #%d: batch number is required", i+1)
		}
		if b.Quantity.Sign() <= 0 {
			return fault.New(fault.Validation, "batch #%d: quantity must be positive", i+1)
		}
		total = total.Add(b.Quantity)
	}
	if total.Sub(quantity).Abs().GreaterThan(QuantityTolerance) {
		return fault.New(fault.Validation, "total batch quantity (%s) must equal item quantity (%s)", total, quantity)
	}
	return nil
}
