package allocation

import (
	"testing"

	"github.com/shopspring/decimal"

	"grndock/infrastructure/fault"
)

func serials(isns ...string) []SerialInput {
	out := make([]SerialInput, 0, len(isns))
	for _, isn := range isns {
		out = append(out, SerialInput{InternalSerialNumber: isn})
	}
	return out
}

func TestValidateSerialsExactCount(t *testing.T) {
	qty := decimal.NewFromInt(3)
	if err := ValidateSerials(qty, serials("SN-1", "SN-2", "SN-3")); err != nil {
		t.Fatalf("expected valid set, got: %v", err)
	}
	if err := ValidateSerials(qty, serials("SN-1", "SN-2")); err == nil {
		t.Fatalf("expected error for 2 serials against quantity 3")
	}
	if err := ValidateSerials(qty, serials("SN-1", "SN-2", "SN-3", "SN-4")); err == nil {
		t.Fatalf("expected error for 4 serials against quantity 3")
	}
}

func TestValidateSerialsRejectsFractionalQuantity(t *testing.T) {
	qty := decimal.RequireFromString("2.5")
	err := ValidateSerials(qty, serials("SN-1", "SN-2"))
	if err == nil {
		t.Fatalf("expected fractional quantity to be rejected")
	}
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation fault, got %v", fault.KindOf(err))
	}
}

func TestValidateSerialsRejectsDuplicateInSet(t *testing.T) {
	err := ValidateSerials(decimal.NewFromInt(2), serials("SN-1", "SN-1"))
	if err == nil {
		t.Fatalf("expected in-set duplicate to be rejected")
	}
	if !fault.Is(err, fault.Duplicate) {
		t.Fatalf("expected duplicate fault, got %v", fault.KindOf(err))
	}
}

func TestValidateSerialsRejectsBlankAndEmpty(t *testing.T) {
	if err := ValidateSerials(decimal.NewFromInt(1), nil); err == nil {
		t.Fatalf("expected empty set to be rejected")
	}
	if err := ValidateSerials(decimal.NewFromInt(1), serials("   ")); err == nil {
		t.Fatalf("expected blank serial to be rejected")
	}
	if err := ValidateSerials(decimal.NewFromInt(-1), serials("SN-1")); err == nil {
		t.Fatalf("expected negative quantity to be rejected")
	}
}

func TestValidateBatchesSumWithinTolerance(t *testing.T) {
	qty := decimal.NewFromInt(5)
	ok := []BatchInput{
		{BatchNumber: "B-1", Quantity: decimal.NewFromInt(2)},
		{BatchNumber: "B-2", Quantity: decimal.NewFromInt(3)},
	}
	if err := ValidateBatches(qty, ok); err != nil {
		t.Fatalf("expected 2+3 to satisfy quantity 5, got: %v", err)
	}

	within := []BatchInput{
		{BatchNumber: "B-1", Quantity: decimal.RequireFromString("2.0005")},
		{BatchNumber: "B-2", Quantity: decimal.RequireFromString("3.0000")},
	}
	if err := ValidateBatches(qty, within); err != nil {
		t.Fatalf("expected sum within 0.001 tolerance to pass, got: %v", err)
	}

	off := []BatchInput{
		{BatchNumber: "B-1", Quantity: decimal.NewFromInt(2)},
		{BatchNumber: "B-2", Quantity: decimal.NewFromInt(4)},
	}
	err := ValidateBatches(qty, off)
	if err == nil {
		t.Fatalf("expected 2+4 against quantity 5 to be rejected")
	}
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation fault, got %v", fault.KindOf(err))
	}
}

func TestValidateBatchesEntryChecks(t *testing.T) {
	qty := decimal.NewFromInt(1)
	if err := ValidateBatches(qty, nil); err == nil {
		t.Fatalf("expected empty set to be rejected")
	}
	if err := ValidateBatches(qty, []BatchInput{{BatchNumber: "", Quantity: decimal.NewFromInt(1)}}); err == nil {
		t.Fatalf("expected missing batch number to be rejected")
	}
	if err := ValidateBatches(qty, []BatchInput{{BatchNumber: "B-1", Quantity: decimal.Zero}}); err == nil {
		t.Fatalf("expected zero quantity entry to be rejected")
	}
}
