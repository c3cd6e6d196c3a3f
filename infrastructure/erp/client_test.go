package erp

import (
	"context"
	"testing"

	"grndock/infrastructure/fault"
)

func TestClassifyResolvesManagementMode(t *testing.T) {
	f := NewFake()
	f.AddItem(Classification{ItemCode: "ITEM-S", ItemName: "Sensor", SerialManaged: true})
	f.AddItem(Classification{ItemCode: "ITEM-B", ItemName: "Compound", BatchManaged: true})
	f.AddItem(Classification{ItemCode: "ITEM-P", ItemName: "Plain"})

	cases := []struct {
		code string
		want string
	}{
		{"ITEM-S", "serial"},
		{"ITEM-B", "batch"},
		{"ITEM-P", "standard"},
	}
	for _, tc := range cases {
		cls, err := Classify(context.Background(), f, tc.code)
		if err != nil {
			t.Fatalf("classify %s: %v", tc.code, err)
		}
		if cls.InventoryType() != tc.want {
			t.Fatalf("classify %s: got %s, want %s", tc.code, cls.InventoryType(), tc.want)
		}
	}
}

func TestClassifyUnknownItem(t *testing.T) {
	f := NewFake()
	_, err := Classify(context.Background(), f, "NOPE")
	if err == nil {
		t.Fatalf("expected lookup failure for unknown item")
	}
	if !fault.Is(err, fault.Lookup) {
		t.Fatalf("expected lookup fault, got %v", fault.KindOf(err))
	}
}

func TestClassifyRejectsConflictingFlags(t *testing.T) {
	f := NewFake()
	f.AddItem(Classification{ItemCode: "ITEM-X", BatchManaged: true, SerialManaged: true})
	_, err := Classify(context.Background(), f, "ITEM-X")
	if err == nil {
		t.Fatalf("expected conflicting flags to be rejected")
	}
	if !fault.Is(err, fault.Lookup) {
		t.Fatalf("expected lookup fault, got %v", fault.KindOf(err))
	}
}

func TestClassifyRequiresItemCode(t *testing.T) {
	f := NewFake()
	_, err := Classify(context.Background(), f, "")
	if err == nil || !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation fault for empty code, got %v", err)
	}
}
