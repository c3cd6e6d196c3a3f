// Package erp defines the contract with the external ERP. The connector
// itself lives outside this service; the workflow only depends on this
// interface and its fixed request/response shapes.
package erp

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"grndock/infrastructure/fault"
)

// BaseTypePurchaseOrder is the ERP object type a goods-receipt line
// references when it fulfils a purchase-order line.
const BaseTypePurchaseOrder = 22

// DefaultCallTimeout bounds a single ERP call when the caller has not set
// a tighter deadline.
const DefaultCallTimeout = 30 * time.Second

// ErrNotFound is returned by lookups for unknown documents or items.
var ErrNotFound = errors.New("erp: not found")

// PurchaseOrderLine is one open line on a source purchase order.
type PurchaseOrderLine struct {
	LineNum       int
	ItemCode      string
	Description   string
	Quantity      decimal.Decimal
	OpenQuantity  decimal.Decimal
	WarehouseCode string
	UnitPrice     decimal.Decimal
	LineStatus    string
	InventoryType string
}

// PurchaseOrder is a source order as reported by the ERP.
type PurchaseOrder struct {
	DocEntry int
	DocNum   string
	CardCode string
	CardName string
	DocDate  time.Time
	DocTotal decimal.Decimal
	Lines    []PurchaseOrderLine
}

// Classification is the ERP's answer on how an item is managed.
type Classification struct {
	ItemCode      string
	ItemName      string
	UOM           string
	BatchManaged  bool
	SerialManaged bool
}

// InventoryType collapses the management flags into the stored type.
func (c Classification) InventoryType() string {
	switch {
	case c.SerialManaged:
		return "serial"
	case c.BatchManaged:
		return "batch"
	default:
		return "standard"
	}
}

// BaseRef points a receipt line back to the order line it fulfils.
type BaseRef struct {
	BaseType  int
	BaseEntry int
	BaseLine  int
}

// SerialEntry is one serial unit on a posted receipt line.
type SerialEntry struct {
	InternalSerialNumber     string     `json:"InternalSerialNumber"`
	ManufacturerSerialNumber string     `json:"ManufacturerSerialNumber,omitempty"`
	ManufactureDate          *time.Time `json:"ManufactureDate,omitempty"`
	ExpiryDate               *time.Time `json:"ExpiryDate,omitempty"`
}

// BatchEntry is one sub-lot on a posted receipt line.
type BatchEntry struct {
	BatchNumber string          `json:"BatchNumber"`
	Quantity    decimal.Decimal `json:"Quantity"`
	ExpiryDate  *time.Time      `json:"ExpiryDate,omitempty"`
}

// ReceiptLine is one line of a goods-receipt payload.
type ReceiptLine struct {
	ItemCode      string
	Quantity      decimal.Decimal
	WarehouseCode string
	Base          *BaseRef
	Serials       []SerialEntry
	Batches       []BatchEntry
}

// GoodsReceipt is the posting payload for one receipt document.
type GoodsReceipt struct {
	CardCode   string
	DocDate    time.Time
	DocDueDate time.Time
	Comments   string
	NumAtCard  string
	BranchID   int
	Lines      []ReceiptLine
}

// PostResult is the ERP-assigned identity of a posted receipt.
type PostResult struct {
	DocEntry int
	DocNum   string
}

// Client is the external ERP connector contract.
type Client interface {
	// GetPurchaseOrder returns the order by its document number, or
	// ErrNotFound.
	GetPurchaseOrder(ctx context.Context, docNum string) (*PurchaseOrder, error)
	// OpenPurchaseOrders returns open orders for a counterparty name.
	OpenPurchaseOrders(ctx context.Context, cardName string) ([]PurchaseOrder, error)
	// ItemClassification returns the item's management mode, or ErrNotFound.
	ItemClassification(ctx context.Context, itemCode string) (Classification, error)
	// PostGoodsReceipt creates one receipt document in the ERP.
	PostGoodsReceipt(ctx context.Context, doc GoodsReceipt) (PostResult, error)
}

// Classify resolves an item's management mode for receipt validation.
// Failures are classified as lookup faults: callers must reject the write
// rather than default to unmanaged, since the mode drives the physical
// labeling downstream. Results are never cached.
func Classify(ctx context.Context, client Client, itemCode string) (Classification, error) {
	if itemCode == "" {
		return Classification{}, fault.New(fault.Validation, "item code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	cls, err := client.ItemClassification(ctx, itemCode)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Classification{}, fault.Wrap(fault.ERPUnavailable, err, "item classification for %s timed out", itemCode)
		}
		if errors.Is(err, ErrNotFound) {
			return Classification{}, fault.Wrap(fault.Lookup, err, "item %s is unknown to the ERP", itemCode)
		}
		return Classification{}, fault.Wrap(fault.Lookup, err, "item classification for %s failed", itemCode)
	}
	if cls.BatchManaged && cls.SerialManaged {
		// An item is never both; a contradictory answer is unusable.
		return Classification{}, fault.New(fault.Lookup, "item %s reports conflicting management flags", itemCode)
	}
	cls.ItemCode = itemCode
	return cls, nil
}
