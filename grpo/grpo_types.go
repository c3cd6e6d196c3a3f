package grpo

import (
	"time"

	"github.com/shopspring/decimal"

	"grndock/allocation"
)

// LineInput is a proposed receipt line before reconciliation.
type LineInput struct {
	ItemCode      string
	ItemName      string
	Quantity      decimal.Decimal
	UnitOfMeasure string
	WarehouseCode string
	BinLocation   string
	BatchNumber   string
	ExpiryDate    *time.Time
	Serials       []allocation.SerialInput
	Batches       []allocation.BatchInput
}

// PostOutcome reports one ERP posting attempt for a document. A failed
// attempt is recorded on the document and is not a transport error: the
// document stays qc_approved and can be retried.
type PostOutcome struct {
	Posted            bool
	SAPDocumentNumber string
	Error             string
}

// DocumentDetails accompanies serial/batch listings so label screens can
// print without a second fetch.
type DocumentDetails struct {
	PONumber    string `json:"po_number"`
	GRNDate     string `json:"grn_date"`
	DocNumber   string `json:"doc_number"`
	ItemCode    string `json:"item_code"`
	ItemName    string `json:"item_name"`
	ReceivedQty string `json:"received_quantity"`
}
