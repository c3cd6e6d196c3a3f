package multigrn

import (
	"time"

	"github.com/shopspring/decimal"

	"grndock/allocation"
)

// POSelection is one purchase order the user attached to a batch,
// snapshotted as reported by the ERP at selection time.
type POSelection struct {
	DocEntry int             `json:"doc_entry"`
	DocNum   string          `json:"doc_num"`
	CardCode string          `json:"card_code"`
	CardName string          `json:"card_name"`
	DocDate  *time.Time      `json:"doc_date,omitempty"`
	DocTotal decimal.Decimal `json:"doc_total"`
}

// LineSelectionInput is one proposed line under a PO link, taken from an
// open order line. Client-provided quantities are reconciled against the
// snapshot before anything is stored.
type LineSelectionInput struct {
	POLinkID         int64           `json:"po_link_id"`
	POLineNum        int             `json:"po_line_num"`
	ItemCode         string          `json:"item_code"`
	ItemDescription  string          `json:"item_description"`
	OrderedQuantity  decimal.Decimal `json:"ordered_quantity"`
	OpenQuantity     decimal.Decimal `json:"open_quantity"`
	SelectedQuantity decimal.Decimal `json:"selected_quantity"`
	WarehouseCode    string          `json:"warehouse_code"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineStatus       string          `json:"line_status"`
	InventoryType    string          `json:"inventory_type"`
}

// ManualItemInput is a line added by hand, not tied to any order line.
type ManualItemInput struct {
	ItemCode        string                   `json:"item_code"`
	ItemDescription string                   `json:"item_description"`
	Quantity        decimal.Decimal          `json:"quantity"`
	UnitOfMeasure   string                   `json:"uom"`
	WarehouseCode   string                   `json:"warehouse_code"`
	BinLocation     string                   `json:"bin_location"`
	Serials         []allocation.SerialInput `json:"serial_numbers,omitempty"`
	Batches         []allocation.BatchInput  `json:"batch_numbers,omitempty"`
}

// LinkResult is the posting outcome of one PO link.
type LinkResult struct {
	PONum     string `json:"po_num"`
	Success   bool   `json:"success"`
	GRNDocNum string `json:"grn_num,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchPostReport aggregates one posting run over a batch.
type BatchPostReport struct {
	Results      []LinkResult `json:"results"`
	TotalSuccess int          `json:"total_success"`
	TotalFailed  int          `json:"total_failed"`
}
