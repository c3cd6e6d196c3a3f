package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// GRPO document statuses.
const (
	GRPOStatusDraft      = "draft"
	GRPOStatusSubmitted  = "submitted"
	GRPOStatusQCApproved = "qc_approved"
	GRPOStatusRejected   = "rejected"
	GRPOStatusPosted     = "posted"
)

// Line QC statuses.
const (
	QCStatusPending  = "pending"
	QCStatusApproved = "approved"
	QCStatusRejected = "rejected"
)

// Multi-GRN batch and PO link statuses.
const (
	BatchStatusDraft     = "draft"
	BatchStatusSelecting = "selecting"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"

	POLinkStatusSelected = "selected"
	POLinkStatusPosted   = "posted"
	POLinkStatusFailed   = "failed"
)

// Inventory management types as resolved from the ERP item master.
const (
	InventoryTypeStandard = "standard"
	InventoryTypeBatch    = "batch"
	InventoryTypeSerial   = "serial"
)

// GRPODocument is one goods receipt raised against a purchase order.
type GRPODocument struct {
	bun.BaseModel `bun:"table:grpo_documents,alias:gd"`

	ID                int64      `bun:"id,pk,autoincrement"`
	PONumber          string     `bun:"po_number,notnull"`
	SupplierCode      string     `bun:"supplier_code"`
	SupplierName      string     `bun:"supplier_name"`
	Status            string     `bun:"status,notnull,default:'draft'"`
	UserID            int64      `bun:"user_id,notnull"`
	SAPDocumentNumber *string    `bun:"sap_document_number"`
	PostingError      string     `bun:"posting_error"`
	QCApproverID      *int64     `bun:"qc_approver_id"`
	QCApprovedAt      *time.Time `bun:"qc_approved_at"`
	QCNotes           string     `bun:"qc_notes"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	Lines []GRPOLine `bun:"rel:has-many,join:id=grpo_id"`
}

// Posted reports whether the document reached its terminal success state.
func (d GRPODocument) Posted() bool {
	return d.Status == GRPOStatusPosted
}

// GRPOLine is one received item on a GRPO document. At most one line may
// exist per item code per document; the unique index backs that rule.
type GRPOLine struct {
	bun.BaseModel `bun:"table:grpo_lines,alias:gl"`

	ID               int64           `bun:"id,pk,autoincrement"`
	GRPOID           int64           `bun:"grpo_id,notnull"`
	ItemCode         string          `bun:"item_code,notnull"`
	ItemName         string          `bun:"item_name,notnull"`
	Quantity         decimal.Decimal `bun:"quantity,notnull"`
	ReceivedQuantity decimal.Decimal `bun:"received_quantity,notnull"`
	UnitOfMeasure    string          `bun:"unit_of_measure"`
	WarehouseCode    string          `bun:"warehouse_code"`
	BinLocation      string          `bun:"bin_location"`
	BatchNumber      string          `bun:"batch_number"`
	ExpiryDate       *time.Time      `bun:"expiry_date"`
	QCStatus         string          `bun:"qc_status,notnull,default:'pending'"`
	CreatedAt        time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time       `bun:"updated_at,notnull,default:current_timestamp"`

	SerialNumbers []GRPOSerialNumber `bun:"rel:has-many,join:id=grpo_line_id"`
	BatchNumbers  []GRPOBatchNumber  `bun:"rel:has-many,join:id=grpo_line_id"`
}

// GRPOSerialNumber is one physical unit of a serial-managed line.
// internal_serial_number is unique across the whole system.
type GRPOSerialNumber struct {
	bun.BaseModel `bun:"table:grpo_serial_numbers,alias:gsn"`

	ID                       int64           `bun:"id,pk,autoincrement"`
	GRPOLineID               int64           `bun:"grpo_line_id,notnull"`
	InternalSerialNumber     string          `bun:"internal_serial_number,notnull,unique"`
	ManufacturerSerialNumber string          `bun:"manufacturer_serial_number"`
	ManufactureDate          *time.Time      `bun:"manufacture_date"`
	ExpiryDate               *time.Time      `bun:"expiry_date"`
	Notes                    string          `bun:"notes"`
	LabelPNG                 []byte          `bun:"label_png"`
	Quantity                 decimal.Decimal `bun:"quantity,notnull"`
	SequenceIndex            int             `bun:"sequence_index,notnull,default:0"`
	CreatedAt                time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

// GRPOBatchNumber is one sub-lot of a batch-managed line.
type GRPOBatchNumber struct {
	bun.BaseModel `bun:"table:grpo_batch_numbers,alias:gbn"`

	ID                       int64           `bun:"id,pk,autoincrement"`
	GRPOLineID               int64           `bun:"grpo_line_id,notnull"`
	BatchNumber              string          `bun:"batch_number,notnull"`
	Quantity                 decimal.Decimal `bun:"quantity,notnull"`
	ManufacturerSerialNumber string          `bun:"manufacturer_serial_number"`
	InternalSerialNumber     string          `bun:"internal_serial_number"`
	ExpiryDate               *time.Time      `bun:"expiry_date"`
	LabelPNG                 []byte          `bun:"label_png"`
	SequenceIndex            int             `bun:"sequence_index,notnull,default:0"`
	CreatedAt                time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

// GRNBatch groups purchase-order links posted together for one customer.
type GRNBatch struct {
	bun.BaseModel `bun:"table:grn_batches,alias:gb"`

	ID               int64      `bun:"id,pk,autoincrement"`
	BatchNumber      string     `bun:"batch_number,notnull,unique"`
	UserID           int64      `bun:"user_id,notnull"`
	CustomerCode     string     `bun:"customer_code,notnull"`
	CustomerName     string     `bun:"customer_name,notnull"`
	Status           string     `bun:"status,notnull,default:'draft'"`
	TotalPOs         int        `bun:"total_pos,notnull,default:0"`
	TotalGRNsCreated int        `bun:"total_grns_created,notnull,default:0"`
	ErrorLog         string     `bun:"error_log"`
	CompletedAt      *time.Time `bun:"completed_at"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	POLinks []GRNPOLink `bun:"rel:has-many,join:id=batch_id"`
}

// GRNPOLink is one source purchase order attached to a batch. A link is
// immutable once its status is posted.
type GRNPOLink struct {
	bun.BaseModel `bun:"table:grn_po_links,alias:gpl"`

	ID             int64           `bun:"id,pk,autoincrement"`
	BatchID        int64           `bun:"batch_id,notnull"`
	PODocEntry     int             `bun:"po_doc_entry,notnull"`
	PODocNum       string          `bun:"po_doc_num,notnull"`
	POCardCode     string          `bun:"po_card_code"`
	POCardName     string          `bun:"po_card_name"`
	PODocDate      *time.Time      `bun:"po_doc_date"`
	PODocTotal     decimal.Decimal `bun:"po_doc_total"`
	Status         string          `bun:"status,notnull,default:'selected'"`
	SAPGRNDocNum   string          `bun:"sap_grn_doc_num"`
	SAPGRNDocEntry int             `bun:"sap_grn_doc_entry"`
	ErrorMessage   string          `bun:"error_message"`
	PostedAt       *time.Time      `bun:"posted_at"`
	CreatedAt      time.Time       `bun:"created_at,notnull,default:current_timestamp"`

	LineSelections []GRNLineSelection `bun:"rel:has-many,join:id=po_link_id"`
}

// ManualLineNum marks a line selection added by hand, not taken from a
// purchase-order line. Manual lines carry no base-document reference.
const ManualLineNum = -1

// GRNLineSelection is one reconciled line under a PO link.
type GRNLineSelection struct {
	bun.BaseModel `bun:"table:grn_line_selections,alias:gls"`

	ID               int64           `bun:"id,pk,autoincrement"`
	POLinkID         int64           `bun:"po_link_id,notnull"`
	POLineNum        int             `bun:"po_line_num,notnull,default:-1"`
	ItemCode         string          `bun:"item_code,notnull"`
	ItemDescription  string          `bun:"item_description"`
	OrderedQuantity  decimal.Decimal `bun:"ordered_quantity"`
	OpenQuantity     decimal.Decimal `bun:"open_quantity"`
	SelectedQuantity decimal.Decimal `bun:"selected_quantity,notnull"`
	WarehouseCode    string          `bun:"warehouse_code"`
	BinLocation      string          `bun:"bin_location"`
	UnitPrice        decimal.Decimal `bun:"unit_price"`
	LineStatus       string          `bun:"line_status"`
	InventoryType    string          `bun:"inventory_type,notnull,default:'standard'"`
	SerialPayload    string          `bun:"serial_payload"`
	BatchPayload     string          `bun:"batch_payload"`
	CreatedAt        time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

// Manual reports whether the selection was added by hand rather than
// reconciled against a purchase-order line.
func (l GRNLineSelection) Manual() bool {
	return l.POLineNum == ManualLineNum || l.LineStatus == "manual"
}

// AuditLog captures immutable change history for key operations.
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:al"`

	ID         int64     `bun:"id,pk,autoincrement"`
	UserID     int64     `bun:"user_id,notnull"`
	Action     string    `bun:"action,notnull"`
	EntityType string    `bun:"entity_type,notnull"`
	EntityID   string    `bun:"entity_id,notnull"`
	BeforeJSON string    `bun:"before_json"`
	AfterJSON  string    `bun:"after_json"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
