package grpo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"grndock/allocation"
	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/barcode"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/infrastructure/web"
	"grndock/labels"
)

const dateLayout = "2006-01-02"

// ListDocumentsQueryHandler returns the actor's documents.
func ListDocumentsQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		docs, err := ListDocuments(r.Context(), db, actor)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "documents": docs})
	}
}

// CreateDocumentCommandHandler opens a new draft against a PO.
func CreateDocumentCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		var req struct {
			PONumber string `json:"po_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		doc, err := CreateDocument(r.Context(), db, erpc, auditSvc, actor, req.PONumber)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "document": doc})
	}
}

// GetDocumentQueryHandler returns one document with lines and allocations.
func GetDocumentQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		doc, err := GetDocument(r.Context(), db, actor, id)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "document": doc})
	}
}

// SubmitCommandHandler moves a draft to submitted.
func SubmitCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		if err := Submit(r.Context(), db, auditSvc, actor, id); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// ApproveCommandHandler records QC approval and attempts posting. A posting
// failure is a 200 with posted=false: the approval itself succeeded.
func ApproveCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req struct {
			Notes string `json:"notes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		outcome, err := Approve(r.Context(), db, erpc, auditSvc, actor, id, req.Notes)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"posted":        outcome.Posted,
			"sap_doc_num":   outcome.SAPDocumentNumber,
			"posting_error": outcome.Error,
		})
	}
}

// RejectCommandHandler records a QC rejection.
func RejectCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		if err := Reject(r.Context(), db, auditSvc, actor, id, req.Reason); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RetryPostCommandHandler re-attempts posting of a QC-approved document.
func RetryPostCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		outcome, err := RetryPost(r.Context(), db, erpc, auditSvc, actor, id)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"posted":        outcome.Posted,
			"sap_doc_num":   outcome.SAPDocumentNumber,
			"posting_error": outcome.Error,
		})
	}
}

type lineRequest struct {
	ItemCode      string                   `json:"item_code"`
	ItemName      string                   `json:"item_name"`
	Quantity      decimal.Decimal          `json:"quantity"`
	UnitOfMeasure string                   `json:"uom"`
	WarehouseCode string                   `json:"warehouse_code"`
	BinLocation   string                   `json:"bin_location"`
	BatchNumber   string                   `json:"batch_number"`
	ExpiryDate    string                   `json:"expiry_date"`
	Serials       []allocation.SerialInput `json:"serial_numbers"`
	Batches       []allocation.BatchInput  `json:"batch_numbers"`
}

// AddLineCommandHandler adds an item line with its allocations.
func AddLineCommandHandler(db *sqlite.DB, erpc erp.Client, enc barcode.Encoder, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req lineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		input := LineInput{
			ItemCode:      req.ItemCode,
			ItemName:      req.ItemName,
			Quantity:      req.Quantity,
			UnitOfMeasure: req.UnitOfMeasure,
			WarehouseCode: req.WarehouseCode,
			BinLocation:   req.BinLocation,
			BatchNumber:   req.BatchNumber,
			Serials:       req.Serials,
			Batches:       req.Batches,
		}
		if req.ExpiryDate != "" {
			t, err := time.Parse(dateLayout, req.ExpiryDate)
			if err != nil {
				web.RespondError(w, fault.New(fault.Validation, "expiry_date must be YYYY-MM-DD"))
				return
			}
			input.ExpiryDate = &t
		}
		line, err := AddLine(r.Context(), db, erpc, enc, auditSvc, actor, id, input)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "line": line})
	}
}

// DeleteLineCommandHandler removes a line from a draft.
func DeleteLineCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		lineID, err := pathID(r, "lineID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		if err := DeleteLine(r.Context(), db, auditSvc, actor, lineID); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// ValidateItemQueryHandler resolves an item's management mode for the
// line entry form.
func ValidateItemQueryHandler(erpc erp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("item_code")
		cls, err := erp.Classify(r.Context(), erpc, code)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"item_code":      cls.ItemCode,
			"item_name":      cls.ItemName,
			"uom":            cls.UOM,
			"batch_managed":  cls.BatchManaged,
			"serial_managed": cls.SerialManaged,
			"inventory_type": cls.InventoryType(),
		})
	}
}

// ValidateSerialQueryHandler reports whether an internal serial number is
// still unused.
func ValidateSerialQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sn := r.URL.Query().Get("serial_number")
		if sn == "" {
			web.RespondError(w, fault.New(fault.Validation, "serial_number is required"))
			return
		}
		available, err := SerialNumberAvailable(r.Context(), db, sn)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "available": available})
	}
}

// ListSerialsQueryHandler returns a line's serial allocations.
func ListSerialsQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		lineID, err := pathID(r, "lineID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		serials, details, err := ListSerials(r.Context(), db, actor, lineID)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "serials": serials, "document": details})
	}
}

// AddSerialCommandHandler appends one serial allocation to a draft line.
func AddSerialCommandHandler(db *sqlite.DB, enc barcode.Encoder, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		lineID, err := pathID(r, "lineID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req allocation.SerialInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		row, err := AddSerial(r.Context(), db, enc, auditSvc, actor, lineID, req)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "serial": row})
	}
}

// DeleteSerialCommandHandler removes one serial allocation.
func DeleteSerialCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		serialID, err := pathID(r, "serialID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		if err := DeleteSerial(r.Context(), db, auditSvc, actor, serialID); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// ListBatchesQueryHandler returns a line's batch allocations.
func ListBatchesQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		lineID, err := pathID(r, "lineID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		batches, details, err := ListBatches(r.Context(), db, actor, lineID)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "batches": batches, "document": details})
	}
}

// AddBatchCommandHandler appends one batch allocation to a draft line.
func AddBatchCommandHandler(db *sqlite.DB, enc barcode.Encoder, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		lineID, err := pathID(r, "lineID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req allocation.BatchInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		row, err := AddBatch(r.Context(), db, enc, auditSvc, actor, lineID, req)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "batch": row})
	}
}

// DeleteBatchCommandHandler removes one batch allocation.
func DeleteBatchCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batchID, err := pathID(r, "batchID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		if err := DeleteBatch(r.Context(), db, auditSvc, actor, batchID); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// LabelSheetCommandHandler builds a printable label sheet as PDF.
func LabelSheetCommandHandler(enc barcode.Encoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemCode    string `json:"item_code"`
			ItemName    string `json:"item_name"`
			BatchNumber string `json:"batch_number"`
			GRNDate     string `json:"grn_date"`
			ExpiryDate  string `json:"expiry_date"`
			Count       int    `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		records, err := labels.Build(req.ItemCode, req.ItemName, req.BatchNumber, req.GRNDate, req.ExpiryDate, req.Count)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		pdfBytes, err := labels.RenderSheetPDF(records, enc)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=labels-%s.pdf", req.BatchNumber))
		_, _ = w.Write(pdfBytes)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.Validation, "invalid %s", name)
	}
	return id, nil
}
