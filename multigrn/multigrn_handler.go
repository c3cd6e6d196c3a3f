package multigrn

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"grndock/allocation"
	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/infrastructure/web"
)

// ListBatchesQueryHandler returns the actor's batches.
func ListBatchesQueryHandler(db *sqlite.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batches, err := ListBatches(r.Context(), db, actor)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "batches": batches})
	}
}

// CreateBatchCommandHandler opens a draft batch for a customer.
func CreateBatchCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		var req struct {
			CustomerCode string `json:"customer_code"`
			CustomerName string `json:"customer_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		batch, err := CreateBatch(r.Context(), db, auditSvc, actor, req.CustomerCode, req.CustomerName)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "batch": batch})
	}
}

// GetBatchQueryHandler returns one batch with links and selections.
func GetBatchQueryHandler(db *sqlite.DB) http.HandlerFunc {
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
		batch, err := GetBatch(r.Context(), db, actor, id)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "batch": batch})
	}
}

// OpenOrdersQueryHandler lists a customer's open purchase orders.
func OpenOrdersQueryHandler(erpc erp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		orders, err := OpenOrders(r.Context(), erpc, actor, r.URL.Query().Get("customer"))
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "orders": orders})
	}
}

// AttachPOsCommandHandler links selected purchase orders to the batch.
func AttachPOsCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
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
			Orders []POSelection `json:"purchase_orders"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		links, err := AttachPurchaseOrders(r.Context(), db, auditSvc, actor, id, req.Orders)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "po_links": links})
	}
}

// SelectLinesCommandHandler stores reconciled line selections for a link.
func SelectLinesCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batchID, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		linkID, err := pathID(r, "linkID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req struct {
			Lines []LineSelectionInput `json:"lines"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		stored, err := SelectLines(r.Context(), db, erpc, auditSvc, actor, batchID, linkID, req.Lines)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "selections": stored})
	}
}

// AddManualItemCommandHandler adds a hand-entered line under a link.
func AddManualItemCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batchID, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		linkID, err := pathID(r, "linkID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req ManualItemInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		sel, err := AddManualItem(r.Context(), db, erpc, auditSvc, actor, batchID, linkID, req)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusCreated, map[string]any{"success": true, "selection": sel})
	}
}

// SetAllocationsCommandHandler replaces a selection's allocation payload.
func SetAllocationsCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batchID, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		selectionID, err := pathID(r, "selectionID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		var req struct {
			Serials []allocation.SerialInput `json:"serial_numbers"`
			Batches []allocation.BatchInput  `json:"batch_numbers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.RespondError(w, fault.New(fault.Validation, "invalid request body"))
			return
		}
		if err := SetLineAllocations(r.Context(), db, auditSvc, actor, batchID, selectionID, req.Serials, req.Batches); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// RemoveSelectionCommandHandler deletes a selection from a link.
func RemoveSelectionCommandHandler(db *sqlite.DB, auditSvc *audit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.FromContext(r.Context())
		if !ok {
			web.RespondError(w, fault.New(fault.Authorization, "missing actor"))
			return
		}
		batchID, err := pathID(r, "id")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		selectionID, err := pathID(r, "selectionID")
		if err != nil {
			web.RespondError(w, err)
			return
		}
		if err := RemoveLineSelection(r.Context(), db, auditSvc, actor, batchID, selectionID); err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// PostBatchCommandHandler runs the posting pass over the batch.
func PostBatchCommandHandler(db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service) http.HandlerFunc {
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
		report, err := PostBatch(r.Context(), db, erpc, auditSvc, actor, id)
		if err != nil {
			web.RespondError(w, err)
			return
		}
		web.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "report": report})
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.Validation, "invalid %s", name)
	}
	return id, nil
}
