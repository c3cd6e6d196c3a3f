// Package multigrn manages multi-PO receipt batches: one batch groups
// several purchase orders for a customer, reconciles selected lines
// against the ERP, then posts one goods receipt per order.
package multigrn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"grndock/allocation"
	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// DefaultWarehouse is used for selections that arrive without an explicit
// warehouse code.
const DefaultWarehouse = "7000-FG"

// CreateBatch opens a draft batch for one customer. The batch number is
// generated here and never reused, even across failed runs.
func CreateBatch(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, customerCode, customerName string) (*models.GRNBatch, error) {
	if !actor.HasPermission(authz.CapMultipleGRN) {
		return nil, fault.New(fault.Authorization, "multiple GRN permissions required")
	}
	customerCode = strings.TrimSpace(customerCode)
	customerName = strings.TrimSpace(customerName)
	if customerCode == "" || customerName == "" {
		return nil, fault.New(fault.Validation, "customer code and name are required")
	}

	batch := &models.GRNBatch{
		BatchNumber:  newBatchNumber(),
		UserID:       actor.ID,
		CustomerCode: customerCode,
		CustomerName: customerName,
		Status:       models.BatchStatusDraft,
	}
	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(batch).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchCreate, "grn_batches", fmt.Sprintf("%d", batch.ID), nil, batch)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("GRN batch created", slog.Int64("batch_id", batch.ID), slog.String("batch_number", batch.BatchNumber))
	return batch, nil
}

func newBatchNumber() string {
	return fmt.Sprintf("MGRN-%s-%s", time.Now().Format("20060102150405"), uuid.NewString()[:8])
}

// AttachPurchaseOrders links the given orders to the batch, snapshotting
// the ERP header fields at selection time. Orders already on the batch
// are skipped rather than duplicated.
func AttachPurchaseOrders(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, batchID int64, orders []POSelection) ([]models.GRNPOLink, error) {
	if len(orders) == 0 {
		return nil, fault.New(fault.Validation, "at least one purchase order is required")
	}
	var links []models.GRNPOLink
	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		batch, err := loadBatchForEdit(ctx, tx, actor, batchID)
		if err != nil {
			return err
		}

		existing := make(map[int]bool)
		var prior []models.GRNPOLink
		if err := tx.NewSelect().Model(&prior).Where("batch_id = ?", batchID).Scan(ctx); err != nil {
			return err
		}
		for _, l := range prior {
			existing[l.PODocEntry] = true
		}

		for _, po := range orders {
			if existing[po.DocEntry] {
				continue
			}
			link := models.GRNPOLink{
				BatchID:    batchID,
				PODocEntry: po.DocEntry,
				PODocNum:   po.DocNum,
				POCardCode: po.CardCode,
				POCardName: po.CardName,
				PODocDate:  po.DocDate,
				PODocTotal: po.DocTotal,
				Status:     models.POLinkStatusSelected,
			}
			if _, err := tx.NewInsert().Model(&link).Exec(ctx); err != nil {
				return err
			}
			if err := auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchAttachPOs, "grn_po_links", fmt.Sprintf("%d", link.ID), nil, link); err != nil {
				return err
			}
			existing[po.DocEntry] = true
			links = append(links, link)
		}

		total := len(existing)
		batch.Status = models.BatchStatusSelecting
		batch.TotalPOs = total
		batch.UpdatedAt = time.Now()
		_, err = tx.NewUpdate().Model(batch).
			Column("status", "total_pos", "updated_at").
			WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// SelectLines stores reconciled line selections under one PO link. Each
// proposed line is checked against the order snapshot: the quantity must
// be positive and, for order-sourced lines, must not exceed the open
// quantity. The item's management mode is resolved from the ERP before
// anything is written.
func SelectLines(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, batchID, poLinkID int64, lines []LineSelectionInput) ([]models.GRNLineSelection, error) {
	if len(lines) == 0 {
		return nil, fault.New(fault.Validation, "at least one line is required")
	}

	// Classification happens before the write transaction opens; an ERP
	// round trip must never hold the write connection.
	types := make(map[string]string, len(lines))
	for _, in := range lines {
		code := strings.TrimSpace(in.ItemCode)
		if code == "" {
			return nil, fault.New(fault.Validation, "item code is required")
		}
		if _, ok := types[code]; ok {
			return nil, fault.New(fault.Duplicate, "item %s appears more than once in the selection", code)
		}
		cls, err := erp.Classify(ctx, erpc, code)
		if err != nil {
			return nil, err
		}
		types[code] = cls.InventoryType()
	}

	var stored []models.GRNLineSelection
	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := loadBatchForEdit(ctx, tx, actor, batchID); err != nil {
			return err
		}
		link, err := loadLinkTx(ctx, tx, batchID, poLinkID)
		if err != nil {
			return err
		}
		if link.Status == models.POLinkStatusPosted {
			return fault.New(fault.StateConflict, "PO %s has already been posted", link.PODocNum)
		}

		for _, in := range lines {
			code := strings.TrimSpace(in.ItemCode)
			if in.SelectedQuantity.Sign() <= 0 {
				return fault.New(fault.Validation, "item %s: selected quantity must be positive", code)
			}
			if in.POLineNum != models.ManualLineNum && in.SelectedQuantity.GreaterThan(in.OpenQuantity) {
				return fault.New(fault.Validation, "item %s: selected quantity %s exceeds open quantity %s", code, in.SelectedQuantity, in.OpenQuantity)
			}

			exists, err := tx.NewSelect().Model((*models.GRNLineSelection)(nil)).
				Where("po_link_id = ?", poLinkID).
				Where("item_code = ?", code).
				Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				return fault.New(fault.Duplicate, "item %s is already selected for PO %s", code, link.PODocNum)
			}

			warehouse := strings.TrimSpace(in.WarehouseCode)
			if warehouse == "" {
				warehouse = DefaultWarehouse
			}
			sel := models.GRNLineSelection{
				POLinkID:         poLinkID,
				POLineNum:        in.POLineNum,
				ItemCode:         code,
				ItemDescription:  in.ItemDescription,
				OrderedQuantity:  in.OrderedQuantity,
				OpenQuantity:     in.OpenQuantity,
				SelectedQuantity: in.SelectedQuantity,
				WarehouseCode:    warehouse,
				UnitPrice:        in.UnitPrice,
				LineStatus:       in.LineStatus,
				InventoryType:    types[code],
			}
			if _, err := tx.NewInsert().Model(&sel).Exec(ctx); err != nil {
				if sqlite.IsUniqueViolation(err) {
					return fault.New(fault.Duplicate, "item %s is already selected for PO %s", code, link.PODocNum)
				}
				return err
			}
			if err := auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchSelectLines, "grn_line_selections", fmt.Sprintf("%d", sel.ID), nil, sel); err != nil {
				return err
			}
			stored = append(stored, sel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// AddManualItem adds a line to a PO link that has no counterpart on the
// source order. Manual lines skip the open-quantity check but go through
// classification and allocation validation like any other line.
func AddManualItem(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, batchID, poLinkID int64, in ManualItemInput) (*models.GRNLineSelection, error) {
	code := strings.TrimSpace(in.ItemCode)
	if code == "" {
		return nil, fault.New(fault.Validation, "item code is required")
	}
	if in.Quantity.Sign() <= 0 {
		return nil, fault.New(fault.Validation, "quantity must be positive")
	}

	cls, err := erp.Classify(ctx, erpc, code)
	if err != nil {
		return nil, err
	}
	serialPayload, batchPayload, err := normalizeAllocations(cls, in.Quantity, in.Serials, in.Batches)
	if err != nil {
		return nil, err
	}

	warehouse := strings.TrimSpace(in.WarehouseCode)
	if warehouse == "" {
		warehouse = DefaultWarehouse
	}
	desc := strings.TrimSpace(in.ItemDescription)
	if desc == "" {
		desc = cls.ItemName
	}

	sel := &models.GRNLineSelection{
		POLinkID:         poLinkID,
		POLineNum:        models.ManualLineNum,
		ItemCode:         code,
		ItemDescription:  desc,
		SelectedQuantity: in.Quantity,
		WarehouseCode:    warehouse,
		BinLocation:      strings.TrimSpace(in.BinLocation),
		LineStatus:       "manual",
		InventoryType:    cls.InventoryType(),
		SerialPayload:    serialPayload,
		BatchPayload:     batchPayload,
	}
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := loadBatchForEdit(ctx, tx, actor, batchID); err != nil {
			return err
		}
		link, err := loadLinkTx(ctx, tx, batchID, poLinkID)
		if err != nil {
			return err
		}
		if link.Status == models.POLinkStatusPosted {
			return fault.New(fault.StateConflict, "PO %s has already been posted", link.PODocNum)
		}
		if _, err := tx.NewInsert().Model(sel).Exec(ctx); err != nil {
			if sqlite.IsUniqueViolation(err) {
				return fault.New(fault.Duplicate, "item %s is already selected for PO %s", code, link.PODocNum)
			}
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchManualItem, "grn_line_selections", fmt.Sprintf("%d", sel.ID), nil, sel)
	})
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// SetLineAllocations attaches validated serial or batch allocations to a
// stored selection, replacing any previous payload. The selection's
// management mode decides which validator runs.
func SetLineAllocations(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, batchID, selectionID int64, serials []allocation.SerialInput, batches []allocation.BatchInput) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := loadBatchForEdit(ctx, tx, actor, batchID); err != nil {
			return err
		}
		sel := new(models.GRNLineSelection)
		err := tx.NewSelect().Model(sel).
			Where("gls.id = ?", selectionID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fault.New(fault.NotFound, "line selection %d not found", selectionID)
			}
			return err
		}
		link, err := loadLinkTx(ctx, tx, batchID, sel.POLinkID)
		if err != nil {
			return err
		}
		if link.Status == models.POLinkStatusPosted {
			return fault.New(fault.StateConflict, "PO %s has already been posted", link.PODocNum)
		}

		cls := erp.Classification{
			SerialManaged: sel.InventoryType == models.InventoryTypeSerial,
			BatchManaged:  sel.InventoryType == models.InventoryTypeBatch,
		}
		serialPayload, batchPayload, err := normalizeAllocations(cls, sel.SelectedQuantity, serials, batches)
		if err != nil {
			return err
		}
		before := *sel
		sel.SerialPayload = serialPayload
		sel.BatchPayload = batchPayload
		if _, err := tx.NewUpdate().Model(sel).
			Column("serial_payload", "batch_payload").
			WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchSetAllocations, "grn_line_selections", fmt.Sprintf("%d", sel.ID), before, sel)
	})
}

// RemoveLineSelection deletes a selection from a not-yet-posted link.
func RemoveLineSelection(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, batchID, selectionID int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := loadBatchForEdit(ctx, tx, actor, batchID); err != nil {
			return err
		}
		sel := new(models.GRNLineSelection)
		err := tx.NewSelect().Model(sel).Where("gls.id = ?", selectionID).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fault.New(fault.NotFound, "line selection %d not found", selectionID)
			}
			return err
		}
		link, err := loadLinkTx(ctx, tx, batchID, sel.POLinkID)
		if err != nil {
			return err
		}
		if link.Status == models.POLinkStatusPosted {
			return fault.New(fault.StateConflict, "PO %s has already been posted", link.PODocNum)
		}
		if _, err := tx.NewDelete().Model(sel).WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchRemoveSelection, "grn_line_selections", fmt.Sprintf("%d", selectionID), sel, nil)
	})
}

// GetBatch loads a batch with its links and selections.
func GetBatch(ctx context.Context, db *sqlite.DB, actor authz.Actor, batchID int64) (*models.GRNBatch, error) {
	batch := new(models.GRNBatch)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model(batch).
			Relation("POLinks").
			Relation("POLinks.LineSelections").
			Where("gb.id = ?", batchID).
			Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "batch %d not found", batchID)
		}
		return nil, err
	}
	if !actor.CanView(batch.UserID) {
		return nil, fault.New(fault.Authorization, "you can only view your own batches")
	}
	return batch, nil
}

// ListBatches returns the actor's batches, newest first.
func ListBatches(ctx context.Context, db *sqlite.DB, actor authz.Actor) ([]models.GRNBatch, error) {
	batches := make([]models.GRNBatch, 0)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().Model(&batches).OrderExpr("created_at DESC")
		if !actor.CanManageDocuments() {
			q = q.Where("user_id = ?", actor.ID)
		}
		return q.Scan(ctx)
	})
	return batches, err
}

// OpenOrders lists the customer's open purchase orders from the ERP so
// the caller can pick which ones to attach.
func OpenOrders(ctx context.Context, erpc erp.Client, actor authz.Actor, customerName string) ([]erp.PurchaseOrder, error) {
	if !actor.HasPermission(authz.CapMultipleGRN) {
		return nil, fault.New(fault.Authorization, "multiple GRN permissions required")
	}
	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return nil, fault.New(fault.Validation, "customer name is required")
	}
	ctx, cancel := context.WithTimeout(ctx, erp.DefaultCallTimeout)
	defer cancel()
	orders, err := erpc.OpenPurchaseOrders(ctx, customerName)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrap(fault.ERPUnavailable, err, "open order lookup for %s timed out", customerName)
		}
		return nil, fault.Wrap(fault.Lookup, err, "open order lookup for %s failed", customerName)
	}
	return orders, nil
}

// normalizeAllocations validates the allocation set for the item's
// management mode and returns the JSON payloads to store. Standard items
// must not carry allocations at all.
func normalizeAllocations(cls erp.Classification, quantity decimal.Decimal, serials []allocation.SerialInput, batches []allocation.BatchInput) (string, string, error) {
	switch {
	case cls.SerialManaged:
		if err := allocation.ValidateSerials(quantity, serials); err != nil {
			return "", "", err
		}
		b, err := json.Marshal(serials)
		if err != nil {
			return "", "", err
		}
		return string(b), "", nil
	case cls.BatchManaged:
		if err := allocation.ValidateBatches(quantity, batches); err != nil {
			return "", "", err
		}
		b, err := json.Marshal(batches)
		if err != nil {
			return "", "", err
		}
		return "", string(b), nil
	default:
		if len(serials) > 0 || len(batches) > 0 {
			return "", "", fault.New(fault.Validation, "item is not batch or serial managed; allocations are not allowed")
		}
		return "", "", nil
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func loadBatchForEdit(ctx context.Context, tx bun.Tx, actor authz.Actor, batchID int64) (*models.GRNBatch, error) {
	batch := new(models.GRNBatch)
	if err := tx.NewSelect().Model(batch).Where("gb.id = ?", batchID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "batch %d not found", batchID)
		}
		return nil, err
	}
	if batch.UserID != actor.ID && !actor.CanManageDocuments() {
		return nil, fault.New(fault.Authorization, "you can only edit your own batches")
	}
	if batch.Status == models.BatchStatusCompleted {
		return nil, fault.New(fault.StateConflict, "batch %s is completed and cannot be modified", batch.BatchNumber)
	}
	return batch, nil
}

func loadLinkTx(ctx context.Context, tx bun.Tx, batchID, poLinkID int64) (*models.GRNPOLink, error) {
	link := new(models.GRNPOLink)
	err := tx.NewSelect().Model(link).
		Where("gpl.id = ?", poLinkID).
		Where("gpl.batch_id = ?", batchID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "PO link %d not found on batch %d", poLinkID, batchID)
		}
		return nil, err
	}
	return link, nil
}
