package multigrn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

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

func openBatchTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "multigrn-test.db")
	db, err := sqlite.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	migrationsDir := filepath.Join(filepath.Dir(file), "..", "infrastructure", "sqlite", "migrations")
	if err := sqlite.ApplyMigrations(context.Background(), db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

var batchActor = authz.Actor{ID: 1, Username: "receiver", Role: authz.RoleUser, Permissions: map[string]bool{authz.CapMultipleGRN: true}}

func batchFakeERP() *erp.Fake {
	f := erp.NewFake()
	f.AddItem(erp.Classification{ItemCode: "ITEM-STD", ItemName: "Bracket", UOM: "EA"})
	f.AddItem(erp.Classification{ItemCode: "ITEM-SER", ItemName: "Sensor", UOM: "EA", SerialManaged: true})
	f.AddItem(erp.Classification{ItemCode: "ITEM-BAT", ItemName: "Compound", UOM: "KG", BatchManaged: true})
	return f
}

func poSelection(docEntry int, docNum string) POSelection {
	now := time.Now()
	return POSelection{
		DocEntry: docEntry,
		DocNum:   docNum,
		CardCode: "C100",
		CardName: "Acme",
		DocDate:  &now,
		DocTotal: decimal.NewFromInt(100),
	}
}

func stdLine(poLineNum int, itemCode string, open, selected int64) LineSelectionInput {
	return LineSelectionInput{
		POLineNum:        poLineNum,
		ItemCode:         itemCode,
		ItemDescription:  itemCode,
		OrderedQuantity:  decimal.NewFromInt(open),
		OpenQuantity:     decimal.NewFromInt(open),
		SelectedQuantity: decimal.NewFromInt(selected),
		LineStatus:       "open",
	}
}

func setupBatch(t *testing.T, db *sqlite.DB, f *erp.Fake, poNums ...string) (*models.GRNBatch, []models.GRNPOLink) {
	t.Helper()
	ctx := context.Background()
	batch, err := CreateBatch(ctx, db, audit.NewService(), batchActor, "C100", "Acme")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	selections := make([]POSelection, 0, len(poNums))
	for i, num := range poNums {
		selections = append(selections, poSelection(200+i, num))
	}
	links, err := AttachPurchaseOrders(ctx, db, audit.NewService(), batchActor, batch.ID, selections)
	if err != nil {
		t.Fatalf("attach orders: %v", err)
	}
	return batch, links
}

func TestCreateBatchGeneratesUniqueNumbers(t *testing.T) {
	db := openBatchTestDB(t)
	ctx := context.Background()

	a, err := CreateBatch(ctx, db, audit.NewService(), batchActor, "C100", "Acme")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := CreateBatch(ctx, db, audit.NewService(), batchActor, "C100", "Acme")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if a.BatchNumber == b.BatchNumber {
		t.Fatalf("batch numbers must be unique, both %q", a.BatchNumber)
	}
	if !strings.HasPrefix(a.BatchNumber, "MGRN-") {
		t.Fatalf("unexpected batch number format %q", a.BatchNumber)
	}

	noCap := authz.Actor{ID: 5, Role: authz.RoleUser}
	if _, err := CreateBatch(ctx, db, audit.NewService(), noCap, "C100", "Acme"); err == nil || !fault.Is(err, fault.Authorization) {
		t.Fatalf("expected authorization fault, got %v", err)
	}
}

func TestAttachPurchaseOrdersSkipsDuplicates(t *testing.T) {
	db := openBatchTestDB(t)
	ctx := context.Background()

	batch, links := setupBatch(t, db, batchFakeERP(), "PO-1", "PO-2")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}

	again, err := AttachPurchaseOrders(ctx, db, audit.NewService(), batchActor, batch.ID, []POSelection{poSelection(200, "PO-1"), poSelection(300, "PO-3")})
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if len(again) != 1 || again[0].PODocNum != "PO-3" {
		t.Fatalf("expected only PO-3 to be added, got %+v", again)
	}

	loaded, err := GetBatch(ctx, db, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if loaded.TotalPOs != 3 || len(loaded.POLinks) != 3 {
		t.Fatalf("expected 3 linked orders, got total=%d links=%d", loaded.TotalPOs, len(loaded.POLinks))
	}
	if loaded.Status != models.BatchStatusSelecting {
		t.Fatalf("batch status = %s, want selecting", loaded.Status)
	}
}

func TestSelectLinesReconciliation(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()

	batch, links := setupBatch(t, db, f, "PO-1")
	link := links[0]

	stored, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(0, "ITEM-STD", 10, 4),
	})
	if err != nil {
		t.Fatalf("select lines: %v", err)
	}
	if len(stored) != 1 || stored[0].InventoryType != models.InventoryTypeStandard {
		t.Fatalf("unexpected stored selection: %+v", stored)
	}
	if stored[0].WarehouseCode != DefaultWarehouse {
		t.Fatalf("expected default warehouse, got %q", stored[0].WarehouseCode)
	}

	// Over-receipt against the open quantity is a hard reject.
	_, err = SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(1, "ITEM-BAT", 5, 6),
	})
	if err == nil || !fault.Is(err, fault.Validation) {
		t.Fatalf("expected over-receipt to be rejected, got %v", err)
	}

	// Same item twice under one link is a duplicate.
	_, err = SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(2, "ITEM-STD", 10, 1),
	})
	if err == nil || !fault.Is(err, fault.Duplicate) {
		t.Fatalf("expected duplicate item to be rejected, got %v", err)
	}

	// Unknown items never get stored.
	_, err = SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(3, "ITEM-NOPE", 5, 1),
	})
	if err == nil || !fault.Is(err, fault.Lookup) {
		t.Fatalf("expected lookup fault for unknown item, got %v", err)
	}
}

func TestAddManualItemValidatesAllocations(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()

	batch, links := setupBatch(t, db, f, "PO-1")
	link := links[0]

	sel, err := AddManualItem(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, ManualItemInput{
		ItemCode: "ITEM-SER",
		Quantity: decimal.NewFromInt(2),
		Serials: []allocation.SerialInput{
			{InternalSerialNumber: "SN-M1"},
			{InternalSerialNumber: "SN-M2"},
		},
	})
	if err != nil {
		t.Fatalf("add manual item: %v", err)
	}
	if !sel.Manual() || sel.POLineNum != models.ManualLineNum {
		t.Fatalf("manual marker missing: %+v", sel)
	}
	if sel.SerialPayload == "" {
		t.Fatalf("serial payload not stored")
	}
	if sel.ItemDescription != "Sensor" {
		t.Fatalf("expected description from classification, got %q", sel.ItemDescription)
	}

	// Batch-managed manual item with a short sum is rejected.
	_, err = AddManualItem(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, ManualItemInput{
		ItemCode: "ITEM-BAT",
		Quantity: decimal.NewFromInt(6),
		Batches: []allocation.BatchInput{
			{BatchNumber: "B-1", Quantity: decimal.NewFromInt(2)},
			{BatchNumber: "B-2", Quantity: decimal.NewFromInt(3)},
		},
	})
	if err == nil || !fault.Is(err, fault.Validation) {
		t.Fatalf("expected allocation sum mismatch, got %v", err)
	}
}

func TestPostBatchPartialFailure(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1", "PO-2", "PO-3")
	for i, link := range links {
		if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
			stdLine(i, "ITEM-STD", 10, 5),
		}); err != nil {
			t.Fatalf("select lines for %s: %v", link.PODocNum, err)
		}
	}

	// Payloads carry "BATCH-<id>-PO-<num>"; fail only the second order.
	f.FailPostsFor("PO-2", errors.New("erp rejected document"))

	report, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if report.TotalSuccess != 2 || report.TotalFailed != 1 {
		t.Fatalf("report = %d success / %d failed, want 2/1", report.TotalSuccess, report.TotalFailed)
	}

	loaded, err := GetBatch(ctx, db, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if loaded.Status != models.BatchStatusCompleted {
		t.Fatalf("batch status = %s, want completed (success > 0)", loaded.Status)
	}
	if loaded.TotalGRNsCreated != 2 {
		t.Fatalf("total grns = %d, want 2", loaded.TotalGRNsCreated)
	}
	if !strings.Contains(loaded.ErrorLog, "PO-2") {
		t.Fatalf("error log should name the failed order, got %q", loaded.ErrorLog)
	}
	if loaded.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}

	statuses := map[string]string{}
	for _, link := range loaded.POLinks {
		statuses[link.PODocNum] = link.Status
		if link.Status == models.POLinkStatusPosted && link.SAPGRNDocNum == "" {
			t.Fatalf("posted link %s missing GRN number", link.PODocNum)
		}
		if link.Status == models.POLinkStatusFailed && link.ErrorMessage == "" {
			t.Fatalf("failed link %s missing error message", link.PODocNum)
		}
	}
	if statuses["PO-1"] != models.POLinkStatusPosted ||
		statuses["PO-2"] != models.POLinkStatusFailed ||
		statuses["PO-3"] != models.POLinkStatusPosted {
		t.Fatalf("unexpected link statuses: %v", statuses)
	}

	// One receipt per successful order, each with its own reference.
	if len(f.PostedDocuments) != 2 {
		t.Fatalf("expected 2 posted receipts, got %d", len(f.PostedDocuments))
	}

	// Completed batches are immutable.
	if _, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID); err == nil || !fault.Is(err, fault.StateConflict) {
		t.Fatalf("expected re-post of completed batch to conflict, got %v", err)
	}
	if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, links[0].ID, []LineSelectionInput{
		stdLine(9, "ITEM-BAT", 5, 1),
	}); err == nil || !fault.Is(err, fault.StateConflict) {
		t.Fatalf("expected edit of completed batch to conflict, got %v", err)
	}
}

func TestPostBatchAllFailures(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1")
	if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, links[0].ID, []LineSelectionInput{
		stdLine(0, "ITEM-STD", 10, 5),
	}); err != nil {
		t.Fatalf("select lines: %v", err)
	}
	f.FailPostsFor("PO-1", errors.New("erp down"))

	report, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if report.TotalSuccess != 0 || report.TotalFailed != 1 {
		t.Fatalf("report = %d/%d, want 0/1", report.TotalSuccess, report.TotalFailed)
	}

	loaded, _ := GetBatch(ctx, db, batchActor, batch.ID)
	if loaded.Status != models.BatchStatusFailed {
		t.Fatalf("batch status = %s, want failed", loaded.Status)
	}

	// A failed batch may be re-posted once the ERP recovers.
	delete(f.PostErrors, "PO-1")
	report, err = PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("re-post: %v", err)
	}
	if report.TotalSuccess != 1 {
		t.Fatalf("expected recovery post to succeed, got %+v", report)
	}
	loaded, _ = GetBatch(ctx, db, batchActor, batch.ID)
	if loaded.Status != models.BatchStatusCompleted {
		t.Fatalf("batch status after recovery = %s, want completed", loaded.Status)
	}
}

func TestPostBatchSkipsEmptyAndPostedLinks(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1", "PO-EMPTY")
	if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, links[0].ID, []LineSelectionInput{
		stdLine(0, "ITEM-STD", 10, 5),
	}); err != nil {
		t.Fatalf("select lines: %v", err)
	}

	report, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if report.TotalSuccess != 1 || report.TotalFailed != 0 {
		t.Fatalf("report = %d/%d, want 1/0", report.TotalSuccess, report.TotalFailed)
	}
	if len(f.PostedDocuments) != 1 {
		t.Fatalf("empty link must not produce a receipt, got %d", len(f.PostedDocuments))
	}

	loaded, _ := GetBatch(ctx, db, batchActor, batch.ID)
	for _, link := range loaded.POLinks {
		if link.PODocNum == "PO-EMPTY" && link.Status != models.POLinkStatusSelected {
			t.Fatalf("empty link status = %s, want selected", link.Status)
		}
	}
}

func TestPostBatchBaseReferences(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1")
	link := links[0]
	if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(3, "ITEM-STD", 10, 5),
	}); err != nil {
		t.Fatalf("select lines: %v", err)
	}
	if _, err := AddManualItem(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, ManualItemInput{
		ItemCode: "ITEM-BAT",
		Quantity: decimal.NewFromInt(4),
		Batches: []allocation.BatchInput{
			{BatchNumber: "B-1", Quantity: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("add manual item: %v", err)
	}

	if _, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID); err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if len(f.PostedDocuments) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(f.PostedDocuments))
	}
	receipt := f.PostedDocuments[0]
	if receipt.BranchID != grnBranchID {
		t.Fatalf("branch id = %d, want %d", receipt.BranchID, grnBranchID)
	}
	if !strings.Contains(receipt.Comments, batch.BatchNumber) {
		t.Fatalf("comments should carry the batch number, got %q", receipt.Comments)
	}
	if len(receipt.Lines) != 2 {
		t.Fatalf("expected 2 receipt lines, got %d", len(receipt.Lines))
	}
	for _, line := range receipt.Lines {
		switch line.ItemCode {
		case "ITEM-STD":
			if line.Base == nil || line.Base.BaseType != erp.BaseTypePurchaseOrder || line.Base.BaseEntry != link.PODocEntry || line.Base.BaseLine != 3 {
				t.Fatalf("order-sourced line has wrong base ref: %+v", line.Base)
			}
		case "ITEM-BAT":
			if line.Base != nil {
				t.Fatalf("manual line must not carry a base ref")
			}
			if len(line.Batches) != 1 || line.Batches[0].BatchNumber != "B-1" {
				t.Fatalf("manual line lost its batch allocation: %+v", line.Batches)
			}
		default:
			t.Fatalf("unexpected line item %s", line.ItemCode)
		}
	}
}

func TestPostBatchStorageFailureAbortsRun(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1", "PO-2")
	for i, link := range links {
		if _, err := SelectLines(ctx, db, f, audit.NewService(), batchActor, batch.ID, link.ID, []LineSelectionInput{
			stdLine(i, "ITEM-STD", 10, 5),
		}); err != nil {
			t.Fatalf("select lines for %s: %v", link.PODocNum, err)
		}
	}

	// Reject the second link's outcome write at the storage layer. The
	// ERP call itself still succeeds; only the commit of its result fails.
	guard := fmt.Sprintf(`CREATE TRIGGER reject_link_outcome
BEFORE UPDATE OF status ON grn_po_links
WHEN NEW.id = %d AND NEW.status = 'posted'
BEGIN
	SELECT RAISE(ABORT, 'outcome write rejected');
END`, links[1].ID)
	if err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, guard)
		return err
	}); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	report, err := PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	if report.TotalSuccess != 1 {
		t.Fatalf("total success = %d, want 1", report.TotalSuccess)
	}

	loaded, err := GetBatch(ctx, db, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if loaded.Status != models.BatchStatusFailed {
		t.Fatalf("batch status = %s, want failed after an aborted run", loaded.Status)
	}
	if !strings.Contains(loaded.ErrorLog, "recording outcome failed") {
		t.Fatalf("error log should record the storage failure, got %q", loaded.ErrorLog)
	}
	statuses := map[string]string{}
	for _, link := range loaded.POLinks {
		statuses[link.PODocNum] = link.Status
	}
	if statuses["PO-1"] != models.POLinkStatusPosted {
		t.Fatalf("first link status = %s, want posted kept through the abort", statuses["PO-1"])
	}
	if statuses["PO-2"] != models.POLinkStatusSelected {
		t.Fatalf("unrecorded link status = %s, want selected", statuses["PO-2"])
	}

	// Once the storage layer recovers, the failed batch posts through.
	if err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.ExecContext(ctx, "DROP TRIGGER reject_link_outcome")
		return err
	}); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	report, err = PostBatch(ctx, db, f, auditSvc, batchActor, batch.ID)
	if err != nil {
		t.Fatalf("re-post: %v", err)
	}
	if report.TotalSuccess != 2 {
		t.Fatalf("recovery post success = %d, want 2", report.TotalSuccess)
	}
	loaded, _ = GetBatch(ctx, db, batchActor, batch.ID)
	if loaded.Status != models.BatchStatusCompleted {
		t.Fatalf("batch status after recovery = %s, want completed", loaded.Status)
	}
}

func TestSelectionMutationsAreAudited(t *testing.T) {
	db := openBatchTestDB(t)
	f := batchFakeERP()
	ctx := context.Background()
	auditSvc := audit.NewService()

	batch, links := setupBatch(t, db, f, "PO-1")
	link := links[0]

	if _, err := SelectLines(ctx, db, f, auditSvc, batchActor, batch.ID, link.ID, []LineSelectionInput{
		stdLine(0, "ITEM-STD", 10, 4),
	}); err != nil {
		t.Fatalf("select lines: %v", err)
	}
	sel, err := AddManualItem(ctx, db, f, auditSvc, batchActor, batch.ID, link.ID, ManualItemInput{
		ItemCode: "ITEM-SER",
		Quantity: decimal.NewFromInt(2),
		Serials: []allocation.SerialInput{
			{InternalSerialNumber: "SN-T1"},
			{InternalSerialNumber: "SN-T2"},
		},
	})
	if err != nil {
		t.Fatalf("add manual item: %v", err)
	}
	if err := SetLineAllocations(ctx, db, auditSvc, batchActor, batch.ID, sel.ID, []allocation.SerialInput{
		{InternalSerialNumber: "SN-T3"},
		{InternalSerialNumber: "SN-T4"},
	}, nil); err != nil {
		t.Fatalf("set allocations: %v", err)
	}
	if err := RemoveLineSelection(ctx, db, auditSvc, batchActor, batch.ID, sel.ID); err != nil {
		t.Fatalf("remove selection: %v", err)
	}

	for _, action := range []string{
		audit.ActionBatchAttachPOs,
		audit.ActionBatchSelectLines,
		audit.ActionBatchManualItem,
		audit.ActionBatchSetAllocations,
		audit.ActionBatchRemoveSelection,
	} {
		var count int
		err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			var err error
			count, err = tx.NewSelect().Model((*models.AuditLog)(nil)).
				Where("action = ?", action).
				Count(ctx)
			return err
		})
		if err != nil {
			t.Fatalf("count %s: %v", action, err)
		}
		if count != 1 {
			t.Fatalf("expected 1 audit row for %s, got %d", action, count)
		}
	}
}
