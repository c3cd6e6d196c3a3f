package multigrn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// grnBranchID is the ERP branch receipts are posted under.
const grnBranchID = 5

// PostBatch posts one goods receipt per eligible PO link on the batch.
// Links are posted independently: a failure on one never rolls back or
// stops the others, and a re-run of a partially failed batch skips links
// that already posted. The batch finishes completed when at least one
// link posted, failed otherwise.
func PostBatch(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, batchID int64) (*BatchPostReport, error) {
	if !actor.HasPermission(authz.CapMultipleGRN) {
		return nil, fault.New(fault.Authorization, "multiple GRN permissions required")
	}

	batch := new(models.GRNBatch)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model(batch).
			Relation("POLinks").
			Relation("POLinks.LineSelections").
			Where("gb.id = ?", batchID).
			Scan(ctx)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fault.New(fault.NotFound, "batch %d not found", batchID)
		}
		return nil, err
	}
	if batch.UserID != actor.ID && !actor.CanManageDocuments() {
		return nil, fault.New(fault.Authorization, "you can only post your own batches")
	}
	if batch.Status == models.BatchStatusCompleted {
		return nil, fault.New(fault.StateConflict, "batch %s has already completed", batch.BatchNumber)
	}

	report := &BatchPostReport{Results: make([]LinkResult, 0, len(batch.POLinks))}
	var errorLines []string
	aborted := false

	for i := range batch.POLinks {
		link := &batch.POLinks[i]
		if link.Status == models.POLinkStatusPosted {
			// Already posted on a previous run; immutable.
			report.Results = append(report.Results, LinkResult{
				PONum:     link.PODocNum,
				Success:   true,
				GRNDocNum: link.SAPGRNDocNum,
			})
			report.TotalSuccess++
			continue
		}
		if len(link.LineSelections) == 0 {
			continue
		}

		result, postErr := postLink(ctx, erpc, batch, link)

		outcomeErr := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			return writeLinkOutcome(ctx, tx, link, result, postErr)
		})
		if outcomeErr != nil {
			// Storage failure mid-run: stop here, mark the batch failed,
			// and keep whatever already posted.
			errorLines = append(errorLines, fmt.Sprintf("PO %s: recording outcome failed: %v", link.PODocNum, outcomeErr))
			aborted = true
			break
		}

		if postErr != nil {
			msg := postErr.Error()
			if errors.Is(postErr, context.DeadlineExceeded) {
				msg = "ERP unavailable: posting timed out"
			}
			report.Results = append(report.Results, LinkResult{PONum: link.PODocNum, Error: msg})
			report.TotalFailed++
			errorLines = append(errorLines, fmt.Sprintf("PO %s: %s", link.PODocNum, msg))
			slog.Warn("GRN posting failed for PO link",
				slog.Int64("batch_id", batchID),
				slog.String("po", link.PODocNum),
				slog.String("err", msg))
			continue
		}

		report.Results = append(report.Results, LinkResult{
			PONum:     link.PODocNum,
			Success:   true,
			GRNDocNum: result.DocNum,
		})
		report.TotalSuccess++
		slog.Info("GRN posted for PO link",
			slog.Int64("batch_id", batchID),
			slog.String("po", link.PODocNum),
			slog.String("grn", result.DocNum))
	}

	// An aborted run never completes, even with earlier successes: links
	// after the failure point were not processed and must stay postable.
	finalStatus := models.BatchStatusFailed
	if report.TotalSuccess > 0 && !aborted {
		finalStatus = models.BatchStatusCompleted
	}
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before := *batch
		now := time.Now()
		batch.Status = finalStatus
		batch.TotalGRNsCreated = report.TotalSuccess
		batch.ErrorLog = strings.Join(errorLines, "\n")
		batch.CompletedAt = &now
		batch.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(batch).
			Column("status", "total_grns_created", "error_log", "completed_at", "updated_at").
			WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionBatchPost, "grn_batches", fmt.Sprintf("%d", batch.ID), before, batch)
	})
	if err != nil {
		return report, err
	}

	slog.Info("GRN batch finished",
		slog.Int64("batch_id", batchID),
		slog.String("status", finalStatus),
		slog.Int("success", report.TotalSuccess),
		slog.Int("failed", report.TotalFailed))
	return report, nil
}

// postLink builds and sends one goods receipt for one PO link.
func postLink(ctx context.Context, erpc erp.Client, batch *models.GRNBatch, link *models.GRNPOLink) (erp.PostResult, error) {
	payload, err := buildLinkPayload(batch, link)
	if err != nil {
		return erp.PostResult{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, erp.DefaultCallTimeout)
	defer cancel()
	return erpc.PostGoodsReceipt(callCtx, payload)
}

// buildLinkPayload shapes one link's selections into the posting contract.
// Order-sourced lines carry a base-document reference back to the PO line
// they fulfil; manual lines post without one.
func buildLinkPayload(batch *models.GRNBatch, link *models.GRNPOLink) (erp.GoodsReceipt, error) {
	today := time.Now()
	payload := erp.GoodsReceipt{
		CardCode:   link.POCardCode,
		DocDate:    today,
		DocDueDate: today,
		Comments:   fmt.Sprintf("Auto-created from batch %s", batch.BatchNumber),
		NumAtCard:  fmt.Sprintf("BATCH-%d-PO-%s", batch.ID, link.PODocNum),
		BranchID:   grnBranchID,
		Lines:      make([]erp.ReceiptLine, 0, len(link.LineSelections)),
	}
	for _, sel := range link.LineSelections {
		rl := erp.ReceiptLine{
			ItemCode:      sel.ItemCode,
			Quantity:      sel.SelectedQuantity,
			WarehouseCode: sel.WarehouseCode,
		}
		if !sel.Manual() {
			rl.Base = &erp.BaseRef{
				BaseType:  erp.BaseTypePurchaseOrder,
				BaseEntry: link.PODocEntry,
				BaseLine:  sel.POLineNum,
			}
		}
		if sel.SerialPayload != "" {
			if err := json.Unmarshal([]byte(sel.SerialPayload), &rl.Serials); err != nil {
				return erp.GoodsReceipt{}, fmt.Errorf("item %s: decoding serial payload: %w", sel.ItemCode, err)
			}
		}
		if sel.BatchPayload != "" {
			if err := json.Unmarshal([]byte(sel.BatchPayload), &rl.Batches); err != nil {
				return erp.GoodsReceipt{}, fmt.Errorf("item %s: decoding batch payload: %w", sel.ItemCode, err)
			}
		}
		payload.Lines = append(payload.Lines, rl)
	}
	return payload, nil
}

// writeLinkOutcome commits one link's posting result. Each link gets its
// own transaction so one link's outcome is never coupled to another's.
func writeLinkOutcome(ctx context.Context, tx bun.Tx, link *models.GRNPOLink, result erp.PostResult, postErr error) error {
	if postErr != nil {
		msg := postErr.Error()
		if errors.Is(postErr, context.DeadlineExceeded) {
			msg = "ERP unavailable: posting timed out"
		}
		link.Status = models.POLinkStatusFailed
		link.ErrorMessage = msg
		_, err := tx.NewUpdate().Model(link).
			Column("status", "error_message").
			WherePK().Exec(ctx)
		return err
	}
	now := time.Now()
	link.Status = models.POLinkStatusPosted
	link.SAPGRNDocNum = result.DocNum
	link.SAPGRNDocEntry = result.DocEntry
	link.ErrorMessage = ""
	link.PostedAt = &now
	_, err := tx.NewUpdate().Model(link).
		Column("status", "sap_grn_doc_num", "sap_grn_doc_entry", "error_message", "posted_at").
		WherePK().Exec(ctx)
	return err
}
