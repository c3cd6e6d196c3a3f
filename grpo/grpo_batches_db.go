package grpo

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"grndock/allocation"
	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/barcode"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// ListBatches returns a line's batch allocations in sequence order.
func ListBatches(ctx context.Context, db *sqlite.DB, actor authz.Actor, lineID int64) ([]models.GRPOBatchNumber, DocumentDetails, error) {
	batches := make([]models.GRPOBatchNumber, 0)
	var details DocumentDetails
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		line, doc, err := readLineWithDocument(ctx, tx, lineID)
		if err != nil {
			return err
		}
		if !actor.CanView(doc.UserID) {
			return fault.New(fault.Authorization, "access denied")
		}
		details = docDetails(doc, line)
		return tx.NewSelect().Model(&batches).
			Where("grpo_line_id = ?", lineID).
			OrderExpr("sequence_index ASC, id ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, DocumentDetails{}, err
	}
	return batches, details, nil
}

// AddBatch appends a single batch allocation to a draft line.
func AddBatch(ctx context.Context, db *sqlite.DB, enc barcode.Encoder, auditSvc *audit.Service, actor authz.Actor, lineID int64, input allocation.BatchInput) (*models.GRPOBatchNumber, error) {
	batchNumber := strings.TrimSpace(input.BatchNumber)
	if batchNumber == "" {
		return nil, fault.New(fault.Validation, "batch number is required")
	}
	if input.Quantity.Sign() <= 0 {
		return nil, fault.New(fault.Validation, "quantity must be greater than 0")
	}

	labelPNG := barcode.EncodeLabelImage(enc, "BATCH:"+batchNumber)

	row := &models.GRPOBatchNumber{
		GRPOLineID:               lineID,
		BatchNumber:              batchNumber,
		Quantity:                 input.Quantity,
		ManufacturerSerialNumber: strings.TrimSpace(input.ManufacturerSerialNumber),
		InternalSerialNumber:     strings.TrimSpace(input.InternalSerialNumber),
		ExpiryDate:               input.ExpiryDate,
		LabelPNG:                 labelPNG,
	}
	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		line, doc, err := readLineWithDocument(ctx, tx, lineID)
		if err != nil {
			return err
		}
		if doc.UserID != actor.ID && !actor.CanManageDocuments() {
			return fault.New(fault.Authorization, "you can only modify your own GRPOs")
		}
		if doc.Status != models.GRPOStatusDraft {
			return fault.New(fault.StateConflict, "cannot add batch numbers to a non-draft GRPO")
		}

		next, err := tx.NewSelect().Model((*models.GRPOBatchNumber)(nil)).
			Where("grpo_line_id = ?", line.ID).
			Count(ctx)
		if err != nil {
			return err
		}
		row.SequenceIndex = next

		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOBatchAdd, "grpo_batch_numbers", fmt.Sprintf("%d", row.ID), nil, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteBatch removes one batch allocation while its document is draft.
func DeleteBatch(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, batchID int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		row := new(models.GRPOBatchNumber)
		if err := tx.NewSelect().Model(row).Where("gbn.id = ?", batchID).Scan(ctx); err != nil {
			if isNoRows(err) {
				return fault.New(fault.NotFound, "batch number %d not found", batchID)
			}
			return err
		}
		_, doc, err := readLineWithDocument(ctx, tx, row.GRPOLineID)
		if err != nil {
			return err
		}
		if doc.UserID != actor.ID && !actor.CanManageDocuments() {
			return fault.New(fault.Authorization, "you can only modify your own GRPOs")
		}
		if doc.Status != models.GRPOStatusDraft {
			return fault.New(fault.StateConflict, "cannot delete batch numbers from a non-draft GRPO")
		}
		if _, err := tx.NewDelete().Model((*models.GRPOBatchNumber)(nil)).Where("id = ?", batchID).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOBatchDelete, "grpo_batch_numbers", fmt.Sprintf("%d", batchID), row, nil)
	})
}
