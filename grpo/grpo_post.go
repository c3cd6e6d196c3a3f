package grpo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// postDocument runs one ERP posting attempt for a QC-approved document.
// The attempt's outcome is committed in its own transaction: success moves
// the document to posted with the ERP document number, failure records the
// error text and leaves the status untouched so the attempt can be
// repeated.
func postDocument(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, grpoID int64) (PostOutcome, error) {
	doc := new(models.GRPODocument)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model(doc).
			Relation("Lines").
			Relation("Lines.SerialNumbers").
			Relation("Lines.BatchNumbers").
			Where("gd.id = ?", grpoID).
			Scan(ctx)
	})
	if err != nil {
		return PostOutcome{}, err
	}

	payload := buildReceiptPayload(doc)

	callCtx, cancel := context.WithTimeout(ctx, erp.DefaultCallTimeout)
	result, postErr := erpc.PostGoodsReceipt(callCtx, payload)
	cancel()

	if postErr != nil {
		msg := postErr.Error()
		if errors.Is(postErr, context.DeadlineExceeded) {
			msg = "ERP unavailable: posting timed out"
		}
		err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.NewUpdate().Model((*models.GRPODocument)(nil)).
				Set("posting_error = ?", msg).
				Set("updated_at = CURRENT_TIMESTAMP").
				Where("id = ?", grpoID).
				Exec(ctx)
			return err
		})
		if err != nil {
			return PostOutcome{}, err
		}
		slog.Warn("GRPO approved but ERP posting failed", slog.Int64("grpo_id", grpoID), slog.String("err", msg))
		return PostOutcome{Posted: false, Error: msg}, nil
	}

	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		before := *doc
		now := time.Now()
		doc.Status = models.GRPOStatusPosted
		doc.SAPDocumentNumber = &result.DocNum
		doc.PostingError = ""
		doc.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(doc).
			Column("status", "sap_document_number", "posting_error", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOPost, "grpo_documents", fmt.Sprintf("%d", doc.ID), before, doc)
	})
	if err != nil {
		return PostOutcome{}, err
	}
	slog.Info("GRPO posted", slog.Int64("grpo_id", grpoID), slog.String("sap_doc", result.DocNum))
	return PostOutcome{Posted: true, SAPDocumentNumber: result.DocNum}, nil
}

// buildReceiptPayload shapes a document and its allocations into the fixed
// ERP posting contract. The single-order flow posts against the PO by its
// free-text reference; base-document line linkage is the multi-order
// orchestrator's concern.
func buildReceiptPayload(doc *models.GRPODocument) erp.GoodsReceipt {
	today := time.Now()
	payload := erp.GoodsReceipt{
		CardCode:   doc.SupplierCode,
		DocDate:    today,
		DocDueDate: today,
		Comments:   fmt.Sprintf("Goods receipt for PO %s", doc.PONumber),
		NumAtCard:  doc.PONumber,
		Lines:      make([]erp.ReceiptLine, 0, len(doc.Lines)),
	}
	for _, line := range doc.Lines {
		rl := erp.ReceiptLine{
			ItemCode:      line.ItemCode,
			Quantity:      line.ReceivedQuantity,
			WarehouseCode: line.WarehouseCode,
		}
		for _, sn := range line.SerialNumbers {
			rl.Serials = append(rl.Serials, erp.SerialEntry{
				InternalSerialNumber:     sn.InternalSerialNumber,
				ManufacturerSerialNumber: sn.ManufacturerSerialNumber,
				ManufactureDate:          sn.ManufactureDate,
				ExpiryDate:               sn.ExpiryDate,
			})
		}
		for _, bn := range line.BatchNumbers {
			rl.Batches = append(rl.Batches, erp.BatchEntry{
				BatchNumber: bn.BatchNumber,
				Quantity:    bn.Quantity,
				ExpiryDate:  bn.ExpiryDate,
			})
		}
		payload.Lines = append(payload.Lines, rl)
	}
	return payload
}

// VerifyPostedInvariant reports documents violating the "document number
// iff posted" rule. Used by tests and by the health surface.
func VerifyPostedInvariant(ctx context.Context, db *sqlite.DB) ([]int64, error) {
	var ids []int64
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(`
SELECT id FROM grpo_documents
WHERE (status = ? AND sap_document_number IS NULL)
   OR (status != ? AND sap_document_number IS NOT NULL)`,
			models.GRPOStatusPosted, models.GRPOStatusPosted).Scan(ctx, &ids)
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, fault.New(fault.Internal, "documents violate posted invariant: %v", ids)
	}
	return nil, nil
}
