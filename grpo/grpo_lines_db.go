package grpo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uptrace/bun"

	"grndock/allocation"
	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/barcode"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// AddLine reconciles and stores one proposed receipt line.
//
// Order of checks: duplicate item on the document, ERP classification,
// then the batch/serial payload against the resolved management mode.
// The line and all its allocations commit in one transaction; any failure
// rolls the whole addition back.
func AddLine(ctx context.Context, db *sqlite.DB, erpc erp.Client, enc barcode.Encoder, auditSvc *audit.Service, actor authz.Actor, grpoID int64, input LineInput) (*models.GRPOLine, error) {
	input.ItemCode = strings.TrimSpace(input.ItemCode)
	input.ItemName = strings.TrimSpace(input.ItemName)
	if input.ItemCode == "" || input.ItemName == "" {
		return nil, fault.New(fault.Validation, "item code and item name are required")
	}
	if input.Quantity.Sign() <= 0 {
		return nil, fault.New(fault.Validation, "quantity must be greater than 0")
	}

	// Classification comes from the ERP on every add; a lookup failure
	// rejects the write rather than assuming an unmanaged item.
	cls, err := erp.Classify(ctx, erpc, input.ItemCode)
	if err != nil {
		return nil, err
	}
	switch {
	case cls.SerialManaged:
		if err := allocation.ValidateSerials(input.Quantity, input.Serials); err != nil {
			return nil, err
		}
	case cls.BatchManaged:
		if err := allocation.ValidateBatches(input.Quantity, input.Batches); err != nil {
			return nil, err
		}
	}

	// Label images are produced by the external encoder before the write
	// transaction opens; a failed encoding degrades to no image.
	serialImages := make([][]byte, len(input.Serials))
	if cls.SerialManaged {
		for i, sn := range input.Serials {
			serialImages[i] = barcode.EncodeLabelImage(enc, "SN:"+strings.TrimSpace(sn.InternalSerialNumber))
		}
	}
	batchImages := make([][]byte, len(input.Batches))
	if cls.BatchManaged {
		for i, bn := range input.Batches {
			batchImages[i] = barcode.EncodeLabelImage(enc, "BATCH:"+strings.TrimSpace(bn.BatchNumber))
		}
	}

	uom := input.UnitOfMeasure
	if uom == "" {
		uom = cls.UOM
	}

	line := &models.GRPOLine{
		GRPOID:           grpoID,
		ItemCode:         input.ItemCode,
		ItemName:         input.ItemName,
		Quantity:         input.Quantity,
		ReceivedQuantity: input.Quantity,
		UnitOfMeasure:    uom,
		WarehouseCode:    input.WarehouseCode,
		BinLocation:      input.BinLocation,
		BatchNumber:      input.BatchNumber,
		ExpiryDate:       input.ExpiryDate,
		QCStatus:         models.QCStatusPending,
	}

	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		doc, err := loadDocumentTx(ctx, tx, grpoID)
		if err != nil {
			return err
		}
		if doc.UserID != actor.ID && !actor.CanManageDocuments() {
			return fault.New(fault.Authorization, "you can only modify your own GRPOs")
		}
		if doc.Status != models.GRPOStatusDraft {
			return fault.New(fault.StateConflict, "cannot add items to a non-draft GRPO")
		}

		exists, err := tx.NewSelect().Model((*models.GRPOLine)(nil)).
			Where("grpo_id = ?", grpoID).
			Where("item_code = ?", input.ItemCode).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fault.New(fault.Duplicate, "item %s has already been added to this GRPO", input.ItemCode)
		}

		if _, err := tx.NewInsert().Model(line).Exec(ctx); err != nil {
			if sqlite.IsUniqueViolation(err) {
				return fault.Wrap(fault.Duplicate, err, "item %s has already been added to this GRPO", input.ItemCode)
			}
			return err
		}

		if cls.SerialManaged {
			for idx, sn := range input.Serials {
				row := &models.GRPOSerialNumber{
					GRPOLineID:               line.ID,
					InternalSerialNumber:     strings.TrimSpace(sn.InternalSerialNumber),
					ManufacturerSerialNumber: strings.TrimSpace(sn.ManufacturerSerialNumber),
					ManufactureDate:          sn.ManufactureDate,
					ExpiryDate:               sn.ExpiryDate,
					Notes:                    sn.Notes,
					LabelPNG:                 serialImages[idx],
					Quantity:                 oneUnit,
					SequenceIndex:            idx,
				}
				if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
					if sqlite.IsUniqueViolation(err) {
						return fault.Wrap(fault.Duplicate, err, "serial number %q already exists", row.InternalSerialNumber)
					}
					return err
				}
			}
		}
		if cls.BatchManaged {
			for idx, bn := range input.Batches {
				row := &models.GRPOBatchNumber{
					GRPOLineID:               line.ID,
					BatchNumber:              strings.TrimSpace(bn.BatchNumber),
					Quantity:                 bn.Quantity,
					ManufacturerSerialNumber: strings.TrimSpace(bn.ManufacturerSerialNumber),
					InternalSerialNumber:     strings.TrimSpace(bn.InternalSerialNumber),
					ExpiryDate:               bn.ExpiryDate,
					LabelPNG:                 batchImages[idx],
					SequenceIndex:            idx,
				}
				if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
					return err
				}
			}
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOLineAdd, "grpo_lines", fmt.Sprintf("%d", line.ID), nil, line)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("item added to GRPO",
		slog.Int64("grpo_id", grpoID),
		slog.String("item_code", input.ItemCode),
		slog.String("inventory_type", cls.InventoryType()))
	return line, nil
}

// DeleteLine removes a line and its allocations while the document is
// still draft.
func DeleteLine(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, lineID int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		line, doc, err := loadLineWithDocumentTx(ctx, tx, lineID)
		if err != nil {
			return err
		}
		if doc.UserID != actor.ID && !actor.CanManageDocuments() {
			return fault.New(fault.Authorization, "you can only modify your own GRPOs")
		}
		if doc.Status != models.GRPOStatusDraft {
			return fault.New(fault.StateConflict, "cannot delete items from a non-draft GRPO")
		}

		if _, err := tx.NewDelete().Model((*models.GRPOSerialNumber)(nil)).Where("grpo_line_id = ?", lineID).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*models.GRPOBatchNumber)(nil)).Where("grpo_line_id = ?", lineID).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*models.GRPOLine)(nil)).Where("id = ?", lineID).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOLineDelete, "grpo_lines", fmt.Sprintf("%d", lineID), line, nil)
	})
}

func loadLineWithDocumentTx(ctx context.Context, tx bun.Tx, lineID int64) (*models.GRPOLine, *models.GRPODocument, error) {
	line := new(models.GRPOLine)
	if err := tx.NewSelect().Model(line).Where("gl.id = ?", lineID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil, fault.New(fault.NotFound, "GRPO item %d not found", lineID)
		}
		return nil, nil, err
	}
	doc, err := loadDocumentTx(ctx, tx, line.GRPOID)
	if err != nil {
		return nil, nil, err
	}
	return line, doc, nil
}
