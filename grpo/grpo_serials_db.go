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

// ListSerials returns a line's serial allocations in sequence order along
// with the document details needed for label printing.
func ListSerials(ctx context.Context, db *sqlite.DB, actor authz.Actor, lineID int64) ([]models.GRPOSerialNumber, DocumentDetails, error) {
	serials := make([]models.GRPOSerialNumber, 0)
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
		return tx.NewSelect().Model(&serials).
			Where("grpo_line_id = ?", lineID).
			OrderExpr("sequence_index ASC, id ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, DocumentDetails{}, err
	}
	return serials, details, nil
}

// AddSerial appends a single serial allocation to a draft line. The
// internal serial number must be unique across the whole system; the
// unique index is the final arbiter under concurrent adds.
func AddSerial(ctx context.Context, db *sqlite.DB, enc barcode.Encoder, auditSvc *audit.Service, actor authz.Actor, lineID int64, input allocation.SerialInput) (*models.GRPOSerialNumber, error) {
	isn := strings.TrimSpace(input.InternalSerialNumber)
	if isn == "" {
		return nil, fault.New(fault.Validation, "internal serial number is required")
	}

	labelPNG := barcode.EncodeLabelImage(enc, "SN:"+isn)

	row := &models.GRPOSerialNumber{
		GRPOLineID:               lineID,
		InternalSerialNumber:     isn,
		ManufacturerSerialNumber: strings.TrimSpace(input.ManufacturerSerialNumber),
		ManufactureDate:          input.ManufactureDate,
		ExpiryDate:               input.ExpiryDate,
		Notes:                    input.Notes,
		LabelPNG:                 labelPNG,
		Quantity:                 oneUnit,
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
			return fault.New(fault.StateConflict, "cannot add serial numbers to a non-draft GRPO")
		}

		next, err := tx.NewSelect().Model((*models.GRPOSerialNumber)(nil)).
			Where("grpo_line_id = ?", line.ID).
			Count(ctx)
		if err != nil {
			return err
		}
		row.SequenceIndex = next

		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			if sqlite.IsUniqueViolation(err) {
				return fault.Wrap(fault.Duplicate, err, "serial number %q already exists", isn)
			}
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOSerialAdd, "grpo_serial_numbers", fmt.Sprintf("%d", row.ID), nil, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteSerial removes one serial allocation while its document is draft.
func DeleteSerial(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, serialID int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		row := new(models.GRPOSerialNumber)
		if err := tx.NewSelect().Model(row).Where("gsn.id = ?", serialID).Scan(ctx); err != nil {
			if isNoRows(err) {
				return fault.New(fault.NotFound, "serial number %d not found", serialID)
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
			return fault.New(fault.StateConflict, "cannot delete serial numbers from a non-draft GRPO")
		}
		if _, err := tx.NewDelete().Model((*models.GRPOSerialNumber)(nil)).Where("id = ?", serialID).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOSerialDelete, "grpo_serial_numbers", fmt.Sprintf("%d", serialID), row, nil)
	})
}

// SerialNumberAvailable reports whether an internal serial number is not
// yet taken anywhere in the system.
func SerialNumberAvailable(ctx context.Context, db *sqlite.DB, serialNumber string) (bool, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return false, fault.New(fault.Validation, "serial number is required")
	}
	var exists bool
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		exists, err = tx.NewSelect().Model((*models.GRPOSerialNumber)(nil)).
			Where("internal_serial_number = ?", serialNumber).
			Exists(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func readLineWithDocument(ctx context.Context, tx bun.Tx, lineID int64) (*models.GRPOLine, *models.GRPODocument, error) {
	line := new(models.GRPOLine)
	if err := tx.NewSelect().Model(line).Where("gl.id = ?", lineID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil, fault.New(fault.NotFound, "GRPO item %d not found", lineID)
		}
		return nil, nil, err
	}
	doc := new(models.GRPODocument)
	if err := tx.NewSelect().Model(doc).Where("gd.id = ?", line.GRPOID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil, fault.New(fault.NotFound, "GRPO %d not found", line.GRPOID)
		}
		return nil, nil, err
	}
	return line, doc, nil
}

func docDetails(doc *models.GRPODocument, line *models.GRPOLine) DocumentDetails {
	docNumber := ""
	if doc.SAPDocumentNumber != nil {
		docNumber = *doc.SAPDocumentNumber
	}
	return DocumentDetails{
		PONumber:    doc.PONumber,
		GRNDate:     doc.CreatedAt.Format("2006-01-02"),
		DocNumber:   docNumber,
		ItemCode:    line.ItemCode,
		ItemName:    line.ItemName,
		ReceivedQty: line.ReceivedQuantity.String(),
	}
}
