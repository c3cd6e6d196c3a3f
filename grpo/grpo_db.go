package grpo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/models"
)

// CreateDocument opens a new draft GRPO against a purchase order.
//
// A PO already referenced by a non-posted document is blocked until that
// document finishes; a PO whose prior document is posted may be received
// again.
func CreateDocument(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, poNumber string) (*models.GRPODocument, error) {
	if !actor.HasPermission(authz.CapGRPO) {
		return nil, fault.New(fault.Authorization, "GRPO permissions required")
	}
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return nil, fault.New(fault.Validation, "PO number is required")
	}

	var blocking models.GRPODocument
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model(&blocking).
			Where("po_number = ?", poNumber).
			Where("status != ?", models.GRPOStatusPosted).
			Limit(1).
			Scan(ctx)
	})
	if err == nil {
		return nil, fault.New(fault.StateConflict, "GRPO already exists for PO %s and is not yet posted", poNumber)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Supplier details are best-effort: an unreachable ERP does not block
	// opening a draft, it only leaves the counterparty blank.
	var supplierCode, supplierName string
	poCtx, cancel := context.WithTimeout(ctx, erp.DefaultCallTimeout)
	po, err := erpc.GetPurchaseOrder(poCtx, poNumber)
	cancel()
	if err != nil {
		slog.Warn("could not fetch PO details", slog.String("po_number", poNumber), slog.Any("err", err))
	} else if po != nil {
		supplierCode = po.CardCode
		supplierName = po.CardName
	}

	doc := &models.GRPODocument{
		PONumber:     poNumber,
		SupplierCode: supplierCode,
		SupplierName: supplierName,
		Status:       models.GRPOStatusDraft,
		UserID:       actor.ID,
	}
	err = db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(doc).Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOCreate, "grpo_documents", fmt.Sprintf("%d", doc.ID), nil, doc)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("GRPO created", slog.Int64("grpo_id", doc.ID), slog.String("po_number", poNumber))
	return doc, nil
}

// Submit moves a draft document with at least one line to submitted.
// Only the owner may submit.
func Submit(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, grpoID int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		doc, err := loadDocumentTx(ctx, tx, grpoID)
		if err != nil {
			return err
		}
		if doc.UserID != actor.ID {
			return fault.New(fault.Authorization, "only the document owner can submit")
		}
		if doc.Status != models.GRPOStatusDraft {
			return fault.New(fault.StateConflict, "only draft GRPOs can be submitted")
		}
		lineCount, err := tx.NewSelect().Model((*models.GRPOLine)(nil)).Where("grpo_id = ?", grpoID).Count(ctx)
		if err != nil {
			return err
		}
		if lineCount == 0 {
			return fault.New(fault.Validation, "cannot submit GRPO without items")
		}

		before := *doc
		doc.Status = models.GRPOStatusSubmitted
		doc.UpdatedAt = time.Now()
		if _, err := tx.NewUpdate().Model(doc).WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOSubmit, "grpo_documents", fmt.Sprintf("%d", doc.ID), before, doc)
	})
}

// Approve records the QC sign-off and immediately attempts ERP posting.
// The approval commits first; a posting failure leaves the document
// qc_approved with the error recorded for a later retry.
func Approve(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, grpoID int64, notes string) (PostOutcome, error) {
	if !actor.CanQC() {
		return PostOutcome{}, fault.New(fault.Authorization, "QC permissions required")
	}

	err := db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		doc, err := loadDocumentTx(ctx, tx, grpoID)
		if err != nil {
			return err
		}
		if doc.Status != models.GRPOStatusSubmitted {
			return fault.New(fault.StateConflict, "only submitted GRPOs can be approved")
		}

		if _, err := tx.NewUpdate().Model((*models.GRPOLine)(nil)).
			Set("qc_status = ?", models.QCStatusApproved).
			Set("updated_at = CURRENT_TIMESTAMP").
			Where("grpo_id = ?", grpoID).
			Exec(ctx); err != nil {
			return err
		}

		before := *doc
		now := time.Now()
		doc.Status = models.GRPOStatusQCApproved
		doc.QCApproverID = &actor.ID
		doc.QCApprovedAt = &now
		doc.QCNotes = notes
		doc.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(doc).WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOApprove, "grpo_documents", fmt.Sprintf("%d", doc.ID), before, doc)
	})
	if err != nil {
		return PostOutcome{}, err
	}

	return postDocument(ctx, db, erpc, auditSvc, actor, grpoID)
}

// RetryPost re-attempts ERP posting for a document already QC-approved,
// without re-running the approval.
func RetryPost(ctx context.Context, db *sqlite.DB, erpc erp.Client, auditSvc *audit.Service, actor authz.Actor, grpoID int64) (PostOutcome, error) {
	if !actor.CanQC() {
		return PostOutcome{}, fault.New(fault.Authorization, "QC permissions required")
	}
	var status string
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewSelect().Model((*models.GRPODocument)(nil)).
			Column("status").
			Where("id = ?", grpoID).
			Scan(ctx, &status)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PostOutcome{}, fault.New(fault.NotFound, "GRPO %d not found", grpoID)
		}
		return PostOutcome{}, err
	}
	if status != models.GRPOStatusQCApproved {
		return PostOutcome{}, fault.New(fault.StateConflict, "only QC-approved GRPOs can be re-posted")
	}
	return postDocument(ctx, db, erpc, auditSvc, actor, grpoID)
}

// Reject records a QC rejection. Terminal; requires a reason.
func Reject(ctx context.Context, db *sqlite.DB, auditSvc *audit.Service, actor authz.Actor, grpoID int64, reason string) error {
	if !actor.CanQC() {
		return fault.New(fault.Authorization, "QC permissions required")
	}
	if strings.TrimSpace(reason) == "" {
		return fault.New(fault.Validation, "rejection reason is required")
	}
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		doc, err := loadDocumentTx(ctx, tx, grpoID)
		if err != nil {
			return err
		}
		if doc.Status != models.GRPOStatusSubmitted {
			return fault.New(fault.StateConflict, "only submitted GRPOs can be rejected")
		}

		if _, err := tx.NewUpdate().Model((*models.GRPOLine)(nil)).
			Set("qc_status = ?", models.QCStatusRejected).
			Set("updated_at = CURRENT_TIMESTAMP").
			Where("grpo_id = ?", grpoID).
			Exec(ctx); err != nil {
			return err
		}

		before := *doc
		now := time.Now()
		doc.Status = models.GRPOStatusRejected
		doc.QCApproverID = &actor.ID
		doc.QCApprovedAt = &now
		doc.QCNotes = reason
		doc.UpdatedAt = now
		if _, err := tx.NewUpdate().Model(doc).WherePK().Exec(ctx); err != nil {
			return err
		}
		return auditSvc.Write(ctx, tx, actor.ID, audit.ActionGRPOReject, "grpo_documents", fmt.Sprintf("%d", doc.ID), before, doc)
	})
}

// GetDocument loads a document with its lines and allocations.
func GetDocument(ctx context.Context, db *sqlite.DB, actor authz.Actor, grpoID int64) (*models.GRPODocument, error) {
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "GRPO %d not found", grpoID)
		}
		return nil, err
	}
	if !actor.CanView(doc.UserID) {
		return nil, fault.New(fault.Authorization, "you can only view your own GRPOs")
	}
	return doc, nil
}

// ListDocuments returns the actor's documents, newest first.
func ListDocuments(ctx context.Context, db *sqlite.DB, actor authz.Actor) ([]models.GRPODocument, error) {
	docs := make([]models.GRPODocument, 0)
	err := db.WithReadTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().Model(&docs).OrderExpr("created_at DESC")
		if !actor.CanManageDocuments() {
			q = q.Where("user_id = ?", actor.ID)
		}
		return q.Scan(ctx)
	})
	return docs, err
}

// oneUnit is the fixed quantity of a serial allocation.
var oneUnit = decimal.NewFromInt(1)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func loadDocumentTx(ctx context.Context, tx bun.Tx, grpoID int64) (*models.GRPODocument, error) {
	doc := new(models.GRPODocument)
	if err := tx.NewSelect().Model(doc).Where("gd.id = ?", grpoID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fault.New(fault.NotFound, "GRPO %d not found", grpoID)
		}
		return nil, err
	}
	return doc, nil
}
