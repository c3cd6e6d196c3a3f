package audit

import (
	"context"
	"encoding/json"

	"github.com/uptrace/bun"

	"grndock/models"
)

// Actions recorded against receipt documents and batches.
const (
	ActionGRPOCreate     = "grpo.create"
	ActionGRPOSubmit     = "grpo.submit"
	ActionGRPOApprove    = "grpo.approve"
	ActionGRPOReject     = "grpo.reject"
	ActionGRPOPost       = "grpo.post"
	ActionGRPOLineAdd    = "grpo.line.add"
	ActionGRPOLineDelete = "grpo.line.delete"

	ActionGRPOSerialAdd    = "grpo.serial.add"
	ActionGRPOSerialDelete = "grpo.serial.delete"
	ActionGRPOBatchAdd     = "grpo.batch.add"
	ActionGRPOBatchDelete  = "grpo.batch.delete"

	ActionBatchCreate          = "multigrn.batch.create"
	ActionBatchAttachPOs       = "multigrn.batch.attach_pos"
	ActionBatchSelectLines     = "multigrn.batch.select_lines"
	ActionBatchManualItem      = "multigrn.batch.manual_item"
	ActionBatchSetAllocations  = "multigrn.batch.set_allocations"
	ActionBatchRemoveSelection = "multigrn.batch.remove_selection"
	ActionBatchPost            = "multigrn.batch.post"
)

// Service writes audit records inside the caller transaction.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Write stores one before/after snapshot for an entity mutation. A nil
// service is a no-op so call sites stay unconditional.
func (s *Service) Write(ctx context.Context, tx bun.Tx, userID int64, action, entityType, entityID string, before, after any) error {
	if s == nil {
		return nil
	}
	beforeJSON, err := marshal(before)
	if err != nil {
		return err
	}
	afterJSON, err := marshal(after)
	if err != nil {
		return err
	}
	log := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		BeforeJSON: beforeJSON,
		AfterJSON:  afterJSON,
	}
	_, err = tx.NewInsert().Model(log).Exec(ctx)
	return err
}

func marshal(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
