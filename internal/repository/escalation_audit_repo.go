package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

type escalationAuditRepo struct {
	db *gorm.DB
}

func NewEscalationAuditRepo(db *gorm.DB) EscalationAuditRepository {
	return &escalationAuditRepo{db: db}
}

func (r *escalationAuditRepo) Record(ctx context.Context, audit *domain.EscalationAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *escalationAuditRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.EscalationAudit, error) {
	var audits []domain.EscalationAudit
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&audits).Error
	return audits, err
}

func (r *escalationAuditRepo) ListByEscalation(ctx context.Context, escalationID string) ([]domain.EscalationAudit, error) {
	var audits []domain.EscalationAudit
	err := r.db.WithContext(ctx).
		Where("escalation_id = ?", escalationID).
		Order("created_at ASC").
		Find(&audits).Error
	return audits, err
}
