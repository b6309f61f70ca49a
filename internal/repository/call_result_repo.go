package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

type callResultRepo struct {
	db *gorm.DB
}

func NewCallResultRepo(db *gorm.DB) CallResultRepository {
	return &callResultRepo{db: db}
}

// Upsert writes the outcome for a call; a repeat report for the same call
// id overwrites in place rather than erroring, matching the idempotent
// reportCallResult contract.
func (r *callResultRepo) Upsert(ctx context.Context, result *domain.CallResultLog) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"outcome", "details", "order_id", "purpose"}),
		}).
		Create(result).Error
}

func (r *callResultRepo) GetByCallID(ctx context.Context, callID string) (*domain.CallResultLog, error) {
	var result domain.CallResultLog
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
