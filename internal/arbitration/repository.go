package arbitration

import (
	"context"

	"gorm.io/gorm"

	"github.com/haldirect/settlement-backend/pkg/db/models"
)

// DecisionRepository persists admin verdicts.
type DecisionRepository interface {
	WithTx(tx *gorm.DB) DecisionRepository
	Create(ctx context.Context, decision *models.AdminDecision) (*models.AdminDecision, error)
}

type decisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository builds the gorm-backed decision store.
func NewDecisionRepository(db *gorm.DB) DecisionRepository {
	return &decisionRepository{db: db}
}

func (r *decisionRepository) WithTx(tx *gorm.DB) DecisionRepository {
	if tx == nil {
		return r
	}
	return &decisionRepository{db: tx}
}

func (r *decisionRepository) Create(ctx context.Context, decision *models.AdminDecision) (*models.AdminDecision, error) {
	if err := r.db.WithContext(ctx).Create(decision).Error; err != nil {
		return nil, err
	}
	return decision, nil
}
