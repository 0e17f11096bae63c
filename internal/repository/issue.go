package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// IssueRepository defines the interface for issue persistence
type IssueRepository interface {
	Create(ctx context.Context, issue *models.Issue) error
	FindByID(ctx context.Context, id uint) (*models.Issue, error)
	// ListEnabled returns enabled issues ordered by priority descending;
	// equal priorities order by issue ID so evaluation is deterministic
	ListEnabled(ctx context.Context) ([]*models.Issue, error)
	SetEnabled(ctx context.Context, issue *models.Issue, enabled bool) error
	AddCondition(ctx context.Context, issue *models.Issue, condition *models.Condition) error
	DeleteCondition(ctx context.Context, issue *models.Issue, conditionID uint) error
	Delete(ctx context.Context, id uint) error
}

// issueRepository implements IssueRepository
type issueRepository struct {
	db *gorm.DB
}

// NewIssueRepository creates a new issue repository
func NewIssueRepository(db *gorm.DB) IssueRepository {
	return &issueRepository{db: db}
}

// Create creates a new issue; issues always start disabled
func (r *issueRepository) Create(ctx context.Context, issue *models.Issue) error {
	issue.Enabled = false
	return r.db.WithContext(ctx).Create(issue).Error
}

// FindByID finds an issue with its conditions
func (r *issueRepository) FindByID(ctx context.Context, id uint) (*models.Issue, error) {
	var issue models.Issue
	err := r.db.WithContext(ctx).Preload("Conditions").First(&issue, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &issue, nil
}

// ListEnabled returns enabled issues in evaluation order
func (r *issueRepository) ListEnabled(ctx context.Context) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := r.db.WithContext(ctx).Preload("Conditions").
		Where("enabled = ?", true).
		Order("priority DESC, id ASC").
		Find(&issues).Error
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// SetEnabled toggles an issue; enabling an issue with no conditions is
// rejected and the issue stays disabled
func (r *issueRepository) SetEnabled(ctx context.Context, issue *models.Issue, enabled bool) error {
	if enabled && len(issue.Conditions) == 0 {
		return ErrNoConditions
	}
	if err := r.db.WithContext(ctx).Model(issue).Update("enabled", enabled).Error; err != nil {
		return err
	}
	issue.Enabled = enabled
	return nil
}

// AddCondition appends a condition to an issue
func (r *issueRepository) AddCondition(ctx context.Context, issue *models.Issue, condition *models.Condition) error {
	condition.IssueID = issue.ID
	if err := r.db.WithContext(ctx).Create(condition).Error; err != nil {
		return err
	}
	issue.Conditions = append(issue.Conditions, *condition)
	return nil
}

// DeleteCondition removes a condition; an issue left with no conditions
// is disabled
func (r *issueRepository) DeleteCondition(ctx context.Context, issue *models.Issue, conditionID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND issue_id = ?", conditionID, issue.ID).
			Delete(&models.Condition{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		kept := issue.Conditions[:0]
		for _, c := range issue.Conditions {
			if c.ID != conditionID {
				kept = append(kept, c)
			}
		}
		issue.Conditions = kept
		if len(issue.Conditions) == 0 && issue.Enabled {
			if err := tx.Model(issue).Update("enabled", false).Error; err != nil {
				return err
			}
			issue.Enabled = false
		}
		return nil
	})
}

// Delete removes an issue and its conditions
func (r *issueRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("issue_id = ?", id).Delete(&models.Condition{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Issue{}, id).Error
	})
}
