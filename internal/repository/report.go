package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// ReportRepository defines the interface for telemetry report persistence
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	FindByChecksumAndMachine(ctx context.Context, checksum, machineID string) (*models.Report, error)
	// Replace updates an existing report in place, discarding its old
	// attributes
	Replace(ctx context.Context, report *models.Report, state models.UpdateState,
		issueID *uint, attrs []models.ReportAttribute) error
	CountForFirmware(ctx context.Context, firmwareID uint, state models.UpdateState) (int64, error)
	// CountForFirmwareSince counts reports in a state newer than a cutoff,
	// split by whether they matched a known issue
	CountForFirmwareSince(ctx context.Context, firmwareID uint, state models.UpdateState,
		since time.Time, withIssue bool) (int64, error)
}

// reportRepository implements ReportRepository
type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

// Create creates a new report with its attributes
func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// FindByChecksumAndMachine finds the live report for a checksum/machine pair
func (r *reportRepository) FindByChecksumAndMachine(ctx context.Context, checksum, machineID string) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).
		Where("checksum = ? AND machine_id = ?", checksum, machineID).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &report, nil
}

// Replace swaps a resubmitted report's state and attributes in place
func (r *reportRepository) Replace(ctx context.Context, report *models.Report,
	state models.UpdateState, issueID *uint, attrs []models.ReportAttribute) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", report.ID).
			Delete(&models.ReportAttribute{}).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"state": state, "issue_id": issueID}
		if err := tx.Model(report).Updates(updates).Error; err != nil {
			return err
		}
		for i := range attrs {
			attrs[i].ReportID = report.ID
		}
		if len(attrs) > 0 {
			if err := tx.Create(&attrs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountForFirmware counts live reports for a firmware in a given state
func (r *reportRepository) CountForFirmware(ctx context.Context, firmwareID uint, state models.UpdateState) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("firmware_id = ? AND state = ?", firmwareID, state).
		Count(&count).Error
	return count, err
}

// CountForFirmwareSince counts recent reports for the rollup job
func (r *reportRepository) CountForFirmwareSince(ctx context.Context, firmwareID uint,
	state models.UpdateState, since time.Time, withIssue bool) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("firmware_id = ? AND state = ? AND timestamp > ?", firmwareID, state, since.Unix())
	if withIssue {
		q = q.Where("issue_id IS NOT NULL")
	} else {
		q = q.Where("issue_id IS NULL")
	}
	err := q.Count(&count).Error
	return count, err
}
