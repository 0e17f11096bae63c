package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// EventRepository defines the interface for the operator event log
type EventRepository interface {
	Append(ctx context.Context, event *models.Event) error
	ListRecent(ctx context.Context, limit int) ([]*models.Event, error)
	ListForVendor(ctx context.Context, vendorID uint, limit int) ([]*models.Event, error)
}

// eventRepository implements EventRepository
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Append records an event
func (r *eventRepository) Append(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListRecent returns the newest events first
func (r *eventRepository) ListRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListForVendor returns the newest events for one vendor
func (r *eventRepository) ListForVendor(ctx context.Context, vendorID uint, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
