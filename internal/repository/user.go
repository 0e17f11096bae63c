package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// UserRepository defines the interface for user and credential lookups
type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	// FindCertificateBySerial resolves a report-signing certificate with
	// its owning user
	FindCertificateBySerial(ctx context.Context, serial string) (*models.UserCertificate, error)
	// FindAPIKey resolves an API key and records its use
	FindAPIKey(ctx context.Context, key string) (*models.APIKey, error)
}

// userRepository implements UserRepository
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// FindByID finds a user by primary key
func (r *userRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByUsername finds a user by username
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindCertificateBySerial finds a registered client certificate
func (r *userRepository) FindCertificateBySerial(ctx context.Context, serial string) (*models.UserCertificate, error) {
	var cert models.UserCertificate
	err := r.db.WithContext(ctx).Preload("User").
		Where("serial = ?", serial).
		First(&cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cert, nil
}

// FindAPIKey finds an unexpired API key and bumps its last-used time
func (r *userRepository) FindAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if apiKey.ExpiresAt != nil && apiKey.ExpiresAt.Before(time.Now()) {
		return nil, ErrNotFound
	}
	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&apiKey).
		Update("last_used_at", now).Error; err != nil {
		return nil, err
	}
	apiKey.LastUsedAt = &now
	return &apiKey, nil
}
