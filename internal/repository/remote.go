package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// RemoteRepository defines the interface for remote persistence
type RemoteRepository interface {
	Create(ctx context.Context, remote *models.Remote) error
	FindByID(ctx context.Context, id uint) (*models.Remote, error)
	FindByName(ctx context.Context, name string) (*models.Remote, error)
	ListAll(ctx context.Context) ([]*models.Remote, error)
	ListDirty(ctx context.Context) ([]*models.Remote, error)
	MarkDirty(ctx context.Context, id uint) error
	ClearDirty(ctx context.Context, id uint, builtAt time.Time) error
}

// remoteRepository implements RemoteRepository
type remoteRepository struct {
	db *gorm.DB
}

// NewRemoteRepository creates a new remote repository
func NewRemoteRepository(db *gorm.DB) RemoteRepository {
	return &remoteRepository{db: db}
}

// Create creates a new remote
func (r *remoteRepository) Create(ctx context.Context, remote *models.Remote) error {
	return r.db.WithContext(ctx).Create(remote).Error
}

// FindByID finds a remote by primary key
func (r *remoteRepository) FindByID(ctx context.Context, id uint) (*models.Remote, error) {
	var remote models.Remote
	err := r.db.WithContext(ctx).Preload("Vendors").First(&remote, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &remote, nil
}

// FindByName finds a remote by name
func (r *remoteRepository) FindByName(ctx context.Context, name string) (*models.Remote, error) {
	var remote models.Remote
	err := r.db.WithContext(ctx).Preload("Vendors").Where("name = ?", name).First(&remote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &remote, nil
}

// ListAll returns every remote
func (r *remoteRepository) ListAll(ctx context.Context) ([]*models.Remote, error) {
	var remotes []*models.Remote
	err := r.db.WithContext(ctx).Preload("Vendors").Order("id").Find(&remotes).Error
	if err != nil {
		return nil, err
	}
	return remotes, nil
}

// ListDirty returns the remotes whose catalogs are stale
func (r *remoteRepository) ListDirty(ctx context.Context) ([]*models.Remote, error) {
	var remotes []*models.Remote
	err := r.db.WithContext(ctx).Preload("Vendors").
		Where("is_dirty = ?", true).
		Order("id").
		Find(&remotes).Error
	if err != nil {
		return nil, err
	}
	return remotes, nil
}

// MarkDirty flags a remote's catalog as stale
func (r *remoteRepository) MarkDirty(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Remote{}).
		Where("id = ?", id).
		Update("is_dirty", true).Error
}

// ClearDirty clears the dirty bit after a successful regeneration
func (r *remoteRepository) ClearDirty(ctx context.Context, id uint, builtAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Remote{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_dirty": false, "built_at": builtAt}).Error
}

// SeedStaticRemotes provisions the built-in remotes a deployment needs
// before any firmware can move through its lifecycle. Existing remotes
// are left untouched, so this is safe to run on every migration.
func SeedStaticRemotes(ctx context.Context, repo RemoteRepository) error {
	for _, name := range []string{
		models.RemotePrivate,
		models.RemoteTesting,
		models.RemoteStable,
		models.RemoteDeleted,
	} {
		_, err := repo.FindByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		remote := &models.Remote{
			Name:     name,
			IsPublic: name == models.RemoteStable || name == models.RemoteTesting,
		}
		if err := repo.Create(ctx, remote); err != nil {
			return err
		}
	}
	return nil
}
