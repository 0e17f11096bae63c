package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// FirmwareRepository defines the interface for firmware persistence
type FirmwareRepository interface {
	Create(ctx context.Context, fw *models.Firmware) error
	Save(ctx context.Context, fw *models.Firmware) error
	FindByID(ctx context.Context, id uint) (*models.Firmware, error)
	FindByUploadChecksum(ctx context.Context, sha256 string) (*models.Firmware, error)
	FindBySignedChecksum(ctx context.Context, checksum string) (*models.Firmware, error)
	ListAll(ctx context.Context) ([]*models.Firmware, error)
	ListUnsigned(ctx context.Context) ([]*models.Firmware, error)
	SetRemote(ctx context.Context, fw *models.Firmware, remote *models.Remote, userID uint) error
	IncrementCounter(ctx context.Context, id uint, column string) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Firmware, error)
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// firmwareRepository implements FirmwareRepository
type firmwareRepository struct {
	db *gorm.DB
}

// NewFirmwareRepository creates a new firmware repository
func NewFirmwareRepository(db *gorm.DB) FirmwareRepository {
	return &firmwareRepository{db: db}
}

func (r *firmwareRepository) preload(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Remote").
		Preload("User").
		Preload("Vendor").
		Preload("Vendor.Restrictions").
		Preload("Components").
		Preload("Components.Guids").
		Preload("Components.Requirements").
		Preload("Components.DeviceChecksums")
}

// Create persists a new firmware with its components
func (r *firmwareRepository) Create(ctx context.Context, fw *models.Firmware) error {
	if err := r.db.WithContext(ctx).Create(fw).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// Save updates an existing firmware and its associations
func (r *firmwareRepository) Save(ctx context.Context, fw *models.Firmware) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(fw).Error
}

// FindByID finds a firmware by primary key
func (r *firmwareRepository) FindByID(ctx context.Context, id uint) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.preload(r.db.WithContext(ctx)).First(&fw, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fw, nil
}

// FindByUploadChecksum finds a firmware by its upload-time SHA-256
func (r *firmwareRepository) FindByUploadChecksum(ctx context.Context, sha256 string) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.preload(r.db.WithContext(ctx)).
		Where("checksum_upload_sha256 = ?", sha256).
		First(&fw).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fw, nil
}

// FindBySignedChecksum finds a firmware by post-signing SHA-1 or SHA-256
func (r *firmwareRepository) FindBySignedChecksum(ctx context.Context, checksum string) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.preload(r.db.WithContext(ctx)).
		Where("checksum_signed_sha1 = ? OR checksum_signed_sha256 = ?", checksum, checksum).
		First(&fw).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fw, nil
}

// ListAll returns every non-deleted firmware with associations loaded
func (r *firmwareRepository) ListAll(ctx context.Context) ([]*models.Firmware, error) {
	var fws []*models.Firmware
	err := r.preload(r.db.WithContext(ctx)).Order("id").Find(&fws).Error
	if err != nil {
		return nil, err
	}
	return fws, nil
}

// ListUnsigned returns firmware the signing job still has to process
func (r *firmwareRepository) ListUnsigned(ctx context.Context) ([]*models.Firmware, error) {
	var fws []*models.Firmware
	err := r.preload(r.db.WithContext(ctx)).
		Where("signed_at IS NULL").
		Order("id").
		Find(&fws).Error
	if err != nil {
		return nil, err
	}
	return fws, nil
}

// SetRemote moves a firmware to another remote, appending an audit event
// and dirtying both the old and new remotes in one transaction
func (r *firmwareRepository) SetRemote(ctx context.Context, fw *models.Firmware, remote *models.Remote, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldRemoteID := fw.RemoteID
		if err := tx.Model(fw).Update("remote_id", remote.ID).Error; err != nil {
			return err
		}
		event := &models.FirmwareEvent{
			FirmwareID: fw.ID,
			UserID:     userID,
			RemoteID:   remote.ID,
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		ids := []uint{remote.ID}
		if oldRemoteID != 0 && oldRemoteID != remote.ID {
			ids = append(ids, oldRemoteID)
		}
		if err := tx.Model(&models.Remote{}).Where("id IN ?", ids).
			Update("is_dirty", true).Error; err != nil {
			return err
		}
		fw.RemoteID = remote.ID
		fw.Remote = remote
		return nil
	})
}

// IncrementCounter atomically bumps one of the rolling counters
func (r *firmwareRepository) IncrementCounter(ctx context.Context, id uint, column string) error {
	return r.db.WithContext(ctx).Model(&models.Firmware{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + 1")).Error
}

// ListDeletedBefore returns firmware parked on the deleted remote whose
// last change is older than the cutoff
func (r *firmwareRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Firmware, error) {
	var fws []*models.Firmware
	err := r.db.WithContext(ctx).
		Joins("JOIN remotes ON remotes.id = firmwares.remote_id").
		Where("remotes.name = ? AND firmwares.updated_at < ?", models.RemoteDeleted, cutoff).
		Order("firmwares.id").
		Find(&fws).Error
	if err != nil {
		return nil, err
	}
	return fws, nil
}

// PurgeDeletedBefore hard-deletes firmware parked on the deleted remote
// longer than the retention window, with their dependent rows
func (r *firmwareRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	fws, err := r.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(fws) == 0 {
		return 0, nil
	}
	ids := make([]uint, len(fws))
	for i, fw := range fws {
		ids[i] = fw.ID
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var componentIDs []uint
		if err := tx.Model(&models.Component{}).Where("firmware_id IN ?", ids).
			Pluck("id", &componentIDs).Error; err != nil {
			return err
		}
		if len(componentIDs) > 0 {
			for _, m := range []interface{}{&models.Guid{}, &models.Requirement{}, &models.DeviceChecksum{}} {
				if err := tx.Unscoped().Where("component_id IN ?", componentIDs).Delete(m).Error; err != nil {
					return err
				}
			}
		}
		if err := tx.Unscoped().Where("firmware_id IN ?", ids).Delete(&models.Component{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("firmware_id IN ?", ids).Delete(&models.FirmwareEvent{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("id IN ?", ids).Delete(&models.Firmware{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
