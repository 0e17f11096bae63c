package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/backstage/services/firmware/internal/models"
)

// VendorRepository defines the interface for vendor persistence
type VendorRepository interface {
	// Create provisions a vendor together with its embargo remote
	Create(ctx context.Context, vendor *models.Vendor) error
	FindByID(ctx context.Context, id uint) (*models.Vendor, error)
	FindByGroupID(ctx context.Context, groupID string) (*models.Vendor, error)
	// ODMVendorIDs returns the vendors allowed to see a remote's
	// embargoed firmware via affiliations
	ODMVendorIDs(ctx context.Context, vendorID uint) ([]uint, error)
}

// vendorRepository implements VendorRepository
type vendorRepository struct {
	db *gorm.DB
}

// NewVendorRepository creates a new vendor repository
func NewVendorRepository(db *gorm.DB) VendorRepository {
	return &vendorRepository{db: db}
}

// Create provisions the vendor and its embargo remote in one transaction
func (r *vendorRepository) Create(ctx context.Context, vendor *models.Vendor) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remote := &models.Remote{Name: models.EmbargoRemoteName(vendor.GroupID)}
		if err := tx.Create(remote).Error; err != nil {
			return err
		}
		vendor.RemoteID = remote.ID
		vendor.Remote = remote
		return tx.Create(vendor).Error
	})
}

// FindByID finds a vendor with restrictions and affiliations loaded
func (r *vendorRepository) FindByID(ctx context.Context, id uint) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).
		Preload("Remote").
		Preload("Restrictions").
		Preload("Affiliations").
		First(&vendor, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// FindByGroupID finds a vendor by its group identifier
func (r *vendorRepository) FindByGroupID(ctx context.Context, groupID string) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).
		Preload("Remote").
		Preload("Restrictions").
		Preload("Affiliations").
		Where("group_id = ?", groupID).
		First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// ODMVendorIDs walks the affiliation graph one level: the ODM vendors
// permitted to upload on behalf of the given OEM vendor
func (r *vendorRepository) ODMVendorIDs(ctx context.Context, vendorID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Affiliation{}).
		Where("vendor_id = ?", vendorID).
		Pluck("vendor_odm_id", &ids).Error
	return ids, err
}
