package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
)

// reports older than this window no longer influence the counters
const rollupWindow = 26 * 7 * 24 * time.Hour

// Lifecycle rejection errors
var (
	ErrInvalidTarget  = errors.New("firmware can only move to its embargo remote, testing or stable")
	ErrNotDeleted     = errors.New("firmware is not deleted")
	ErrAlreadyDeleted = errors.New("firmware is already deleted")
)

// FirmwareService manages the firmware lifecycle between remotes and
// runs the periodic report-rollup and purge jobs
type FirmwareService interface {
	Get(ctx context.Context, id uint) (*models.Firmware, error)
	List(ctx context.Context) ([]*models.Firmware, error)
	Promote(ctx context.Context, id uint, target string, user *models.User) (*models.Firmware, error)
	Delete(ctx context.Context, id uint, user *models.User) error
	Undelete(ctx context.Context, id uint, user *models.User) error
	// RollupReports recomputes the report counters from recent reports
	// and demotes stable firmware with a high failure rate
	RollupReports(ctx context.Context) error
	// PurgeDeleted removes firmware left on the deleted remote longer
	// than the retention window, including the stored archives
	PurgeDeleted(ctx context.Context) error
}

// firmwareService implements FirmwareService
type firmwareService struct {
	firmwareRepo      repository.FirmwareRepository
	remoteRepo        repository.RemoteRepository
	vendorRepo        repository.VendorRepository
	reportRepo        repository.ReportRepository
	eventRepo         repository.EventRepository
	log               *logrus.Logger
	downloadDir       string
	demotionThreshold float64
	demotionMin       int64
	purgeRetention    time.Duration
}

// NewFirmwareService creates a new firmware lifecycle service
func NewFirmwareService(
	firmwareRepo repository.FirmwareRepository,
	remoteRepo repository.RemoteRepository,
	vendorRepo repository.VendorRepository,
	reportRepo repository.ReportRepository,
	eventRepo repository.EventRepository,
	log *logrus.Logger,
	downloadDir string,
	demotionThreshold float64,
	demotionMin int64,
	purgeRetention time.Duration,
) FirmwareService {
	return &firmwareService{
		firmwareRepo:      firmwareRepo,
		remoteRepo:        remoteRepo,
		vendorRepo:        vendorRepo,
		reportRepo:        reportRepo,
		eventRepo:         eventRepo,
		log:               log,
		downloadDir:       downloadDir,
		demotionThreshold: demotionThreshold,
		demotionMin:       demotionMin,
		purgeRetention:    purgeRetention,
	}
}

// Get finds a firmware with associations loaded
func (s *firmwareService) Get(ctx context.Context, id uint) (*models.Firmware, error) {
	return s.firmwareRepo.FindByID(ctx, id)
}

// List returns every firmware
func (s *firmwareService) List(ctx context.Context) ([]*models.Firmware, error) {
	return s.firmwareRepo.ListAll(ctx)
}

// Promote moves a firmware along its publication path. The only valid
// destinations are the owning vendor's embargo remote, testing and
// stable.
func (s *firmwareService) Promote(ctx context.Context, id uint, target string, user *models.User) (*models.Firmware, error) {
	fw, err := s.firmwareRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if fw.Remote != nil && fw.Remote.IsDeleted() {
		return nil, ErrAlreadyDeleted
	}
	vendor, err := s.vendorRepo.FindByID(ctx, fw.VendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vendor: %w", err)
	}
	switch target {
	case models.RemoteTesting, models.RemoteStable, models.EmbargoRemoteName(vendor.GroupID):
	default:
		return nil, ErrInvalidTarget
	}
	remote, err := s.remoteRepo.FindByName(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote: %w", err)
	}
	if err := s.firmwareRepo.SetRemote(ctx, fw, remote, user.ID); err != nil {
		return nil, fmt.Errorf("failed to move firmware: %w", err)
	}
	s.logMove(ctx, fw, remote, user.ID)
	return fw, nil
}

// Delete parks a firmware on the deleted remote
func (s *firmwareService) Delete(ctx context.Context, id uint, user *models.User) error {
	fw, err := s.firmwareRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if fw.Remote != nil && fw.Remote.IsDeleted() {
		return ErrAlreadyDeleted
	}
	remote, err := s.remoteRepo.FindByName(ctx, models.RemoteDeleted)
	if err != nil {
		return fmt.Errorf("failed to load remote: %w", err)
	}
	if err := s.firmwareRepo.SetRemote(ctx, fw, remote, user.ID); err != nil {
		return fmt.Errorf("failed to move firmware: %w", err)
	}
	s.logMove(ctx, fw, remote, user.ID)
	return nil
}

// Undelete moves a deleted firmware back to its vendor's embargo remote
func (s *firmwareService) Undelete(ctx context.Context, id uint, user *models.User) error {
	fw, err := s.firmwareRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if fw.Remote == nil || !fw.Remote.IsDeleted() {
		return ErrNotDeleted
	}
	vendor, err := s.vendorRepo.FindByID(ctx, fw.VendorID)
	if err != nil {
		return fmt.Errorf("failed to load vendor: %w", err)
	}
	remote, err := s.remoteRepo.FindByName(ctx, models.EmbargoRemoteName(vendor.GroupID))
	if err != nil {
		return fmt.Errorf("failed to load remote: %w", err)
	}
	if err := s.firmwareRepo.SetRemote(ctx, fw, remote, user.ID); err != nil {
		return fmt.Errorf("failed to move firmware: %w", err)
	}
	s.logMove(ctx, fw, remote, user.ID)
	return nil
}

func (s *firmwareService) logMove(ctx context.Context, fw *models.Firmware, remote *models.Remote, userID uint) {
	s.log.WithFields(logrus.Fields{
		"firmware_id": fw.ID,
		"remote":      remote.Name,
	}).Info("firmware moved")
	if err := s.eventRepo.Append(ctx, &models.Event{
		UserID:   userID,
		VendorID: fw.VendorID,
		Message:  fmt.Sprintf("moved firmware %s to %s", fw.ChecksumUploadSHA1, remote.Name),
	}); err != nil {
		s.log.WithError(err).Warn("failed to append event")
	}
}

// RollupReports recomputes per-firmware report counters over the recent
// window. A stable firmware whose failure rate crosses the configured
// threshold is demoted back to testing.
func (s *firmwareService) RollupReports(ctx context.Context) error {
	fws, err := s.firmwareRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list firmware: %w", err)
	}
	since := time.Now().Add(-rollupWindow)
	var failed int
	for _, fw := range fws {
		if fw.Remote != nil && fw.Remote.IsDeleted() {
			continue
		}
		if err := s.rollupFirmware(ctx, fw, since); err != nil {
			s.log.WithFields(logrus.Fields{
				"firmware_id": fw.ID,
			}).WithError(err).Error("report rollup failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d firmware failed to roll up", failed, len(fws))
	}
	return nil
}

func (s *firmwareService) rollupFirmware(ctx context.Context, fw *models.Firmware, since time.Time) error {
	success, err := s.reportRepo.CountForFirmwareSince(ctx, fw.ID, models.UpdateStateSuccess, since, false)
	if err != nil {
		return fmt.Errorf("failed to count success reports: %w", err)
	}
	failure, err := s.reportRepo.CountForFirmwareSince(ctx, fw.ID, models.UpdateStateFailed, since, false)
	if err != nil {
		return fmt.Errorf("failed to count failure reports: %w", err)
	}
	issue, err := s.reportRepo.CountForFirmwareSince(ctx, fw.ID, models.UpdateStateFailed, since, true)
	if err != nil {
		return fmt.Errorf("failed to count issue reports: %w", err)
	}

	fw.ReportSuccessCnt = uint(success)
	fw.ReportFailureCnt = uint(failure)
	fw.ReportIssueCnt = uint(issue)
	if err := s.firmwareRepo.Save(ctx, fw); err != nil {
		return fmt.Errorf("failed to persist counters: %w", err)
	}

	if fw.Remote == nil || fw.Remote.Name != models.RemoteStable {
		return nil
	}
	if failure < s.demotionMin {
		return nil
	}
	rate := float64(failure) / float64(success+failure)
	if rate < s.demotionThreshold {
		return nil
	}

	remote, err := s.remoteRepo.FindByName(ctx, models.RemoteTesting)
	if err != nil {
		return fmt.Errorf("failed to load testing remote: %w", err)
	}
	if err := s.firmwareRepo.SetRemote(ctx, fw, remote, 0); err != nil {
		return fmt.Errorf("failed to demote firmware: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"firmware_id":  fw.ID,
		"failure_rate": rate,
	}).Warn("firmware demoted to testing")
	if err := s.eventRepo.Append(ctx, &models.Event{
		VendorID:    fw.VendorID,
		Message:     fmt.Sprintf("demoted firmware %s with failure rate %.0f%%", fw.ChecksumUploadSHA1, rate*100),
		IsImportant: true,
	}); err != nil {
		s.log.WithError(err).Warn("failed to append event")
	}
	return nil
}

// PurgeDeleted removes long-deleted firmware rows and their archives
func (s *firmwareService) PurgeDeleted(ctx context.Context) error {
	cutoff := time.Now().Add(-s.purgeRetention)
	fws, err := s.firmwareRepo.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list deleted firmware: %w", err)
	}
	for _, fw := range fws {
		path := filepath.Join(s.downloadDir, fw.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove archive %s: %w", fw.Filename, err)
		}
	}
	purged, err := s.firmwareRepo.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge firmware rows: %w", err)
	}
	if purged > 0 {
		s.log.WithField("purged", purged).Info("purged deleted firmware")
	}
	return nil
}
