package service

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/messaging"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/plugins"
	"example.com/backstage/services/firmware/internal/repository"
)

// SigningService signs pending firmware archives
type SigningService interface {
	// SignPending processes every unsigned firmware. One failing
	// firmware is skipped and retried next cycle.
	SignPending(ctx context.Context) error
	// SignFirmware signs one firmware archive
	SignFirmware(ctx context.Context, fw *models.Firmware) error
}

// signingService implements SigningService
type signingService struct {
	firmwareRepo repository.FirmwareRepository
	remoteRepo   repository.RemoteRepository
	eventRepo    repository.EventRepository
	chain        *plugins.Chain
	bus          messaging.ServiceBusClient
	log          *logrus.Logger
	downloadDir  string
}

// NewSigningService creates a new signing service
func NewSigningService(
	firmwareRepo repository.FirmwareRepository,
	remoteRepo repository.RemoteRepository,
	eventRepo repository.EventRepository,
	chain *plugins.Chain,
	bus messaging.ServiceBusClient,
	log *logrus.Logger,
	downloadDir string,
) SigningService {
	return &signingService{
		firmwareRepo: firmwareRepo,
		remoteRepo:   remoteRepo,
		eventRepo:    eventRepo,
		chain:        chain,
		bus:          bus,
		log:          log,
		downloadDir:  downloadDir,
	}
}

// SignPending signs every firmware the signing job has not processed
func (s *signingService) SignPending(ctx context.Context) error {
	fws, err := s.firmwareRepo.ListUnsigned(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unsigned firmware: %w", err)
	}
	var failed int
	for _, fw := range fws {
		if fw.Remote != nil && fw.Remote.IsDeleted() {
			continue
		}
		if err := s.SignFirmware(ctx, fw); err != nil {
			s.log.WithFields(logrus.Fields{
				"firmware_id": fw.ID,
				"filename":    fw.Filename,
			}).WithError(err).Error("firmware signing failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d firmware failed to sign", failed, len(fws))
	}
	return nil
}

// SignFirmware unpacks the stored archive, runs the signer plugins and
// stores the post-signing state. Signature members already present are
// left alone, so an interrupted run is safe to repeat.
func (s *signingService) SignFirmware(ctx context.Context, fw *models.Firmware) error {
	path := filepath.Join(s.downloadDir, fw.Filename)
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	arc, err := cabarchive.Parse(buf, true)
	if err != nil {
		return fmt.Errorf("failed to parse archive: %w", err)
	}

	if _, err := s.chain.SignArchive(ctx, arc); err != nil {
		return fmt.Errorf("failed to sign archive: %w", err)
	}

	signed, err := arc.Save()
	if err != nil {
		return fmt.Errorf("failed to repack archive: %w", err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, signed, 0644); err != nil {
		return fmt.Errorf("failed to write signed archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move signed archive into place: %w", err)
	}

	sum1 := sha1.Sum(signed)
	sum256 := sha256.Sum256(signed)
	now := time.Now()
	fw.ChecksumSignedSHA1 = hex.EncodeToString(sum1[:])
	fw.ChecksumSignedSHA256 = hex.EncodeToString(sum256[:])
	fw.SignedAt = &now
	fw.DownloadSize = int64(len(signed))
	if err := s.firmwareRepo.Save(ctx, fw); err != nil {
		return fmt.Errorf("failed to persist signing state: %w", err)
	}

	// the firmware is only now eligible for its remote's catalog
	if err := s.remoteRepo.MarkDirty(ctx, fw.RemoteID); err != nil {
		return fmt.Errorf("failed to mark remote dirty: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"firmware_id": fw.ID,
		"filename":    fw.Filename,
	}).Info("firmware signed")

	if err := s.eventRepo.Append(ctx, &models.Event{
		UserID:   fw.UserID,
		VendorID: fw.VendorID,
		Message:  fmt.Sprintf("signed firmware %s", fw.ChecksumUploadSHA1),
	}); err != nil {
		s.log.WithError(err).Warn("failed to append event")
	}
	if s.bus != nil {
		event := map[string]interface{}{
			"type":        "firmware-signed",
			"firmware_id": fw.ID,
			"sha256":      fw.ChecksumSignedSHA256,
		}
		if err := s.bus.SendMessage(ctx, event, fw.Filename); err != nil {
			s.log.WithError(err).Warn("failed to publish signing event")
		}
	}
	return nil
}
