package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/appstream"
	"example.com/backstage/services/firmware/internal/cache"
	"example.com/backstage/services/firmware/internal/messaging"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/plugins"
	"example.com/backstage/services/firmware/internal/repository"
)

const remoteLockTTL = 10 * time.Minute

// PublishService regenerates metadata catalogs for dirty remotes and
// maintains the mirror manifest
type PublishService interface {
	// RegenerateDirty rebuilds every remote whose catalog is stale. A
	// failing remote is logged and skipped so the others still publish.
	RegenerateDirty(ctx context.Context) error
	// Regenerate rebuilds one remote's catalog unconditionally
	Regenerate(ctx context.Context, remote *models.Remote) error
	// UpdatePulpManifest rewrites the mirror manifest for the public
	// download tree
	UpdatePulpManifest(ctx context.Context) error
}

// publishService implements PublishService
type publishService struct {
	firmwareRepo repository.FirmwareRepository
	remoteRepo   repository.RemoteRepository
	eventRepo    repository.EventRepository
	chain        *plugins.Chain
	redis        cache.RedisClient
	bus          messaging.ServiceBusClient
	log          *logrus.Logger
	downloadDir  string
	baseURI      string
	vendorSalt   string
}

// NewPublishService creates a new publish service
func NewPublishService(
	firmwareRepo repository.FirmwareRepository,
	remoteRepo repository.RemoteRepository,
	eventRepo repository.EventRepository,
	chain *plugins.Chain,
	redis cache.RedisClient,
	bus messaging.ServiceBusClient,
	log *logrus.Logger,
	downloadDir, baseURI, vendorSalt string,
) PublishService {
	return &publishService{
		firmwareRepo: firmwareRepo,
		remoteRepo:   remoteRepo,
		eventRepo:    eventRepo,
		chain:        chain,
		redis:        redis,
		bus:          bus,
		log:          log,
		downloadDir:  downloadDir,
		baseURI:      baseURI,
		vendorSalt:   vendorSalt,
	}
}

// RegenerateDirty rebuilds stale catalogs one remote at a time
func (s *publishService) RegenerateDirty(ctx context.Context) error {
	remotes, err := s.remoteRepo.ListDirty(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dirty remotes: %w", err)
	}
	var failed int
	for _, remote := range remotes {
		if err := s.Regenerate(ctx, remote); err != nil {
			s.log.WithFields(logrus.Fields{
				"remote": remote.Name,
			}).WithError(err).Error("catalog regeneration failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dirty remotes failed to regenerate", failed, len(remotes))
	}
	return nil
}

// Regenerate rebuilds one remote's catalog. The dirty bit is cleared
// only after the file is fully written and renamed into place, so a
// failure leaves the remote queued for the next cycle.
func (s *publishService) Regenerate(ctx context.Context, remote *models.Remote) error {
	filename := remote.Filename(s.vendorSalt)
	if filename == "" {
		// private and deleted remotes publish nothing
		return s.remoteRepo.ClearDirty(ctx, remote.ID, time.Now())
	}

	lockKey := "metadata:remote:" + remote.Name
	token := uuid.NewString()
	if s.redis != nil {
		acquired, err := s.redis.AcquireLock(ctx, lockKey, token, remoteLockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire remote lock: %w", err)
		}
		if !acquired {
			s.log.WithField("remote", remote.Name).Info("remote locked by another worker, skipping")
			return nil
		}
		defer func() {
			if err := s.redis.ReleaseLock(ctx, lockKey, token); err != nil {
				s.log.WithError(err).Warn("failed to release remote lock")
			}
		}()
	}

	fws, err := s.firmwareRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list firmware: %w", err)
	}

	var eligible []*appstream.CatalogFirmware
	for _, fw := range fws {
		if !firmwareEligible(remote, fw) {
			continue
		}
		eligible = append(eligible, catalogFirmware(fw))
	}

	blob, err := appstream.GenerateCatalog(eligible, s.baseURI)
	if err != nil {
		return fmt.Errorf("failed to generate catalog: %w", err)
	}

	target := filepath.Join(s.downloadDir, filename)
	tmp := target + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move catalog into place: %w", err)
	}
	s.chain.FileModified(ctx, target)

	if err := s.remoteRepo.ClearDirty(ctx, remote.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"remote":   remote.Name,
		"filename": filename,
		"firmware": len(eligible),
	}).Info("catalog regenerated")

	if err := s.eventRepo.Append(ctx, &models.Event{
		Message: fmt.Sprintf("generated metadata for %s", remote.Name),
	}); err != nil {
		s.log.WithError(err).Warn("failed to append event")
	}
	if s.bus != nil {
		event := map[string]interface{}{
			"type":     "catalog-published",
			"remote":   remote.Name,
			"filename": filename,
		}
		if err := s.bus.SendMessage(ctx, event, remote.Name); err != nil {
			s.log.WithError(err).Warn("failed to publish catalog event")
		}
	}
	return nil
}

// firmwareEligible decides whether a firmware belongs in a remote's
// catalog: the exact remote, or a non-public remote whose vendors
// include the uploading vendor
func firmwareEligible(remote *models.Remote, fw *models.Firmware) bool {
	if fw.Remote == nil || fw.Remote.IsDeleted() || fw.Remote.Name == models.RemotePrivate {
		return false
	}
	if !fw.IsSigned() {
		return false
	}
	if fw.RemoteID == remote.ID {
		return true
	}
	if !remote.IsPublic && fw.User != nil {
		for _, vendor := range remote.Vendors {
			if vendor.ID == fw.User.VendorID {
				return true
			}
		}
	}
	return false
}

// catalogFirmware maps a persisted firmware onto the catalog model
func catalogFirmware(fw *models.Firmware) *appstream.CatalogFirmware {
	out := &appstream.CatalogFirmware{
		Filename:     fw.Filename,
		SignedSHA1:   fw.ChecksumSignedSHA1,
		SignedSHA256: fw.ChecksumSignedSHA256,
		DownloadSize: fw.DownloadSize,
	}
	if fw.Vendor != nil {
		out.VendorRestricted = !fw.Vendor.IsUnrestricted
		out.VendorIDs = fw.Vendor.VendorIDs()
	}
	for i := range fw.Components {
		out.Components = append(out.Components, catalogComponent(&fw.Components[i]))
	}
	return out
}

func catalogComponent(md *models.Component) *appstream.CatalogComponent {
	component := &appstream.Component{
		AppstreamID:     md.AppstreamID,
		Name:            md.Name,
		Summary:         md.Summary,
		Description:     md.Description,
		DeveloperName:   md.DeveloperName,
		MetadataLicense: md.MetadataLicense,
		ProjectLicense:  md.ProjectLicense,
		URLHomepage:     md.URLHomepage,
		Priority:        md.Priority,
		VersionFormat:   md.VersionFormat,
		UpdateProtocol:  md.UpdateProtocol,
		InhibitDownload: md.InhibitDownload,
		Release: appstream.Release{
			Version:          md.Version,
			Timestamp:        md.ReleaseTimestamp,
			Urgency:          md.ReleaseUrgency,
			Tag:              md.ReleaseTag,
			Description:      md.ReleaseDescription,
			DetailsURL:       md.DetailsURL,
			SourceURL:        md.SourceURL,
			FilenameContents: md.FilenameContents,
		},
	}
	if md.ReleaseIssues != "" {
		component.Release.Issues = strings.Split(md.ReleaseIssues, ",")
	}
	for _, g := range md.Guids {
		component.Guids = append(component.Guids, g.Value)
	}
	for _, r := range md.Requirements {
		component.Requirements = append(component.Requirements, appstream.Requirement{
			Kind:    r.Kind,
			Value:   r.Value,
			Compare: r.Compare,
			Version: r.Version,
			Depth:   r.Depth,
		})
	}
	for _, dc := range md.DeviceChecksums {
		component.Release.DeviceChecksums = append(component.Release.DeviceChecksums, appstream.DeviceChecksum{
			Kind:  dc.Kind,
			Value: dc.Value,
		})
	}
	return &appstream.CatalogComponent{
		Component:      component,
		ContentsSHA1:   md.ChecksumContentsSHA1,
		ContentsSHA256: md.ChecksumContentsSHA256,
		InstalledSize:  md.InstalledSize,
	}
}

// UpdatePulpManifest rewrites PULP_MANIFEST with the stable catalog,
// its signature and every firmware on a public remote
func (s *publishService) UpdatePulpManifest(ctx context.Context) error {
	var b strings.Builder
	for _, basename := range []string{"firmware.xml.gz", "firmware.xml.gz.asc"} {
		fn := filepath.Join(s.downloadDir, basename)
		buf, err := os.ReadFile(fn)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", basename, err)
		}
		sum := sha256.Sum256(buf)
		fmt.Fprintf(&b, "%s,%s,%d\n", basename, hex.EncodeToString(sum[:]), len(buf))
	}

	fws, err := s.firmwareRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list firmware: %w", err)
	}
	for _, fw := range fws {
		if fw.Remote == nil || !fw.Remote.IsPublic {
			continue
		}
		fmt.Fprintf(&b, "%s,%s,%d\n", fw.Filename, fw.ChecksumSignedSHA256, fw.DownloadSize)
	}

	target := filepath.Join(s.downloadDir, "PULP_MANIFEST")
	tmp := target + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	s.log.WithField("firmware", len(fws)).Info("mirror manifest updated")
	return nil
}
