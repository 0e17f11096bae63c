package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/appstream"
	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/plugins"
	"example.com/backstage/services/firmware/internal/repository"
)

const (
	uploadSizeMin = 1024
	uploadSizeMax = 104857600
)

// Upload rejection errors. These surface verbatim in API responses so
// vendors can fix the archive.
var (
	ErrFileTooSmall = errors.New("file too small, minimum is 1k")
	ErrFileTooLarge = errors.New("file too large, limit is 100Mb")
	ErrDuplicate    = errors.New("a firmware file with this checksum already exists")
)

// FileNotSupportedError is returned when the upload is not a readable
// cabinet or zip archive
type FileNotSupportedError struct {
	Reason string
}

func (e *FileNotSupportedError) Error() string {
	return "invalid file type: " + e.Reason
}

// UploadService validates a vendor upload and persists the resulting
// firmware record
type UploadService interface {
	ProcessUpload(ctx context.Context, filename string, data []byte, user *models.User, vendor *models.Vendor) (*models.Firmware, error)
}

// uploadService implements UploadService
type uploadService struct {
	firmwareRepo repository.FirmwareRepository
	eventRepo    repository.EventRepository
	chain        *plugins.Chain
	log          *logrus.Logger
	downloadDir  string
}

// NewUploadService creates a new upload service
func NewUploadService(
	firmwareRepo repository.FirmwareRepository,
	eventRepo repository.EventRepository,
	chain *plugins.Chain,
	log *logrus.Logger,
	downloadDir string,
) (UploadService, error) {
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &uploadService{
		firmwareRepo: firmwareRepo,
		eventRepo:    eventRepo,
		chain:        chain,
		log:          log,
		downloadDir:  downloadDir,
	}, nil
}

// ProcessUpload runs the full validation pipeline: size checks, archive
// parse, descriptor validation, cross checks, content tests, then
// repacks descriptors and payloads only and persists the firmware.
func (s *uploadService) ProcessUpload(ctx context.Context, filename string, data []byte, user *models.User, vendor *models.Vendor) (*models.Firmware, error) {
	if len(data) > uploadSizeMax {
		return nil, ErrFileTooLarge
	}
	if len(data) < uploadSizeMin {
		return nil, ErrFileTooSmall
	}

	sum1 := sha1.Sum(data)
	sum256 := sha256.Sum256(data)

	fw := &models.Firmware{
		ChecksumUploadSHA1:   hex.EncodeToString(sum1[:]),
		ChecksumUploadSHA256: hex.EncodeToString(sum256[:]),
		VendorID:             vendor.ID,
		UserID:               user.ID,
		RemoteID:             vendor.RemoteID,
		DoNotTrack:           vendor.DoNotTrack,
		DownloadSize:         int64(len(data)),
	}
	fw.Filename = fw.ChecksumUploadSHA256 + "-" + strings.ReplaceAll(filepath.Base(filename), ".zip", ".cab")

	arc, err := parseUploadArchive(filename, data)
	if err != nil {
		return nil, err
	}

	// legacy inf driver archives are rejected, never silently repacked
	if inf := arc.Find("*.inf"); len(inf) > 0 {
		return nil, &FileNotSupportedError{
			Reason: fmt.Sprintf("%s is an inf driver file, which is no longer supported", inf[0].Name),
		}
	}

	descriptors := arc.Find("*.metainfo.xml")
	if len(descriptors) == 0 {
		return nil, &appstream.ErrInvalid{Reason: "The firmware file had no .metainfo.xml files"}
	}

	repacked := cabarchive.New()
	for _, cabfile := range descriptors {
		md, err := appstream.ParseComponent(cabfile.Buf)
		if err != nil {
			return nil, err
		}
		repacked.Add(cabfile)

		payload := arc.Get(md.Release.FilenameContents)
		if payload == nil {
			return nil, &appstream.ErrInvalid{Reason: fmt.Sprintf("No %s found in the archive", md.Release.FilenameContents)}
		}
		repacked.Add(payload)

		if err := checkDescriptionReferences(md.Release.Description, arc); err != nil {
			return nil, err
		}

		component := componentModel(md, cabfile.Name)
		contents1 := sha1.Sum(payload.Buf)
		contents256 := sha256.Sum256(payload.Buf)
		component.ChecksumContentsSHA1 = hex.EncodeToString(contents1[:])
		component.ChecksumContentsSHA256 = hex.EncodeToString(contents256[:])
		component.InstalledSize = int64(len(payload.Buf))
		fw.Components = append(fw.Components, *component)
	}

	if err := s.chain.RunTests(ctx, fw, arc); err != nil {
		return nil, &appstream.ErrInvalid{Reason: err.Error()}
	}

	buf, err := repacked.Save()
	if err != nil {
		return nil, fmt.Errorf("failed to repack archive: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.downloadDir, fw.Filename), buf, 0644); err != nil {
		return nil, fmt.Errorf("failed to store archive: %w", err)
	}

	if err := s.firmwareRepo.Create(ctx, fw); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to persist firmware: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"firmware_id": fw.ID,
		"vendor":      vendor.GroupID,
		"filename":    fw.Filename,
		"components":  len(fw.Components),
	}).Info("firmware uploaded")

	if err := s.eventRepo.Append(ctx, &models.Event{
		UserID:   user.ID,
		VendorID: vendor.ID,
		Message:  fmt.Sprintf("Uploaded file %s", fw.Filename),
	}); err != nil {
		s.log.WithError(err).Warn("failed to append upload event")
	}

	return fw, nil
}

// parseUploadArchive reads a cabinet directly or converts a zip upload
// into a flattened archive
func parseUploadArchive(filename string, data []byte) (*cabarchive.Archive, error) {
	if strings.HasSuffix(filename, ".cab") {
		arc, err := cabarchive.Parse(data, true)
		if err != nil {
			return nil, &FileNotSupportedError{Reason: err.Error()}
		}
		return arc, nil
	}
	if strings.HasSuffix(filename, ".zip") {
		return convertZip(data)
	}
	return nil, &FileNotSupportedError{Reason: "filename had no supported extension"}
}

func convertZip(data []byte) (*cabarchive.Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &FileNotSupportedError{Reason: err.Error()}
	}
	arc := cabarchive.New()
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, &FileNotSupportedError{Reason: err.Error()}
		}
		buf, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &FileNotSupportedError{Reason: err.Error()}
		}
		name := path.Base(cabarchive.NormalizeName(zf.Name))
		if existing := arc.Get(name); existing != nil && !bytes.Equal(existing.Buf, buf) {
			return nil, &FileNotSupportedError{Reason: "archive has duplicate basenames with different content"}
		}
		arc.Add(&cabarchive.File{Name: name, Buf: buf})
	}
	return arc, nil
}

// checkDescriptionReferences rejects update descriptions that mention
// archive members; clients render the description, so filenames in it
// are always a vendor mistake
func checkDescriptionReferences(description string, arc *cabarchive.Archive) error {
	for _, word := range strings.Fields(description) {
		if !strings.Contains(word, ".") {
			continue
		}
		if arc.Get(word) != nil {
			return &appstream.ErrInvalid{Reason: "The release description should not reference other files."}
		}
	}
	return nil
}

// componentModel maps a parsed descriptor onto the persistence model
func componentModel(md *appstream.Component, filenameXML string) *models.Component {
	c := &models.Component{
		AppstreamID:        md.AppstreamID,
		Name:               md.Name,
		Summary:            md.Summary,
		Description:        md.Description,
		DeveloperName:      md.DeveloperName,
		MetadataLicense:    md.MetadataLicense,
		ProjectLicense:     md.ProjectLicense,
		URLHomepage:        md.URLHomepage,
		Priority:           md.Priority,
		Version:            md.Release.Version,
		VersionFormat:      md.VersionFormat,
		UpdateProtocol:     md.UpdateProtocol,
		ReleaseTimestamp:   md.Release.Timestamp,
		ReleaseUrgency:     md.Release.Urgency,
		ReleaseTag:         md.Release.Tag,
		ReleaseDescription: md.Release.Description,
		ReleaseIssues:      strings.Join(md.Release.Issues, ","),
		DetailsURL:         md.Release.DetailsURL,
		SourceURL:          md.Release.SourceURL,
		FilenameContents:   md.Release.FilenameContents,
		FilenameXML:        filenameXML,
		InhibitDownload:    md.InhibitDownload,
	}
	for _, g := range md.Guids {
		c.Guids = append(c.Guids, models.Guid{Value: g})
	}
	for _, r := range md.Requirements {
		c.Requirements = append(c.Requirements, models.Requirement{
			Kind:    r.Kind,
			Value:   r.Value,
			Compare: r.Compare,
			Version: r.Version,
			Depth:   r.Depth,
		})
	}
	for _, dc := range md.Release.DeviceChecksums {
		c.DeviceChecksums = append(c.DeviceChecksums, models.DeviceChecksum{
			Kind:  dc.Kind,
			Value: dc.Value,
		})
	}
	return c
}
