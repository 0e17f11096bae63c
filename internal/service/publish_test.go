package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/plugins"
	"example.com/backstage/services/firmware/internal/utils"
)

type publishFixture struct {
	svc          PublishService
	firmwareRepo *MockFirmwareRepository
	remoteRepo   *MockRemoteRepository
	eventRepo    *MockEventRepository
	redis        *MockRedisClient
	bus          *MockServiceBusClient
	dir          string
}

func newPublishFixture(t *testing.T) *publishFixture {
	t.Helper()
	f := &publishFixture{
		firmwareRepo: new(MockFirmwareRepository),
		remoteRepo:   new(MockRemoteRepository),
		eventRepo:    new(MockEventRepository),
		redis:        new(MockRedisClient),
		bus:          new(MockServiceBusClient),
		dir:          t.TempDir(),
	}
	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	chain := plugins.NewChain(logrus.New())
	chain.RegisterFileModified(plugins.NewDetachedSigner(keys))
	f.svc = NewPublishService(f.firmwareRepo, f.remoteRepo, f.eventRepo, chain,
		f.redis, f.bus, logrus.New(), f.dir, "https://fwupd.example.com/downloads/", "salt")
	return f
}

func stableRemote() *models.Remote {
	return &models.Remote{
		Model:    models.Model{ID: 2},
		Name:     models.RemoteStable,
		IsPublic: true,
		IsDirty:  true,
	}
}

func signedFirmware(remoteID uint, remoteName string) *models.Firmware {
	signedAt := time.Now()
	return &models.Firmware{
		Model:                models.Model{ID: 5},
		Filename:             "aabb-colorhug2.cab",
		ChecksumSignedSHA1:   "1111111111111111111111111111111111111111",
		ChecksumSignedSHA256: "2222222222222222222222222222222222222222222222222222222222222222",
		SignedAt:             &signedAt,
		DownloadSize:         4096,
		RemoteID:             remoteID,
		Remote:               &models.Remote{Model: models.Model{ID: remoteID}, Name: remoteName, IsPublic: remoteName == models.RemoteStable},
		Vendor:               &models.Vendor{Model: models.Model{ID: 3}, IsUnrestricted: true},
		User:                 &models.User{Model: models.Model{ID: 7}, VendorID: 3},
		Components: []models.Component{{
			AppstreamID:      "com.hughski.ColorHug2.device",
			Name:             "ColorHug2",
			Summary:          "An open source display colorimeter",
			Description:      "This stable release fixes bugs.",
			DeveloperName:    "Hughski Limited",
			MetadataLicense:  "CC0-1.0",
			ProjectLicense:   "GPL-2.0+",
			URLHomepage:      "http://www.hughski.com/",
			Version:          "2.0.7",
			VersionFormat:    "quad",
			UpdateProtocol:   "com.hughski.colorhug",
			ReleaseTimestamp: 1482901200,
			FilenameContents: "firmware.bin",
			Guids:            []models.Guid{{Value: "2082b5e0-7a64-478a-b1b2-e3404fab6dad"}},
		}},
	}
}

func (f *publishFixture) expectLock() {
	f.redis.On("AcquireLock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	f.redis.On("ReleaseLock", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func gunzip(t *testing.T, buf []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(buf))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func TestRegenerateWritesCatalogAndSignature(t *testing.T) {
	f := newPublishFixture(t)
	f.expectLock()
	remote := stableRemote()
	fw := signedFirmware(2, models.RemoteStable)
	f.firmwareRepo.On("ListAll", mock.Anything).Return([]*models.Firmware{fw}, nil)
	f.remoteRepo.On("ClearDirty", mock.Anything, uint(2), mock.Anything).Return(nil)
	f.eventRepo.On("Append", mock.Anything, mock.Anything).Return(nil)
	f.bus.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Regenerate(context.Background(), remote))

	blob, err := os.ReadFile(filepath.Join(f.dir, "firmware.xml.gz"))
	require.NoError(t, err)
	xml := gunzip(t, blob)
	require.Contains(t, xml, `origin="lvfs"`)
	require.Contains(t, xml, "com.hughski.ColorHug2.device")
	require.Contains(t, xml, "https://fwupd.example.com/downloads/aabb-colorhug2.cab")

	// the signer plugin runs on the freshly published file
	_, err = os.Stat(filepath.Join(f.dir, "firmware.xml.gz.asc"))
	require.NoError(t, err)

	f.remoteRepo.AssertExpectations(t)
	f.bus.AssertExpectations(t)
}

func TestRegenerateExcludesUnsignedAndForeignFirmware(t *testing.T) {
	f := newPublishFixture(t)
	f.expectLock()
	remote := stableRemote()

	unsigned := signedFirmware(2, models.RemoteStable)
	unsigned.SignedAt = nil
	testing_ := signedFirmware(4, models.RemoteTesting)
	deleted := signedFirmware(9, models.RemoteDeleted)

	f.firmwareRepo.On("ListAll", mock.Anything).
		Return([]*models.Firmware{unsigned, testing_, deleted}, nil)
	f.remoteRepo.On("ClearDirty", mock.Anything, uint(2), mock.Anything).Return(nil)
	f.eventRepo.On("Append", mock.Anything, mock.Anything).Return(nil)
	f.bus.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Regenerate(context.Background(), remote))

	blob, err := os.ReadFile(filepath.Join(f.dir, "firmware.xml.gz"))
	require.NoError(t, err)
	require.NotContains(t, gunzip(t, blob), "com.hughski.ColorHug2.device")
}

func TestRegenerateEmbargoIncludesAffiliatedUploader(t *testing.T) {
	f := newPublishFixture(t)
	f.expectLock()
	// the OEM embargo remote lists the ODM vendor
	remote := &models.Remote{
		Model:   models.Model{ID: 6},
		Name:    models.EmbargoRemoteName("oem"),
		IsDirty: true,
		Vendors: []models.Vendor{{Model: models.Model{ID: 3}}},
	}
	// firmware uploaded by the ODM sits on the ODM embargo remote
	fw := signedFirmware(12, models.EmbargoRemoteName("odm"))
	f.firmwareRepo.On("ListAll", mock.Anything).Return([]*models.Firmware{fw}, nil)
	f.remoteRepo.On("ClearDirty", mock.Anything, uint(6), mock.Anything).Return(nil)
	f.eventRepo.On("Append", mock.Anything, mock.Anything).Return(nil)
	f.bus.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.svc.Regenerate(context.Background(), remote))

	filename := remote.Filename("salt")
	require.NotEmpty(t, filename)
	blob, err := os.ReadFile(filepath.Join(f.dir, filename))
	require.NoError(t, err)
	require.Contains(t, gunzip(t, blob), "com.hughski.ColorHug2.device")
}

func TestRegenerateSkipsWhenLocked(t *testing.T) {
	f := newPublishFixture(t)
	f.redis.On("AcquireLock", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, f.svc.Regenerate(context.Background(), stableRemote()))
	f.firmwareRepo.AssertNotCalled(t, "ListAll", mock.Anything)
}

func TestRegeneratePrivateRemotePublishesNothing(t *testing.T) {
	f := newPublishFixture(t)
	remote := &models.Remote{Model: models.Model{ID: 1}, Name: models.RemotePrivate, IsDirty: true}
	f.remoteRepo.On("ClearDirty", mock.Anything, uint(1), mock.Anything).Return(nil)

	require.NoError(t, f.svc.Regenerate(context.Background(), remote))
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUpdatePulpManifest(t *testing.T) {
	f := newPublishFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "firmware.xml.gz"), []byte("catalog"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "firmware.xml.gz.asc"), []byte("signature"), 0644))

	fw := signedFirmware(2, models.RemoteStable)
	hidden := signedFirmware(12, models.EmbargoRemoteName("odm"))
	f.firmwareRepo.On("ListAll", mock.Anything).Return([]*models.Firmware{fw, hidden}, nil)

	require.NoError(t, f.svc.UpdatePulpManifest(context.Background()))

	manifest, err := os.ReadFile(filepath.Join(f.dir, "PULP_MANIFEST"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "firmware.xml.gz,"))
	require.True(t, strings.HasPrefix(lines[1], "firmware.xml.gz.asc,"))
	require.Equal(t, "aabb-colorhug2.cab,"+fw.ChecksumSignedSHA256+",4096", lines[2])
}

func TestRegenerateDirtyContinuesPastFailures(t *testing.T) {
	f := newPublishFixture(t)
	bad := stableRemote()
	good := &models.Remote{Model: models.Model{ID: 4}, Name: models.RemoteTesting, IsDirty: true}
	f.remoteRepo.On("ListDirty", mock.Anything).Return([]*models.Remote{bad, good}, nil)

	// first remote fails to lock with an error, second succeeds
	f.redis.On("AcquireLock", mock.Anything, "metadata:remote:stable", mock.Anything, mock.Anything).
		Return(false, os.ErrDeadlineExceeded)
	f.redis.On("AcquireLock", mock.Anything, "metadata:remote:testing", mock.Anything, mock.Anything).
		Return(true, nil)
	f.redis.On("ReleaseLock", mock.Anything, "metadata:remote:testing", mock.Anything).Return(nil)
	f.firmwareRepo.On("ListAll", mock.Anything).Return([]*models.Firmware{}, nil)
	f.remoteRepo.On("ClearDirty", mock.Anything, uint(4), mock.Anything).Return(nil)
	f.eventRepo.On("Append", mock.Anything, mock.Anything).Return(nil)
	f.bus.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.RegenerateDirty(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 2")

	_, statErr := os.Stat(filepath.Join(f.dir, "firmware-testing.xml.gz"))
	require.NoError(t, statErr)
}
