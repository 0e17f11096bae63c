package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/backstage/services/firmware/internal/models"
)

// Mock repositories for testing

type MockFirmwareRepository struct {
	mock.Mock
}

func (m *MockFirmwareRepository) Create(ctx context.Context, fw *models.Firmware) error {
	args := m.Called(ctx, fw)
	return args.Error(0)
}

func (m *MockFirmwareRepository) Save(ctx context.Context, fw *models.Firmware) error {
	args := m.Called(ctx, fw)
	return args.Error(0)
}

func (m *MockFirmwareRepository) FindByID(ctx context.Context, id uint) (*models.Firmware, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) FindByUploadChecksum(ctx context.Context, sha256 string) (*models.Firmware, error) {
	args := m.Called(ctx, sha256)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) FindBySignedChecksum(ctx context.Context, checksum string) (*models.Firmware, error) {
	args := m.Called(ctx, checksum)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) ListAll(ctx context.Context) ([]*models.Firmware, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) ListUnsigned(ctx context.Context) ([]*models.Firmware, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) SetRemote(ctx context.Context, fw *models.Firmware, remote *models.Remote, userID uint) error {
	args := m.Called(ctx, fw, remote, userID)
	if args.Error(0) == nil {
		fw.RemoteID = remote.ID
		fw.Remote = remote
	}
	return args.Error(0)
}

func (m *MockFirmwareRepository) IncrementCounter(ctx context.Context, id uint, column string) error {
	args := m.Called(ctx, id, column)
	return args.Error(0)
}

func (m *MockFirmwareRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Firmware, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Firmware), args.Error(1)
}

func (m *MockFirmwareRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockRemoteRepository struct {
	mock.Mock
}

func (m *MockRemoteRepository) Create(ctx context.Context, remote *models.Remote) error {
	args := m.Called(ctx, remote)
	return args.Error(0)
}

func (m *MockRemoteRepository) FindByID(ctx context.Context, id uint) (*models.Remote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Remote), args.Error(1)
}

func (m *MockRemoteRepository) FindByName(ctx context.Context, name string) (*models.Remote, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Remote), args.Error(1)
}

func (m *MockRemoteRepository) ListAll(ctx context.Context) ([]*models.Remote, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Remote), args.Error(1)
}

func (m *MockRemoteRepository) ListDirty(ctx context.Context) ([]*models.Remote, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Remote), args.Error(1)
}

func (m *MockRemoteRepository) MarkDirty(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemoteRepository) ClearDirty(ctx context.Context, id uint, builtAt time.Time) error {
	args := m.Called(ctx, id, builtAt)
	return args.Error(0)
}

type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) Create(ctx context.Context, report *models.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReportRepository) FindByChecksumAndMachine(ctx context.Context, checksum, machineID string) (*models.Report, error) {
	args := m.Called(ctx, checksum, machineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *MockReportRepository) Replace(ctx context.Context, report *models.Report, state models.UpdateState,
	issueID *uint, attrs []models.ReportAttribute) error {
	args := m.Called(ctx, report, state, issueID, attrs)
	return args.Error(0)
}

func (m *MockReportRepository) CountForFirmware(ctx context.Context, firmwareID uint, state models.UpdateState) (int64, error) {
	args := m.Called(ctx, firmwareID, state)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockReportRepository) CountForFirmwareSince(ctx context.Context, firmwareID uint, state models.UpdateState,
	since time.Time, withIssue bool) (int64, error) {
	args := m.Called(ctx, firmwareID, state, since, withIssue)
	return args.Get(0).(int64), args.Error(1)
}

type MockIssueRepository struct {
	mock.Mock
}

func (m *MockIssueRepository) Create(ctx context.Context, issue *models.Issue) error {
	args := m.Called(ctx, issue)
	return args.Error(0)
}

func (m *MockIssueRepository) FindByID(ctx context.Context, id uint) (*models.Issue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Issue), args.Error(1)
}

func (m *MockIssueRepository) ListEnabled(ctx context.Context) ([]*models.Issue, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Issue), args.Error(1)
}

func (m *MockIssueRepository) SetEnabled(ctx context.Context, issue *models.Issue, enabled bool) error {
	args := m.Called(ctx, issue, enabled)
	return args.Error(0)
}

func (m *MockIssueRepository) AddCondition(ctx context.Context, issue *models.Issue, condition *models.Condition) error {
	args := m.Called(ctx, issue, condition)
	return args.Error(0)
}

func (m *MockIssueRepository) DeleteCondition(ctx context.Context, issue *models.Issue, conditionID uint) error {
	args := m.Called(ctx, issue, conditionID)
	return args.Error(0)
}

func (m *MockIssueRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) FindCertificateBySerial(ctx context.Context, serial string) (*models.UserCertificate, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserCertificate), args.Error(1)
}

func (m *MockUserRepository) FindAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.APIKey), args.Error(1)
}

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Append(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Event), args.Error(1)
}

func (m *MockEventRepository) ListForVendor(ctx context.Context, vendorID uint, limit int) ([]*models.Event, error) {
	args := m.Called(ctx, vendorID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Event), args.Error(1)
}

type MockVendorRepository struct {
	mock.Mock
}

func (m *MockVendorRepository) Create(ctx context.Context, vendor *models.Vendor) error {
	args := m.Called(ctx, vendor)
	return args.Error(0)
}

func (m *MockVendorRepository) FindByID(ctx context.Context, id uint) (*models.Vendor, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vendor), args.Error(1)
}

func (m *MockVendorRepository) FindByGroupID(ctx context.Context, groupID string) (*models.Vendor, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vendor), args.Error(1)
}

func (m *MockVendorRepository) ODMVendorIDs(ctx context.Context, vendorID uint) ([]uint, error) {
	args := m.Called(ctx, vendorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint), args.Error(1)
}

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockRedisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockRedisClient) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, token, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockRedisClient) ReleaseLock(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockServiceBusClient struct {
	mock.Mock
}

func (m *MockServiceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	args := m.Called(ctx, body, sessionID)
	return args.Error(0)
}

func (m *MockServiceBusClient) Close() error {
	args := m.Called()
	return args.Error(0)
}
