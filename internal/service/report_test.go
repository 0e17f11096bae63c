package service

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
	"example.com/backstage/services/firmware/internal/utils"
)

const reportChecksum = "9d72ffd950c4f2134e74f04e16dba545d0e0c38a"

type reportFixture struct {
	svc          ReportService
	firmwareRepo *MockFirmwareRepository
	reportRepo   *MockReportRepository
	issueRepo    *MockIssueRepository
	userRepo     *MockUserRepository
	eventRepo    *MockEventRepository
	redis        *MockRedisClient
}

func newReportFixture() *reportFixture {
	f := &reportFixture{
		firmwareRepo: new(MockFirmwareRepository),
		reportRepo:   new(MockReportRepository),
		issueRepo:    new(MockIssueRepository),
		userRepo:     new(MockUserRepository),
		eventRepo:    new(MockEventRepository),
		redis:        new(MockRedisClient),
	}
	f.svc = NewReportService(f.firmwareRepo, f.reportRepo, f.issueRepo,
		f.userRepo, f.eventRepo, f.redis, logrus.New())
	return f
}

func (f *reportFixture) expectCacheMiss() {
	f.redis.On("Get", mock.Anything, mock.Anything).Return("", errors.New("redis: nil"))
	f.redis.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func reportFirmware() *models.Firmware {
	return &models.Firmware{
		Model:              models.Model{ID: 5},
		VendorID:           3,
		ChecksumUploadSHA1: "aabbccdd",
		ChecksumSignedSHA1: reportChecksum,
	}
}

func reportPayload(state int) []byte {
	return []byte(fmt.Sprintf(`{
		"ReportVersion": 2,
		"MachineId": "machine-1",
		"Metadata": {"DistroId": "fedora", "CpuArchitecture": "x86_64"},
		"Reports": [{
			"Checksum": "%s",
			"UpdateState": %d,
			"BootTime": 1234,
			"PluginName": "colorhug",
			"Guid": ["g-one", "g-two"],
			"Metadata": {"DistroId": "rhel", "Fwupd": "1.8.0"}
		}]
	}`, reportChecksum, state))
}

func TestProcessReportCreatesNewReport(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	var created *models.Report
	f.reportRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Report")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*models.Report) }).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_success_cnt").Return(nil)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(2), "")
	require.NoError(t, err)
	require.Empty(t, result.Msgs)

	require.NotNil(t, created)
	require.Equal(t, "machine-1", created.MachineID)
	require.Equal(t, models.UpdateStateSuccess, created.State)
	require.Equal(t, uint(5), created.FirmwareID)
	require.Nil(t, created.UserID)

	attrs := map[string]string{}
	for _, attr := range created.Attributes {
		attrs[attr.Key] = attr.Value
	}
	// per-report metadata wins over the shared metadata
	require.Equal(t, "rhel", attrs["DistroId"])
	require.Equal(t, "x86_64", attrs["CpuArchitecture"])
	require.Equal(t, "1.8.0", attrs["Fwupd"])
	require.Equal(t, "colorhug", attrs["PluginName"])
	require.Equal(t, "g-one,g-two", attrs["Guid"])
	require.NotContains(t, attrs, "BootTime")
	require.NotContains(t, attrs, "Checksum")
	require.NotContains(t, attrs, "UpdateState")

	f.reportRepo.AssertExpectations(t)
	f.firmwareRepo.AssertExpectations(t)
}

func TestProcessReportReplacesOldReport(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	existing := &models.Report{Model: models.Model{ID: 44}, Checksum: reportChecksum, MachineID: "machine-1"}
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(existing, nil)
	f.reportRepo.On("Replace", mock.Anything, existing, models.UpdateStateSuccess,
		(*uint)(nil), mock.Anything).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_success_cnt").Return(nil)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(2), "")
	require.NoError(t, err)
	require.Equal(t, []string{reportChecksum + " replaces old report"}, result.Msgs)
	f.reportRepo.AssertExpectations(t)
}

func TestProcessReportMatchesKnownIssue(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	issue := &models.Issue{
		Model:    models.Model{ID: 9},
		VendorID: models.AdminVendorID,
		URL:      "https://example.com/issues/9",
		Conditions: []models.Condition{
			{Key: "PluginName", Value: "colorhug", Compare: "eq"},
		},
	}
	f.issueRepo.On("ListEnabled", mock.Anything).Return([]*models.Issue{issue}, nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	var created *models.Report
	f.reportRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Report")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*models.Report) }).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_issue_cnt").Return(nil)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(3), "")
	require.NoError(t, err)
	require.Equal(t, []string{"The failure is a known issue"}, result.Msgs)
	require.Equal(t, []string{"https://example.com/issues/9"}, result.URIs)
	require.NotNil(t, created.IssueID)
	require.Equal(t, uint(9), *created.IssueID)
}

func TestProcessReportVendorScopedIssueSkipped(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	issue := &models.Issue{
		Model:    models.Model{ID: 9},
		VendorID: 99, // some other vendor
		Conditions: []models.Condition{
			{Key: "PluginName", Value: "colorhug", Compare: "eq"},
		},
	}
	f.issueRepo.On("ListEnabled", mock.Anything).Return([]*models.Issue{issue}, nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	f.reportRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_failure_cnt").Return(nil)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(3), "")
	require.NoError(t, err)
	require.Empty(t, result.Msgs)
	f.firmwareRepo.AssertExpectations(t)
}

func TestProcessReportUnknownChecksum(t *testing.T) {
	f := newReportFixture()
	f.redis.On("Get", mock.Anything, mock.Anything).Return("", errors.New("redis: nil"))
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).
		Return(nil, repository.ErrNotFound)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(2), "")
	require.NoError(t, err)
	require.Equal(t, []string{reportChecksum + " did not match any known firmware archive"}, result.Msgs)
}

func TestProcessReportDoNotTrack(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	fw := reportFirmware()
	fw.DoNotTrack = true
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(fw, nil)

	result, err := f.svc.ProcessReport(context.Background(), reportPayload(2), "")
	require.NoError(t, err)
	require.Equal(t, []string{reportChecksum + " will not accept reports"}, result.Msgs)
}

func TestProcessReportRejectsWrongVersion(t *testing.T) {
	f := newReportFixture()
	payload := []byte(`{"ReportVersion": 1, "MachineId": "m", "Reports": [{}], "Metadata": {"a": "b"}}`)
	_, err := f.svc.ProcessReport(context.Background(), payload, "")
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	require.Equal(t, "report version not supported", reject.Msg)
}

func TestProcessReportRejectsMissingKeys(t *testing.T) {
	f := newReportFixture()
	for _, tc := range []struct {
		payload string
		msg     string
	}{
		{`not json`, "No JSON object could be decoded"},
		{`{"MachineId": "m", "Reports": [], "Metadata": {}}`, "invalid data, expected ReportVersion"},
		{`{"ReportVersion": 2, "MachineId": null, "Reports": [], "Metadata": {}}`, "missing data, expected MachineId"},
		{`{"ReportVersion": 2, "MachineId": "m", "Reports": [], "Metadata": {"a": "b"}}`, "no reports included"},
		{`{"ReportVersion": 2, "MachineId": "m", "Reports": [{}], "Metadata": {}}`, "no metadata included"},
	} {
		_, err := f.svc.ProcessReport(context.Background(), []byte(tc.payload), "")
		var reject *RejectError
		require.ErrorAs(t, err, &reject, tc.msg)
		require.Contains(t, reject.Msg, tc.msg)
	}
}

func TestProcessReportRejectsMissingEntryKeys(t *testing.T) {
	f := newReportFixture()
	payload := []byte(`{"ReportVersion": 2, "MachineId": "m",
		"Reports": [{"Checksum": "x", "Metadata": {}}], "Metadata": {"a": "b"}}`)
	_, err := f.svc.ProcessReport(context.Background(), payload, "")
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	require.Equal(t, "invalid data, expected UpdateState", reject.Msg)
}

func signingCertificate(t *testing.T, keys *utils.SigningKeyPair, serial int64) string {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "alice@hughski.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, keys.PublicKey, keys.PrivateKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestProcessReportSignedSubmission(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()

	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	crt := &models.UserCertificate{
		UserID: 7,
		User:   &models.User{Model: models.Model{ID: 7}, IsQA: false},
		Serial: "1234",
		Text:   signingCertificate(t, keys, 1234),
	}
	f.userRepo.On("FindCertificateBySerial", mock.Anything, "1234").Return(crt, nil)

	payload := reportPayload(2)
	sig, err := utils.SignDetached(keys, payload)
	require.NoError(t, err)

	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	var created *models.Report
	f.reportRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Report")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*models.Report) }).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_success_cnt").Return(nil)

	_, err = f.svc.ProcessReport(context.Background(), payload, "1234:"+sig)
	require.NoError(t, err)
	require.NotNil(t, created.UserID)
	require.Equal(t, uint(7), *created.UserID)
}

func TestProcessReportBadSignatureRejected(t *testing.T) {
	f := newReportFixture()
	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	crt := &models.UserCertificate{
		Serial: "1234",
		Text:   signingCertificate(t, keys, 1234),
	}
	f.userRepo.On("FindCertificateBySerial", mock.Anything, "1234").Return(crt, nil)

	payload := reportPayload(2)
	otherKeys, err := utils.GenerateSigningKeyPair("other")
	require.NoError(t, err)
	sig, err := utils.SignDetached(otherKeys, payload)
	require.NoError(t, err)

	_, err = f.svc.ProcessReport(context.Background(), payload, "1234:"+sig)
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	require.Equal(t, "Signature did not validate", reject.Msg)
}

func TestProcessReportUnknownSerialDegradesToAnonymous(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()
	f.userRepo.On("FindCertificateBySerial", mock.Anything, "9999").Return(nil, repository.ErrNotFound)
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(reportFirmware(), nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	var created *models.Report
	f.reportRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Report")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*models.Report) }).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_success_cnt").Return(nil)

	_, err := f.svc.ProcessReport(context.Background(), reportPayload(2), "9999:c2ln")
	require.NoError(t, err)
	require.Nil(t, created.UserID)
}

func TestProcessReportLearnsDeviceChecksums(t *testing.T) {
	f := newReportFixture()
	f.expectCacheMiss()

	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	crt := &models.UserCertificate{
		UserID: 7,
		User:   &models.User{Model: models.Model{ID: 7}, IsQA: true},
		Serial: "1234",
		Text:   signingCertificate(t, keys, 1234),
	}
	f.userRepo.On("FindCertificateBySerial", mock.Anything, "1234").Return(crt, nil)

	fw := reportFirmware()
	fw.Components = []models.Component{{Model: models.Model{ID: 2}}}
	f.firmwareRepo.On("FindBySignedChecksum", mock.Anything, reportChecksum).Return(fw, nil)
	f.firmwareRepo.On("Save", mock.Anything, fw).Return(nil)
	f.eventRepo.On("Append", mock.Anything, mock.Anything).Return(nil)
	f.reportRepo.On("FindByChecksumAndMachine", mock.Anything, reportChecksum, "machine-1").
		Return(nil, repository.ErrNotFound)
	f.reportRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.firmwareRepo.On("IncrementCounter", mock.Anything, uint(5), "report_success_cnt").Return(nil)

	device := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	payload := []byte(fmt.Sprintf(`{
		"ReportVersion": 2,
		"MachineId": "machine-1",
		"Metadata": {"DistroId": "fedora"},
		"Reports": [{
			"Checksum": "%s",
			"UpdateState": 2,
			"ChecksumDevice": ["%s"],
			"Metadata": {}
		}]
	}`, reportChecksum, device))
	sig, err := utils.SignDetached(keys, payload)
	require.NoError(t, err)

	_, err = f.svc.ProcessReport(context.Background(), payload, "1234:"+sig)
	require.NoError(t, err)
	require.Len(t, fw.Components[0].DeviceChecksums, 1)
	require.Equal(t, "SHA1", fw.Components[0].DeviceChecksums[0].Kind)
	require.Equal(t, device, fw.Components[0].DeviceChecksums[0].Value)
	f.firmwareRepo.AssertExpectations(t)
}

func TestFlattenValueTypes(t *testing.T) {
	require.Equal(t, "plain", flattenValue(json.RawMessage(`"plain"`)))
	require.Equal(t, "a,b", flattenValue(json.RawMessage(`["a","b"]`)))
	require.Equal(t, "42", flattenValue(json.RawMessage(`42`)))
	require.Equal(t, "true", flattenValue(json.RawMessage(`true`)))
}
