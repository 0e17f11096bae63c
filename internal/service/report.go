package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/cache"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
	"example.com/backstage/services/firmware/internal/utils"
)

// reportVersion is the only client report format this service accepts
const reportVersion = 2

// attribute keys never persisted, either noise or stored elsewhere
var reportExcludedKeys = map[string]bool{
	"Created":     true,
	"Modified":    true,
	"BootTime":    true,
	"UpdateState": true,
	"DeviceId":    true,
	"Checksum":    true,
}

// RejectError is a whole-submission rejection whose message goes back
// to the client verbatim
type RejectError struct {
	Msg string
}

func (e *RejectError) Error() string {
	return e.Msg
}

func rejectf(format string, args ...interface{}) error {
	return &RejectError{Msg: fmt.Sprintf(format, args...)}
}

// ReportResult carries the per-entry messages and issue URIs of an
// accepted submission
type ReportResult struct {
	Msgs []string
	URIs []string
}

// ReportService ingests end-user update telemetry
type ReportService interface {
	// ProcessReport handles one submission; a non-nil RejectError means
	// the whole submission was refused
	ProcessReport(ctx context.Context, payload []byte, signature string) (*ReportResult, error)
}

// reportService implements ReportService
type reportService struct {
	firmwareRepo repository.FirmwareRepository
	reportRepo   repository.ReportRepository
	issueRepo    repository.IssueRepository
	userRepo     repository.UserRepository
	eventRepo    repository.EventRepository
	redis        cache.RedisClient
	log          *logrus.Logger
}

// NewReportService creates a new report service
func NewReportService(
	firmwareRepo repository.FirmwareRepository,
	reportRepo repository.ReportRepository,
	issueRepo repository.IssueRepository,
	userRepo repository.UserRepository,
	eventRepo repository.EventRepository,
	redis cache.RedisClient,
	log *logrus.Logger,
) ReportService {
	return &reportService{
		firmwareRepo: firmwareRepo,
		reportRepo:   reportRepo,
		issueRepo:    issueRepo,
		userRepo:     userRepo,
		eventRepo:    eventRepo,
		redis:        redis,
		log:          log,
	}
}

// ProcessReport validates the submission envelope atomically, then
// processes each report entry independently so one bad entry cannot
// block the rest.
func (s *reportService) ProcessReport(ctx context.Context, payload []byte, signature string) (*ReportResult, error) {
	user, err := s.verifySignature(ctx, payload, signature)
	if err != nil {
		return nil, err
	}

	var item map[string]json.RawMessage
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, rejectf("No JSON object could be decoded: %s", err.Error())
	}
	for _, key := range []string{"ReportVersion", "MachineId", "Reports", "Metadata"} {
		raw, ok := item[key]
		if !ok {
			return nil, rejectf("invalid data, expected %s", key)
		}
		if string(raw) == "null" {
			return nil, rejectf("missing data, expected %s", key)
		}
	}

	var version int
	if err := json.Unmarshal(item["ReportVersion"], &version); err != nil || version != reportVersion {
		return nil, rejectf("report version not supported")
	}
	var machineID string
	if err := json.Unmarshal(item["MachineId"], &machineID); err != nil {
		return nil, rejectf("invalid data, expected MachineId")
	}
	var reports []map[string]json.RawMessage
	if err := json.Unmarshal(item["Reports"], &reports); err != nil {
		return nil, rejectf("invalid data, expected Reports")
	}
	if len(reports) == 0 {
		return nil, rejectf("no reports included")
	}
	var metadata map[string]json.RawMessage
	if err := json.Unmarshal(item["Metadata"], &metadata); err != nil {
		return nil, rejectf("invalid data, expected Metadata")
	}
	if len(metadata) == 0 {
		return nil, rejectf("no metadata included")
	}

	result := &ReportResult{}
	for _, entry := range reports {
		if err := s.processEntry(ctx, entry, metadata, machineID, user, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// processEntry handles one firmware report inside a submission
func (s *reportService) processEntry(ctx context.Context, entry, metadata map[string]json.RawMessage,
	machineID string, user *models.User, result *ReportResult) error {
	for _, key := range []string{"Checksum", "UpdateState", "Metadata"} {
		raw, ok := entry[key]
		if !ok {
			return rejectf("invalid data, expected %s", key)
		}
		if string(raw) == "null" {
			return rejectf("missing data, expected %s", key)
		}
	}

	var checksum string
	if err := json.Unmarshal(entry["Checksum"], &checksum); err != nil {
		return rejectf("invalid data, expected Checksum")
	}
	var state int
	if err := json.Unmarshal(entry["UpdateState"], &state); err != nil {
		return rejectf("invalid data, expected UpdateState")
	}

	data := flattenReport(entry, metadata)

	fw, err := s.findFirmware(ctx, checksum)
	if err != nil {
		if err == repository.ErrNotFound {
			result.Msgs = append(result.Msgs, checksum+" did not match any known firmware archive")
			return nil
		}
		return fmt.Errorf("failed to look up firmware: %w", err)
	}
	if fw.DoNotTrack {
		result.Msgs = append(result.Msgs, checksum+" will not accept reports")
		return nil
	}

	if user != nil && user.IsQA {
		if err := s.learnDeviceChecksums(ctx, fw, data); err != nil {
			s.log.WithError(err).Warn("failed to record device checksums")
		}
	}

	var issueID *uint
	if models.UpdateState(state) == models.UpdateStateFailed {
		issue, err := s.findIssue(ctx, data, fw)
		if err != nil {
			return err
		}
		if issue != nil {
			issueID = &issue.ID
			result.Msgs = append(result.Msgs, "The failure is a known issue")
			result.URIs = append(result.URIs, issue.URL)
		}
	}

	attrs := make([]models.ReportAttribute, 0, len(data))
	for _, key := range sortedKeys(data) {
		attrs = append(attrs, models.ReportAttribute{Key: key, Value: data[key]})
	}

	var userID *uint
	if user != nil {
		userID = &user.ID
	}

	existing, err := s.reportRepo.FindByChecksumAndMachine(ctx, checksum, machineID)
	switch {
	case err == nil:
		result.Msgs = append(result.Msgs, checksum+" replaces old report")
		if err := s.reportRepo.Replace(ctx, existing, models.UpdateState(state), issueID, attrs); err != nil {
			return fmt.Errorf("failed to replace report: %w", err)
		}
	case err == repository.ErrNotFound:
		report := &models.Report{
			Timestamp:  time.Now().Unix(),
			MachineID:  machineID,
			Checksum:   checksum,
			FirmwareID: fw.ID,
			State:      models.UpdateState(state),
			UserID:     userID,
			IssueID:    issueID,
			Attributes: attrs,
		}
		if err := s.reportRepo.Create(ctx, report); err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up report: %w", err)
	}

	// bump counters immediately so vendors see fresh numbers without
	// waiting for the rollup job
	var counterErr error
	switch models.UpdateState(state) {
	case models.UpdateStateSuccess:
		counterErr = s.firmwareRepo.IncrementCounter(ctx, fw.ID, "report_success_cnt")
	case models.UpdateStateFailed:
		if issueID != nil {
			counterErr = s.firmwareRepo.IncrementCounter(ctx, fw.ID, "report_issue_cnt")
		} else {
			counterErr = s.firmwareRepo.IncrementCounter(ctx, fw.ID, "report_failure_cnt")
		}
	}
	if counterErr != nil {
		return fmt.Errorf("failed to bump report counter: %w", counterErr)
	}
	return nil
}

// sortedKeys returns the attribute keys in stable order
func sortedKeys(data map[string]string) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

const checksumCacheTTL = 10 * time.Minute

// findFirmware resolves a post-signing checksum, consulting the redis
// cache before the database
func (s *reportService) findFirmware(ctx context.Context, checksum string) (*models.Firmware, error) {
	cacheKey := "firmware:checksum:" + checksum
	if s.redis != nil {
		if v, err := s.redis.Get(ctx, cacheKey); err == nil && v != "" {
			if id, err := strconv.ParseUint(v, 10, 64); err == nil {
				return s.firmwareRepo.FindByID(ctx, uint(id))
			}
		}
	}
	fw, err := s.firmwareRepo.FindBySignedChecksum(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		if err := s.redis.Set(ctx, cacheKey, strconv.FormatUint(uint64(fw.ID), 10), checksumCacheTTL); err != nil {
			s.log.WithError(err).Debug("failed to cache checksum lookup")
		}
	}
	return fw, nil
}

// findIssue returns the best matching enabled issue for failure data,
// respecting vendor scope
func (s *reportService) findIssue(ctx context.Context, data map[string]string, fw *models.Firmware) (*models.Issue, error) {
	issues, err := s.issueRepo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.VendorID != models.AdminVendorID && issue.VendorID != fw.VendorID {
			continue
		}
		if issue.Matches(data) {
			return issue, nil
		}
	}
	return nil, nil
}

// learnDeviceChecksums records device-reported payload digests from a
// trusted QA submission, only for single-component firmware where the
// attribution is unambiguous
func (s *reportService) learnDeviceChecksums(ctx context.Context, fw *models.Firmware, data map[string]string) error {
	if len(fw.Components) != 1 {
		return nil
	}
	raw, ok := data["ChecksumDevice"]
	if !ok {
		return nil
	}
	md := &fw.Components[0]
	added := false
	for _, checksum := range strings.Split(raw, ",") {
		checksum = strings.TrimSpace(checksum)
		if checksum == "" || hasDeviceChecksum(md, checksum) {
			continue
		}
		var kind string
		switch len(checksum) {
		case 40:
			kind = "SHA1"
		case 64:
			kind = "SHA256"
		default:
			continue
		}
		md.DeviceChecksums = append(md.DeviceChecksums, models.DeviceChecksum{
			ComponentID: md.ID,
			Kind:        kind,
			Value:       checksum,
		})
		added = true
		if err := s.eventRepo.Append(ctx, &models.Event{
			VendorID: fw.VendorID,
			Message:  fmt.Sprintf("added device checksum %s to firmware %s", checksum, fw.ChecksumUploadSHA1),
		}); err != nil {
			s.log.WithError(err).Warn("failed to append event")
		}
	}
	if !added {
		return nil
	}
	return s.firmwareRepo.Save(ctx, fw)
}

// verifySignature resolves the signing user of a submission. An unknown
// serial degrades to an anonymous submission; a known serial with a bad
// signature is rejected.
func (s *reportService) verifySignature(ctx context.Context, payload []byte, signature string) (*models.User, error) {
	if signature == "" {
		return nil, nil
	}
	serial, sig, ok := strings.Cut(signature, ":")
	if !ok {
		return nil, rejectf("Signature invalid, no signature")
	}
	crt, err := s.userRepo.FindCertificateBySerial(ctx, serial)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up certificate: %w", err)
	}
	pub, err := certificatePublicKey(crt.Text)
	if err != nil {
		return nil, rejectf("Signature invalid: %s", err.Error())
	}
	valid, err := utils.VerifyDetached(pub, payload, sig)
	if err != nil || !valid {
		return nil, rejectf("Signature did not validate")
	}
	return crt.User, nil
}

func certificatePublicKey(text string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, fmt.Errorf("certificate is not PEM encoded")
	}
	crt, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := crt.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is not ECDSA")
	}
	return pub, nil
}

// flattenReport merges the shared metadata with one report entry's
// fields, report values winning, arrays comma-joined
func flattenReport(entry, metadata map[string]json.RawMessage) map[string]string {
	data := map[string]string{}
	for key, raw := range metadata {
		data[key] = flattenValue(raw)
	}
	for key, raw := range entry {
		if reportExcludedKeys[key] {
			continue
		}
		if key == "Metadata" {
			var md map[string]json.RawMessage
			if err := json.Unmarshal(raw, &md); err == nil {
				for mdKey, mdRaw := range md {
					data[mdKey] = flattenValue(mdRaw)
				}
			}
			continue
		}
		data[key] = flattenValue(raw)
	}
	return data
}

func flattenValue(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ",")
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err == nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}

func hasDeviceChecksum(md *models.Component, checksum string) bool {
	for _, csum := range md.DeviceChecksums {
		if csum.Value == checksum {
			return true
		}
	}
	return false
}
