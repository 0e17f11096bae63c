package models

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// AuthorizationLevel represents the level of access for an API key
type AuthorizationLevel int

const (
	// NoAuthLevel represents public access with no authentication
	NoAuthLevel AuthorizationLevel = 0
	// ViewerAuthLevel represents read-only access
	ViewerAuthLevel AuthorizationLevel = 1
	// WriterAuthLevel represents read-write access, used by vendor upload tooling
	WriterAuthLevel AuthorizationLevel = 2
	// SudoAuthLevel represents administrative access
	SudoAuthLevel AuthorizationLevel = 3
)

// APIKey represents an API token with associated access level
type APIKey struct {
	Model
	Key                string             `json:"key" gorm:"uniqueIndex;Column:key"`
	Name               string             `json:"name" gorm:"Column:name"`
	AuthorizationLevel AuthorizationLevel `json:"authorization_level" gorm:"Column:authorization_level"`
	VendorID           uint               `json:"vendor_id" gorm:"Column:vendor_id"`
	UserID             uint               `json:"user_id" gorm:"Column:user_id"`
	ExpiresAt          *time.Time         `json:"expires_at" gorm:"Column:expires_at"`
	LastUsedAt         *time.Time         `json:"last_used_at" gorm:"Column:last_used_at"`
}

// AdminVendorID is the built-in admin vendor; issues scoped to it apply
// to every vendor's firmware.
const AdminVendorID uint = 1

// Vendor model represents a hardware vendor that uploads firmware
type Vendor struct {
	Model
	GroupID        string        `json:"group_id" gorm:"uniqueIndex;Column:group_id"`
	DisplayName    string        `json:"display_name" gorm:"Column:display_name"`
	IsUnrestricted bool          `json:"is_unrestricted" gorm:"Column:is_unrestricted"`
	DoNotTrack     bool          `json:"do_not_track" gorm:"Column:do_not_track"`
	RemoteID       uint          `json:"remote_id" gorm:"Column:remote_id"`
	Remote         *Remote       `json:"remote" gorm:"foreignKey:RemoteID"`
	Restrictions   []Restriction `json:"restrictions" gorm:"foreignKey:VendorID"`
	Affiliations   []Affiliation `json:"affiliations" gorm:"foreignKey:VendorID"`
}

// VendorIDs returns the platform IDs this vendor may target, e.g.
// "USB:0x273F".
func (v *Vendor) VendorIDs() []string {
	ids := make([]string, 0, len(v.Restrictions))
	for _, r := range v.Restrictions {
		ids = append(ids, r.Value)
	}
	return ids
}

// Restriction is one allowed platform vendor ID for a vendor
type Restriction struct {
	Model
	VendorID uint   `json:"vendor_id" gorm:"Column:vendor_id;index"`
	Value    string `json:"value" gorm:"Column:value"`
}

// Affiliation is a directed permission edge letting an ODM vendor manage
// firmware on behalf of an OEM vendor
type Affiliation struct {
	Model
	VendorID    uint    `json:"vendor_id" gorm:"Column:vendor_id;index"`
	VendorODMID uint    `json:"vendor_odm_id" gorm:"Column:vendor_odm_id;index"`
	Vendor      *Vendor `json:"-" gorm:"foreignKey:VendorID"`
	VendorODM   *Vendor `json:"-" gorm:"foreignKey:VendorODMID"`
}

// User model represents an account that can upload firmware or submit
// signed reports
type User struct {
	Model
	Username string `json:"username" gorm:"uniqueIndex;Column:username"`
	VendorID uint   `json:"vendor_id" gorm:"Column:vendor_id"`
	IsQA     bool   `json:"is_qa" gorm:"Column:is_qa"`
	IsAdmin  bool   `json:"is_admin" gorm:"Column:is_admin"`
}

// UserCertificate is a client certificate registered for report signing,
// looked up by serial number
type UserCertificate struct {
	Model
	UserID uint   `json:"user_id" gorm:"Column:user_id;index"`
	User   *User  `json:"-" gorm:"foreignKey:UserID"`
	Serial string `json:"serial" gorm:"uniqueIndex;Column:serial"`
	Text   string `json:"-" gorm:"Column:text;type:text"`
}

// Well-known remote names. Every vendor additionally gets one
// embargo-<group_id> remote at provisioning time.
const (
	RemotePrivate = "private"
	RemoteTesting = "testing"
	RemoteStable  = "stable"
	RemoteDeleted = "deleted"

	remoteEmbargoPrefix = "embargo-"
)

// Remote model represents a named publication target with its own
// catalog file and dirty state
type Remote struct {
	Model
	Name          string     `json:"name" gorm:"uniqueIndex;Column:name"`
	IsPublic      bool       `json:"is_public" gorm:"Column:is_public"`
	IsDirty       bool       `json:"is_dirty" gorm:"Column:is_dirty"`
	BuiltAt       *time.Time `json:"built_at" gorm:"Column:built_at"`
	Vendors       []Vendor   `json:"-" gorm:"foreignKey:RemoteID"`
	Firmware      []Firmware `json:"-" gorm:"foreignKey:RemoteID"`
}

// IsDeleted reports whether this is the deleted-firmware remote.
func (r *Remote) IsDeleted() bool {
	return r.Name == RemoteDeleted
}

// IsEmbargo reports whether this is a vendor embargo remote.
func (r *Remote) IsEmbargo() bool {
	return len(r.Name) > len(remoteEmbargoPrefix) && r.Name[:len(remoteEmbargoPrefix)] == remoteEmbargoPrefix
}

// IsSigned reports whether firmware on this remote gets signed catalogs.
func (r *Remote) IsSigned() bool {
	return r.Name != RemoteDeleted && r.Name != RemotePrivate
}

// Filename returns the catalog filename for this remote, or "" for the
// private remote which publishes nothing. Embargo catalog names carry a
// salted hash of the vendor group so they cannot be guessed.
func (r *Remote) Filename(vendorSalt string) string {
	switch r.Name {
	case RemoteStable:
		return "firmware.xml.gz"
	case RemoteTesting:
		return "firmware-testing.xml.gz"
	}
	if !r.IsEmbargo() {
		return ""
	}
	sum := sha1.Sum([]byte(vendorSalt + r.Name[len(remoteEmbargoPrefix):]))
	return "firmware-" + hex.EncodeToString(sum[:]) + ".xml.gz"
}

// EmbargoRemoteName returns the remote name for a vendor group.
func EmbargoRemoteName(groupID string) string {
	return remoteEmbargoPrefix + groupID
}

// Firmware model represents one uploaded and validated archive
type Firmware struct {
	Model
	Filename             string      `json:"filename" gorm:"Column:filename"`
	ChecksumUploadSHA1   string      `json:"checksum_upload_sha1" gorm:"Column:checksum_upload_sha1;index"`
	ChecksumUploadSHA256 string      `json:"checksum_upload_sha256" gorm:"uniqueIndex;Column:checksum_upload_sha256"`
	ChecksumSignedSHA1   string      `json:"checksum_signed_sha1" gorm:"Column:checksum_signed_sha1;index"`
	ChecksumSignedSHA256 string      `json:"checksum_signed_sha256" gorm:"Column:checksum_signed_sha256;index"`
	SignedAt             *time.Time  `json:"signed_at" gorm:"Column:signed_at"`
	VendorID             uint        `json:"vendor_id" gorm:"Column:vendor_id;index"`
	Vendor               *Vendor     `json:"vendor" gorm:"foreignKey:VendorID"`
	UserID               uint        `json:"user_id" gorm:"Column:user_id"`
	User                 *User       `json:"-" gorm:"foreignKey:UserID"`
	RemoteID             uint        `json:"remote_id" gorm:"Column:remote_id;index"`
	Remote               *Remote     `json:"remote" gorm:"foreignKey:RemoteID"`
	DoNotTrack           bool        `json:"do_not_track" gorm:"Column:do_not_track"`
	DownloadSize         int64       `json:"download_size" gorm:"Column:download_size"`
	DownloadCnt          uint        `json:"download_cnt" gorm:"Column:download_cnt"`
	ReportSuccessCnt     uint        `json:"report_success_cnt" gorm:"Column:report_success_cnt"`
	ReportFailureCnt     uint        `json:"report_failure_cnt" gorm:"Column:report_failure_cnt"`
	ReportIssueCnt       uint        `json:"report_issue_cnt" gorm:"Column:report_issue_cnt"`
	Components           []Component `json:"components" gorm:"foreignKey:FirmwareID"`
	Events               []FirmwareEvent `json:"-" gorm:"foreignKey:FirmwareID"`
}

// IsSigned reports whether the signing job has processed this firmware.
func (f *Firmware) IsSigned() bool {
	return f.SignedAt != nil
}

// FirmwareEvent is an audit row recording a remote change for a firmware
type FirmwareEvent struct {
	Model
	FirmwareID uint    `json:"firmware_id" gorm:"Column:firmware_id;index"`
	UserID     uint    `json:"user_id" gorm:"Column:user_id"`
	RemoteID   uint    `json:"remote_id" gorm:"Column:remote_id"`
	Remote     *Remote `json:"remote" gorm:"foreignKey:RemoteID"`
}

// Component model represents one firmware-update descriptor extracted
// from an archive
type Component struct {
	Model
	FirmwareID       uint          `json:"firmware_id" gorm:"Column:firmware_id;index"`
	AppstreamID      string        `json:"appstream_id" gorm:"Column:appstream_id;index"`
	Name             string        `json:"name" gorm:"Column:name"`
	Summary          string        `json:"summary" gorm:"Column:summary"`
	Description      string        `json:"description" gorm:"Column:description;type:text"`
	DeveloperName    string        `json:"developer_name" gorm:"Column:developer_name"`
	MetadataLicense  string        `json:"metadata_license" gorm:"Column:metadata_license"`
	ProjectLicense   string        `json:"project_license" gorm:"Column:project_license"`
	URLHomepage      string        `json:"url_homepage" gorm:"Column:url_homepage"`
	Priority         int           `json:"priority" gorm:"Column:priority"`
	Version          string        `json:"version" gorm:"Column:version"`
	VersionFormat    string        `json:"version_format" gorm:"Column:version_format"`
	UpdateProtocol   string        `json:"update_protocol" gorm:"Column:update_protocol"`
	ReleaseTimestamp int64         `json:"release_timestamp" gorm:"Column:release_timestamp"`
	ReleaseUrgency   string        `json:"release_urgency" gorm:"Column:release_urgency"`
	ReleaseTag       string        `json:"release_tag" gorm:"Column:release_tag"`
	ReleaseDescription string      `json:"release_description" gorm:"Column:release_description;type:text"`
	ReleaseIssues    string        `json:"release_issues" gorm:"Column:release_issues"`
	DetailsURL       string        `json:"details_url" gorm:"Column:details_url"`
	SourceURL        string        `json:"source_url" gorm:"Column:source_url"`
	FilenameContents string        `json:"filename_contents" gorm:"Column:filename_contents"`
	FilenameXML      string        `json:"filename_xml" gorm:"Column:filename_xml"`
	ChecksumContentsSHA1   string  `json:"checksum_contents_sha1" gorm:"Column:checksum_contents_sha1"`
	ChecksumContentsSHA256 string  `json:"checksum_contents_sha256" gorm:"Column:checksum_contents_sha256"`
	InstalledSize    int64         `json:"installed_size" gorm:"Column:installed_size"`
	InhibitDownload  bool          `json:"inhibit_download" gorm:"Column:inhibit_download"`
	Guids            []Guid        `json:"guids" gorm:"foreignKey:ComponentID"`
	Requirements     []Requirement `json:"requirements" gorm:"foreignKey:ComponentID"`
	DeviceChecksums  []DeviceChecksum `json:"device_checksums" gorm:"foreignKey:ComponentID"`
}

// Guid is one device GUID provided by a component
type Guid struct {
	Model
	ComponentID uint   `json:"component_id" gorm:"Column:component_id;index"`
	Value       string `json:"value" gorm:"Column:value;index"`
}

// Requirement is a typed comparator rule a component places on the
// installing client
type Requirement struct {
	Model
	ComponentID uint   `json:"component_id" gorm:"Column:component_id;index"`
	Kind        string `json:"kind" gorm:"Column:kind"`
	Value       string `json:"value" gorm:"Column:value"`
	Compare     string `json:"compare" gorm:"Column:compare"`
	Version     string `json:"version" gorm:"Column:version"`
	Depth       string `json:"depth" gorm:"Column:depth"`
}

// DeviceChecksum is a trusted digest the device reports for an installed
// payload
type DeviceChecksum struct {
	Model
	ComponentID uint   `json:"component_id" gorm:"Column:component_id;index"`
	Kind        string `json:"kind" gorm:"Column:kind"`
	Value       string `json:"value" gorm:"Column:value"`
}
