package models

import (
	"regexp"
	"sort"
	"strings"

	"example.com/backstage/services/firmware/internal/vercmp"
)

// UpdateState is the client-reported outcome of a firmware update
type UpdateState int

const (
	// UpdateStateUnknown represents an unknown update outcome
	UpdateStateUnknown UpdateState = 0
	// UpdateStatePending represents an update staged but not applied
	UpdateStatePending UpdateState = 1
	// UpdateStateSuccess represents a successfully applied update
	UpdateStateSuccess UpdateState = 2
	// UpdateStateFailed represents a failed update
	UpdateStateFailed UpdateState = 3
	// UpdateStateNeedsReboot represents an update waiting on a reboot
	UpdateStateNeedsReboot UpdateState = 4
)

// Report is a deduplicated telemetry record keyed by payload checksum
// and machine identifier
type Report struct {
	Model
	Timestamp  int64             `json:"timestamp" gorm:"Column:timestamp"`
	MachineID  string            `json:"machine_id" gorm:"Column:machine_id;index:idx_reports_checksum_machine"`
	Checksum   string            `json:"checksum" gorm:"Column:checksum;index:idx_reports_checksum_machine"`
	FirmwareID uint              `json:"firmware_id" gorm:"Column:firmware_id;index"`
	Firmware   *Firmware         `json:"-" gorm:"foreignKey:FirmwareID"`
	State      UpdateState       `json:"state" gorm:"Column:state"`
	UserID     *uint             `json:"user_id" gorm:"Column:user_id"`
	IssueID    *uint             `json:"issue_id" gorm:"Column:issue_id"`
	Issue      *Issue            `json:"-" gorm:"foreignKey:IssueID"`
	Attributes []ReportAttribute `json:"attributes" gorm:"foreignKey:ReportID"`
}

// ReportAttribute is one flattened key/value pair of a report
type ReportAttribute struct {
	Model
	ReportID uint   `json:"report_id" gorm:"Column:report_id;index"`
	Key      string `json:"key" gorm:"Column:key"`
	Value    string `json:"value" gorm:"Column:value;type:text"`
}

// Issue is a named, prioritized, vendor-scoped failure classification
// rule owning an ordered set of conditions
type Issue struct {
	Model
	Priority    int         `json:"priority" gorm:"Column:priority"`
	Enabled     bool        `json:"enabled" gorm:"Column:enabled"`
	VendorID    uint        `json:"vendor_id" gorm:"Column:vendor_id"`
	URL         string      `json:"url" gorm:"Column:url"`
	Name        string      `json:"name" gorm:"Column:name"`
	Description string      `json:"description" gorm:"Column:description;type:text"`
	Conditions  []Condition `json:"conditions" gorm:"foreignKey:IssueID;constraint:OnDelete:CASCADE"`
}

// Matches reports whether every condition is satisfied by the attribute
// set. Conditions are evaluated cheapest comparator first.
func (i *Issue) Matches(data map[string]string) bool {
	conditions := make([]Condition, len(i.Conditions))
	copy(conditions, i.Conditions)
	sort.SliceStable(conditions, func(a, b int) bool {
		return conditions[a].relativeCost() < conditions[b].relativeCost()
	})
	for _, condition := range conditions {
		value, ok := data[condition.Key]
		if !ok {
			return false
		}
		if !condition.Matches(value) {
			return false
		}
	}
	return true
}

// Condition is one typed comparator rule of an issue
type Condition struct {
	Model
	IssueID uint   `json:"issue_id" gorm:"Column:issue_id;index"`
	Key     string `json:"key" gorm:"Column:key"`
	Value   string `json:"value" gorm:"Column:value"`
	Compare string `json:"compare" gorm:"Column:compare;default:eq"`
}

// Matches evaluates the comparator against a report attribute value.
func (c *Condition) Matches(value string) bool {
	switch c.Compare {
	case "eq":
		return value == c.Value
	case "lt", "le", "gt", "ge":
		rc, err := vercmp.Compare(value, c.Value)
		if err != nil {
			return false
		}
		switch c.Compare {
		case "lt":
			return rc < 0
		case "le":
			return rc <= 0
		case "gt":
			return rc > 0
		default:
			return rc >= 0
		}
	case "glob":
		return globMatch(c.Value, value)
	case "regex":
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	}
	return false
}

// globMatch matches with shell-style wildcards where * and ? also span
// path separators, unlike path.Match. Attribute values are opaque
// strings, a / in them carries no structure.
func globMatch(pattern, value string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// relativeCost orders condition evaluation so cheap comparators run
// before globs and regexes.
func (c *Condition) relativeCost() int {
	switch c.Compare {
	case "eq":
		return 0
	case "lt", "le", "gt", "ge":
		return 1
	case "glob":
		return 5
	case "regex":
		return 10
	}
	return 100
}

// Event is an operator-visible event log row
type Event struct {
	Model
	UserID      uint   `json:"user_id" gorm:"Column:user_id"`
	VendorID    uint   `json:"vendor_id" gorm:"Column:vendor_id"`
	Address     string `json:"address" gorm:"Column:address"`
	Request     string `json:"request" gorm:"Column:request"`
	Message     string `json:"message" gorm:"Column:message;type:text"`
	IsImportant bool   `json:"is_important" gorm:"Column:is_important"`
}
