package appstream

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is a descriptor validation failure with a reason shown to
// the uploader.
type ErrInvalid struct {
	Reason string
}

func (e *ErrInvalid) Error() string {
	return e.Reason
}

func invalidf(format string, args ...interface{}) error {
	return &ErrInvalid{Reason: fmt.Sprintf(format, args...)}
}

// VersionFormats is the closed set of accepted LVFS::VersionFormat
// values and how a raw integer version is displayed for each.
var VersionFormats = map[string]bool{
	"plain":     true,
	"number":    true,
	"pair":      true,
	"triplet":   true,
	"quad":      true,
	"bcd":       true,
	"intel-me":  true,
	"intel-me2": true,
	"dell-bios": true,
	"hex":       true,
}

// UpdateProtocols is the closed set of accepted LVFS::UpdateProtocol
// values.
var UpdateProtocols = map[string]bool{
	"org.uefi.capsule":          true,
	"org.flashrom":              true,
	"org.dfu":                   true,
	"com.hughski.colorhug":      true,
	"com.dell.dock":             true,
	"org.usb.dfu":               true,
	"com.synaptics.mst":         true,
	"com.intel.thunderbolt":     true,
	"org.altusmetrum.altos":     true,
	"com.8bitdo":                true,
	"com.google.fastboot":       true,
	"org.vli.i2c":               true,
	"com.realtek.rts54":         true,
	"com.st.dfuse":              true,
	"com.qualcomm.dfu":          true,
}

// GUIDs too generic to identify one device model.
var genericGuids = map[string]string{
	"230c8b18-8d9b-53ec-838b-6cfc0383493a": "main-system-firmware",
	"f15aa55c-9cd5-5942-85ae-a6bf8740b96c": "MST-panamera",
	"d6072785-6fc0-5f83-9d49-11376e7f48b1": "MST-leaf",
	"49ec4eb4-c02b-58fc-8935-b1ee182405c7": "MST-tesla",
}

var metadataLicenses = map[string]bool{
	"CC0-1.0": true, "FSFAP": true,
	"CC-BY-3.0": true, "CC-BY-SA-3.0": true,
	"CC-BY-4.0": true, "CC-BY-SA-4.0": true,
	"GFDL-1.1": true, "GFDL-1.2": true, "GFDL-1.3": true,
}

// children accepted inside <component>; anything else fails the parse
var componentVocabulary = map[string]bool{
	"id": true, "name": true, "name_variant_suffix": true, "summary": true,
	"description": true, "developer_name": true, "metadata_license": true,
	"project_license": true, "url": true, "keywords": true, "provides": true,
	"requires": true, "screenshots": true, "custom": true,
	"categories": true, "releases": true,
}

// Requirement is a typed comparator rule from <requires>.
type Requirement struct {
	Kind    string
	Value   string
	Compare string
	Version string
	Depth   string
}

// DeviceChecksum is a trusted device-reported payload digest.
type DeviceChecksum struct {
	Kind  string
	Value string
}

// Release is the default (first) release of a component.
type Release struct {
	Version          string
	Timestamp        int64
	Urgency          string
	Tag              string
	Description      string
	InstallDuration  int
	DetailsURL       string
	SourceURL        string
	DeviceChecksums  []DeviceChecksum
	Issues           []string
	FilenameContents string
}

// Component is the canonical in-memory model of one firmware-update
// descriptor.
type Component struct {
	AppstreamID       string
	Name              string
	NameVariantSuffix string
	Summary           string
	Description       string
	DeveloperName     string
	MetadataLicense   string
	ProjectLicense    string
	URLHomepage       string
	Priority          int
	Guids             []string
	Requirements      []Requirement
	Keywords          []string
	Categories        []string
	VersionFormat     string
	UpdateProtocol    string
	InhibitDownload   bool
	DoNotTrack        bool
	Release           Release
}

func isHex(chunk string) bool {
	if chunk == "" {
		return false
	}
	_, err := strconv.ParseUint(chunk, 16, 64)
	return err == nil
}

// ValidGuid reports whether s is a lowercase hyphenated GUID.
func ValidGuid(s string) bool {
	if s == "" || s != strings.ToLower(s) {
		return false
	}
	split := strings.Split(s, "-")
	if len(split) != 5 {
		return false
	}
	lens := []int{8, 4, 4, 4, 12}
	for i, chunk := range split {
		if len(chunk) != lens[i] || !isHex(chunk) {
			return false
		}
	}
	return true
}

// nodeText validates an element's text content: length bounds, no markup
// tags, optionally no hyperlinks. A <description> node is unwrapped to
// Markdown first.
func nodeText(n *Node, minlen, maxlen int, nourl bool) (string, error) {
	var text string
	if n.Tag == "description" {
		md, err := MarkdownFromDescription(n)
		if err != nil {
			return "", invalidf("<description> is invalid: %v", err)
		}
		text = md
	} else {
		text = strings.TrimSpace(n.Text)
		for _, tag := range []string{"<p>", "<li>", "<ul>", "<ol>"} {
			if strings.Contains(text, tag) {
				return "", invalidf("%s cannot specify markup tag %s", n.Tag, tag)
			}
		}
	}
	if text == "" {
		return "", invalidf("%s has no value", n.Tag)
	}

	// <name> can be split for multiple models
	parts := []string{text}
	if n.Tag == "name" {
		parts = strings.Split(text, "/")
	}
	for _, part := range parts {
		if minlen > 0 && len(part) < minlen {
			return "", invalidf("<%s> is too short: %d/%d", n.Tag, len(part), minlen)
		}
		if maxlen > 0 && len(part) > maxlen {
			return "", invalidf("<%s> is too long: %d/%d", n.Tag, len(part), maxlen)
		}
	}
	if nourl {
		for _, scheme := range []string{"http://", "https://", "ftp://"} {
			if strings.Contains(text, scheme) {
				return "", invalidf("%s cannot contain a hyperlink: %s", n.Tag, text)
			}
		}
	}
	return text, nil
}

// ParseComponent validates a descriptor document and extracts the
// component model. Every failure is an *ErrInvalid naming the offending
// field.
func ParseComponent(buf []byte) (*Component, error) {
	if strings.Contains(string(buf), "FIXME") {
		return nil, invalidf("The metadata file was not complete; " +
			"Any FIXME text must be replaced with the correct values.")
	}
	if len(buf) >= 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return nil, invalidf("The metadata file has a UTF-8 BOM that must be removed")
	}
	root, err := ParseNode(buf)
	if err != nil {
		return nil, invalidf("The metadata file could not be parsed: %v", err)
	}
	if root.Tag != "component" {
		return nil, invalidf("<component> tag missing")
	}
	return parseComponentNode(root)
}

func parseComponentNode(root *Node) (*Component, error) {
	if root.Attr("type") != "firmware" {
		return nil, invalidf(`<component type="firmware"> required`)
	}
	for _, c := range root.Children {
		if !componentVocabulary[c.Tag] {
			return nil, invalidf("<%s> is not a valid component element", c.Tag)
		}
	}

	md := &Component{}
	if p := root.Attr("priority"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, invalidf("component priority attribute invalid")
		}
		md.Priority = v
	}

	// <id>
	idNode := root.First("id")
	if idNode == nil {
		return nil, invalidf("<id> tag missing")
	}
	appstreamID, err := nodeText(idNode, 10, 256, false)
	if err != nil {
		return nil, err
	}
	for _, r := range appstreamID {
		switch {
		case r == ' ' || r == '\t':
			return nil, invalidf("<id> Cannot contain spaces")
		case r == '/' || r == '\\':
			return nil, invalidf("<id> Cannot contain slashes")
		case r == '-' || r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return nil, invalidf("<id> Cannot contain %c", r)
		}
	}
	if len(strings.Split(appstreamID, ".")) < 4 {
		return nil, invalidf("<id> Should contain at least 4 sections to identify the model")
	}
	md.AppstreamID = appstreamID

	// <developer_name>
	devNode := root.First("developer_name")
	if devNode == nil {
		return nil, invalidf("<developer_name> tag missing")
	}
	if md.DeveloperName, err = nodeText(devNode, 3, 50, true); err != nil {
		return nil, err
	}
	if strings.Contains(md.DeveloperName, "@") || strings.Contains(md.DeveloperName, "_at_") {
		return nil, invalidf("<developer_name> cannot contain an email address")
	}

	// <name>
	nameNode := root.First("name")
	if nameNode == nil {
		return nil, invalidf("<name> tag missing")
	}
	if md.Name, err = nodeText(nameNode, 3, 500, false); err != nil {
		return nil, err
	}
	if err := checkNameWords(md.Name); err != nil {
		return nil, err
	}

	// <summary>
	summaryNode := root.First("summary")
	if summaryNode == nil {
		return nil, invalidf("<summary> tag missing")
	}
	if md.Summary, err = nodeText(summaryNode, 10, 500, false); err != nil {
		return nil, err
	}

	if n := root.First("name_variant_suffix"); n != nil {
		if md.NameVariantSuffix, err = nodeText(n, 2, 500, false); err != nil {
			return nil, err
		}
	}
	if n := root.First("description"); n != nil {
		if md.Description, err = nodeText(n, 25, 1000, true); err != nil {
			return nil, err
		}
	}

	// <metadata_license>
	licNode := root.First("metadata_license")
	if licNode == nil {
		return nil, invalidf("<metadata_license> tag missing")
	}
	if md.MetadataLicense, err = nodeText(licNode, 0, 0, false); err != nil {
		return nil, err
	}
	if !metadataLicenses[md.MetadataLicense] {
		return nil, invalidf("Invalid <metadata_license> tag of %s", md.MetadataLicense)
	}

	// <project_license>
	projNode := root.First("project_license")
	if projNode == nil {
		return nil, invalidf("<project_license> tag missing")
	}
	if md.ProjectLicense, err = nodeText(projNode, 4, 50, true); err != nil {
		return nil, err
	}

	// <url type="homepage">
	urlNode := root.FirstWithAttr("url", "type", "homepage")
	if urlNode == nil {
		return nil, invalidf(`<url type="homepage"> tag missing`)
	}
	if md.URLHomepage, err = nodeText(urlNode, 7, 1000, false); err != nil {
		return nil, err
	}

	// <keywords>
	if kws := root.First("keywords"); kws != nil {
		for _, kw := range kws.All("keyword") {
			text, err := nodeText(kw, 3, 50, true)
			if err != nil {
				return nil, err
			}
			if strings.Contains(text, " ") {
				return nil, invalidf("<keywords> cannot contain spaces")
			}
			md.Keywords = append(md.Keywords, text)
		}
	}

	// <provides>
	if prov := root.First("provides"); prov != nil {
		for _, fw := range prov.Children {
			if fw.Tag != "firmware" || fw.Attr("type") != "flashed" {
				continue
			}
			text, err := nodeText(fw, 5, 1000, false)
			if err != nil {
				return nil, err
			}
			if !ValidGuid(text) {
				return nil, invalidf("The GUID %s was invalid.", text)
			}
			if _, ok := genericGuids[text]; ok {
				return nil, invalidf("The GUID %s is too generic", text)
			}
			md.Guids = append(md.Guids, text)
		}
	}
	if len(md.Guids) == 0 {
		return nil, invalidf("The metadata file did not provide any GUID.")
	}

	// <requires>
	if err := parseRequires(root, md); err != nil {
		return nil, err
	}

	// <custom> values
	if err := parseCustom(root, md); err != nil {
		return nil, err
	}

	// <categories>
	if cats := root.First("categories"); cats != nil {
		for _, cat := range cats.All("category") {
			text, err := nodeText(cat, 8, 50, true)
			if err != nil {
				return nil, err
			}
			md.Categories = append(md.Categories, text)
		}
	}

	// default (first) release
	releases := root.First("releases")
	if releases == nil || releases.First("release") == nil {
		return nil, invalidf("The metadata file did not provide any releases")
	}
	if err := parseRelease(releases.First("release"), &md.Release); err != nil {
		return nil, err
	}

	// an integer version is ambiguous without a declared format
	if md.Release.Version != "" && isAllDigits(md.Release.Version) && md.VersionFormat == "" {
		return nil, invalidf("LVFS::VersionFormat is required for integer version")
	}
	return md, nil
}

// checkNameWords enforces the naming policy: no category words, no
// boilerplate tokens.
func checkNameWords(name string) error {
	categoryHints := map[string]string{
		"system":     "X-System",
		"device":     "X-Device",
		"bios":       "X-System",
		"me":         "X-ManagementEngine",
		"embedded":   "X-EmbeddedController",
		"controller": "X-EmbeddedController",
	}
	words := map[string]bool{}
	for _, w := range strings.Split(name, " ") {
		words[strings.ToLower(w)] = true
	}
	for search, category := range categoryHints {
		if words[search] {
			return invalidf("<name> tag should not contain %s, use "+
				"<categories><category>%s</category></categories> instead",
				search, category)
		}
	}
	for _, search := range []string{"firmware", "update", "(r)", "(c)"} {
		if words[search] {
			return invalidf(`<name> tag should not contain the word "%s"`, search)
		}
	}
	return nil
}

func parseRequires(root *Node, md *Component) error {
	requires := root.First("requires")
	if requires == nil {
		return nil
	}
	for _, req := range requires.Children {
		switch req.Tag {
		case "firmware":
			text := strings.TrimSpace(req.Text)
			// working around the vendor-id checks is not allowed
			if text == "vendor-id" {
				return invalidf("Firmware cannot specify vendor-id")
			}
			if text != "" {
				if _, err := nodeText(req, 3, 1000, false); err != nil {
					return err
				}
			}
			md.Requirements = append(md.Requirements, Requirement{
				Kind:    req.Tag,
				Value:   text,
				Compare: req.Attr("compare"),
				Version: req.Attr("version"),
				Depth:   req.Attr("depth"),
			})
		case "id":
			text, err := nodeText(req, 3, 1000, false)
			if err != nil {
				return err
			}
			md.Requirements = append(md.Requirements, Requirement{
				Kind:    req.Tag,
				Value:   text,
				Compare: req.Attr("compare"),
				Version: req.Attr("version"),
			})
		case "hardware":
			text, err := nodeText(req, 3, 1000, false)
			if err != nil {
				return err
			}
			for _, value := range strings.Split(text, "|") {
				md.Requirements = append(md.Requirements, Requirement{
					Kind:    req.Tag,
					Value:   value,
					Compare: req.Attr("compare"),
					Version: req.Attr("version"),
				})
			}
		default:
			return invalidf("<%s> requirement was invalid", req.Tag)
		}
	}
	return nil
}

func parseCustom(root *Node, md *Component) error {
	custom := root.First("custom")
	if custom == nil {
		return nil
	}
	if custom.FirstWithAttr("value", "key", "LVFS::InhibitDownload") != nil {
		md.InhibitDownload = true
	}
	if custom.FirstWithAttr("value", "key", "LVFS::DoNotTrack") != nil {
		md.DoNotTrack = true
	}
	if n := custom.FirstWithAttr("value", "key", "LVFS::VersionFormat"); n != nil {
		text, err := nodeText(n, 0, 0, false)
		if err != nil {
			return err
		}
		if !VersionFormats[text] {
			return invalidf("LVFS::VersionFormat can only be %s", joinSortedKeys(VersionFormats))
		}
		md.VersionFormat = text
	}
	if n := custom.FirstWithAttr("value", "key", "LVFS::UpdateProtocol"); n != nil {
		text, err := nodeText(n, 0, 0, false)
		if err != nil {
			return err
		}
		if !UpdateProtocols[text] {
			return invalidf("No valid UpdateProtocol %s found", text)
		}
		md.UpdateProtocol = text
	}
	return nil
}

func parseRelease(rel *Node, out *Release) error {
	if desc := rel.First("description"); desc != nil {
		text, err := nodeText(desc, 3, 1000, true)
		if err != nil {
			return err
		}
		out.Description = text
	}
	if d := rel.Attr("install_duration"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil {
			return invalidf("<release> has invalid install_duration attribute")
		}
		out.InstallDuration = v
	}
	out.Urgency = rel.Attr("urgency")

	// date, falling back to timestamp
	switch {
	case rel.Attr("date") != "":
		dt, err := time.Parse("2006-01-02", rel.Attr("date"))
		if err != nil {
			return invalidf("<release> has invalid date attribute: %v", err)
		}
		out.Timestamp = dt.UTC().Unix()
	case rel.Attr("timestamp") != "":
		ts, err := strconv.ParseInt(rel.Attr("timestamp"), 10, 64)
		if err != nil {
			return invalidf("<release> has invalid timestamp attribute: %v", err)
		}
		out.Timestamp = ts
	default:
		return invalidf("<release> had no date or timestamp attributes")
	}

	if tag := rel.Attr("tag"); tag != "" {
		if len(tag) < 4 {
			return invalidf("<release> tag was too short to identify the firmware")
		}
		out.Tag = tag
	}

	if issues := rel.First("issues"); issues != nil {
		for _, issue := range issues.All("issue") {
			kind := issue.Attr("type")
			if kind == "" {
				return invalidf("<issue> had no type attribute")
			}
			if kind != "cve" {
				return invalidf("<issue> type can only be 'cve'")
			}
			text, err := nodeText(issue, 3, 1000, true)
			if err != nil {
				return err
			}
			out.Issues = append(out.Issues, text)
		}
	}

	if n := rel.FirstWithAttr("url", "type", "details"); n != nil {
		text, err := nodeText(n, 12, 1000, false)
		if err != nil {
			return err
		}
		out.DetailsURL = text
	}
	if n := rel.FirstWithAttr("url", "type", "source"); n != nil {
		text, err := nodeText(n, 12, 1000, false)
		if err != nil {
			return err
		}
		out.SourceURL = text
	}

	// hex versions normalize to decimal
	version := rel.Attr("version")
	if version == "" {
		return invalidf("<release> had no version attribute")
	}
	if strings.HasPrefix(version, "0x") {
		v, err := strconv.ParseUint(version[2:], 16, 64)
		if err != nil {
			return invalidf("<release> had invalid hex version attribute")
		}
		version = strconv.FormatUint(v, 10)
	}
	out.Version = version

	// there is always a contents filename
	if n := rel.FirstWithAttr("checksum", "target", "content"); n != nil {
		out.FilenameContents = n.Attr("filename")
	}
	if out.FilenameContents == "" {
		out.FilenameContents = "firmware.bin"
	}

	for _, csum := range rel.All("checksum") {
		if csum.Attr("target") != "device" {
			continue
		}
		text, err := nodeText(csum, 32, 128, false)
		if err != nil {
			return err
		}
		switch csum.Attr("kind") {
		case "sha1":
			out.DeviceChecksums = append(out.DeviceChecksums, DeviceChecksum{Kind: "SHA1", Value: text})
		case "sha256":
			out.DeviceChecksums = append(out.DeviceChecksums, DeviceChecksum{Kind: "SHA256", Value: text})
		}
	}
	return nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func joinSortedKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
