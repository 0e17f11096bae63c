package appstream

import (
	"bytes"
	"compress/gzip"
	"sort"
	"strconv"
	"strings"

	"example.com/backstage/services/firmware/internal/vercmp"
)

// CatalogComponent pairs a parsed component with the payload data only
// known after validation.
type CatalogComponent struct {
	Component      *Component
	ContentsSHA1   string
	ContentsSHA256 string
	InstalledSize  int64
}

// CatalogFirmware is one firmware eligible for a catalog.
type CatalogFirmware struct {
	Filename         string
	SignedSHA1       string
	SignedSHA256     string
	DownloadSize     int64
	VendorRestricted bool
	VendorIDs        []string
	Components       []*CatalogComponent
}

type catalogEntry struct {
	fw *CatalogFirmware
	md *CatalogComponent
}

// maximum releases listed per component to keep the catalog size sane
const maxReleasesPerComponent = 5

// GenerateCatalog serializes the eligible firmware set into compressed
// catalog XML. Output is deterministic for a given input set: components
// sort by identifier, releases by version descending.
func GenerateCatalog(fws []*CatalogFirmware, baseURI string) ([]byte, error) {
	root := NewNode("components")
	root.SetAttr("origin", "lvfs")
	root.SetAttr("version", "0.9")

	groups := map[string][]catalogEntry{}
	for _, fw := range fws {
		for _, md := range fw.Components {
			id := md.Component.AppstreamID
			groups[id] = append(groups[id], catalogEntry{fw, md})
		}
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entries := groups[id]
		sort.SliceStable(entries, func(i, j int) bool {
			rc, err := vercmp.Compare(entries[i].md.Component.Release.Version,
				entries[j].md.Component.Release.Version)
			if err != nil {
				return entries[i].md.Component.Release.Version > entries[j].md.Component.Release.Version
			}
			return rc > 0
		})
		if len(entries) > maxReleasesPerComponent {
			entries = entries[:maxReleasesPerComponent]
		}
		component, err := generateComponent(entries, baseURI)
		if err != nil {
			return nil, err
		}
		root.Add(component)
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(root.Serialize()); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// generateComponent emits one <component> for a set of releases sharing
// an identifier; shared fields come from the newest release.
func generateComponent(entries []catalogEntry, baseURI string) (*Node, error) {
	md := entries[0].md.Component
	component := NewNode("component")
	component.SetAttr("type", "firmware")
	for _, e := range entries {
		if e.md.Component.Priority != 0 {
			component.SetAttr("priority", strconv.Itoa(e.md.Component.Priority))
		}
	}
	component.AddText("id", md.AppstreamID)
	component.AddText("name", md.Name)
	component.AddText("summary", md.Summary)
	if md.Description != "" {
		component.Add(DescriptionFromMarkdown(md.Description))
	}

	// provides shared by all releases
	guidSet := map[string]bool{}
	for _, e := range entries {
		for _, guid := range e.md.Component.Guids {
			guidSet[guid] = true
		}
	}
	if len(guidSet) > 0 {
		guids := make([]string, 0, len(guidSet))
		for guid := range guidSet {
			guids = append(guids, guid)
		}
		sort.Strings(guids)
		provides := component.Add(NewNode("provides"))
		for _, guid := range guids {
			provides.AddText("firmware", guid).SetAttr("type", "flashed")
		}
	}

	if md.URLHomepage != "" {
		component.AddText("url", md.URLHomepage).SetAttr("type", "homepage")
	}
	if md.MetadataLicense != "" {
		component.AddText("metadata_license", md.MetadataLicense)
	}
	component.AddText("project_license", md.ProjectLicense)
	component.AddText("developer_name", md.DeveloperName)

	// custom values shared by all releases
	type kv struct{ key, value string }
	var customs []kv
	for _, e := range entries {
		if e.md.Component.InhibitDownload {
			customs = append(customs, kv{"LVFS::InhibitDownload", ""})
			break
		}
	}
	for _, e := range entries {
		if e.md.Component.VersionFormat != "" {
			customs = append(customs, kv{"LVFS::VersionFormat", e.md.Component.VersionFormat})
			break
		}
	}
	for _, e := range entries {
		if e.md.Component.UpdateProtocol != "" {
			customs = append(customs, kv{"LVFS::UpdateProtocol", e.md.Component.UpdateProtocol})
			break
		}
	}
	if len(customs) > 0 {
		custom := component.Add(NewNode("custom"))
		for _, c := range customs {
			custom.AddText("value", c.value).SetAttr("key", c.key)
		}
	}

	releases := component.Add(NewNode("releases"))
	for _, e := range entries {
		if e.md.Component.Release.Version == "" {
			continue
		}
		if err := generateRelease(releases, e, baseURI); err != nil {
			return nil, err
		}
	}

	// requires: injected vendor-id rules, then per-release rules, then
	// one combined hardware rule
	var requires []*Node
	for _, e := range entries {
		if !e.fw.VendorRestricted {
			continue
		}
		child := NewNode("firmware")
		child.Text = "vendor-id"
		if len(e.fw.VendorIDs) == 0 {
			// restricted vendor with no declared IDs can never match
			child.SetAttr("compare", "eq")
			child.SetAttr("version", "XXX:NEVER_GOING_TO_MATCH")
		} else if len(e.fw.VendorIDs) == 1 {
			child.SetAttr("compare", "eq")
			child.SetAttr("version", e.fw.VendorIDs[0])
		} else {
			child.SetAttr("compare", "regex")
			child.SetAttr("version", strings.Join(e.fw.VendorIDs, "|"))
		}
		requires = append(requires, child)
	}
	for _, e := range entries {
		for _, rq := range e.md.Component.Requirements {
			if rq.Kind == "hardware" {
				continue
			}
			child := NewNode(rq.Kind)
			child.Text = rq.Value
			if rq.Compare != "" {
				child.SetAttr("compare", rq.Compare)
			}
			if rq.Version != "" {
				child.SetAttr("version", rq.Version)
			}
			if rq.Depth != "" {
				child.SetAttr("depth", rq.Depth)
			}
			requires = append(requires, child)
		}
	}
	var hws []string
	for _, e := range entries {
		for _, rq := range e.md.Component.Requirements {
			if rq.Kind == "hardware" && !contains(hws, rq.Value) {
				hws = append(hws, rq.Value)
			}
		}
	}
	if len(hws) > 0 {
		child := NewNode("hardware")
		child.Text = strings.Join(hws, "|")
		requires = append(requires, child)
	}
	if len(requires) > 0 {
		parent := component.Add(NewNode("requires"))
		for _, r := range requires {
			parent.Add(r)
		}
	}
	return component, nil
}

func generateRelease(releases *Node, e catalogEntry, baseURI string) error {
	rel := releases.Add(NewNode("release"))
	r := e.md.Component.Release
	rel.SetAttr("version", r.Version)
	if r.Timestamp != 0 {
		rel.SetAttr("timestamp", strconv.FormatInt(r.Timestamp, 10))
	}
	if r.Urgency != "" && r.Urgency != "unknown" {
		rel.SetAttr("urgency", r.Urgency)
	}
	if r.Tag != "" {
		rel.SetAttr("tag", r.Tag)
	}
	rel.AddText("location", baseURI+e.fw.Filename)

	// container checksums are only valid once signed
	if e.fw.SignedSHA1 != "" {
		rel.AddText("checksum", e.fw.SignedSHA1).
			SetAttr("type", "sha1").
			SetAttr("filename", e.fw.Filename).
			SetAttr("target", "container")
	}
	if e.fw.SignedSHA256 != "" {
		rel.AddText("checksum", e.fw.SignedSHA256).
			SetAttr("type", "sha256").
			SetAttr("filename", e.fw.Filename).
			SetAttr("target", "container")
	}
	if e.md.ContentsSHA1 != "" {
		rel.AddText("checksum", e.md.ContentsSHA1).
			SetAttr("type", "sha1").
			SetAttr("filename", r.FilenameContents).
			SetAttr("target", "content")
	}
	if e.md.ContentsSHA256 != "" {
		rel.AddText("checksum", e.md.ContentsSHA256).
			SetAttr("type", "sha256").
			SetAttr("filename", r.FilenameContents).
			SetAttr("target", "content")
	}
	for _, csum := range r.DeviceChecksums {
		rel.AddText("checksum", csum.Value).
			SetAttr("type", strings.ToLower(csum.Kind)).
			SetAttr("target", "device")
	}

	if r.Description != "" {
		markdown := r.Description
		if len(r.Issues) > 0 {
			markdown += "\nSecurity issues fixed:\n"
			for _, issue := range r.Issues {
				markdown += " * " + issue + "\n"
			}
		}
		rel.Add(DescriptionFromMarkdown(markdown))
	}

	if r.DetailsURL != "" {
		rel.AddText("url", r.DetailsURL).SetAttr("type", "details")
	}
	if r.SourceURL != "" {
		rel.AddText("url", r.SourceURL).SetAttr("type", "source")
	}
	if e.md.InstalledSize != 0 {
		rel.AddText("size", strconv.FormatInt(e.md.InstalledSize, 10)).SetAttr("type", "installed")
	}
	if e.fw.DownloadSize != 0 {
		rel.AddText("size", strconv.FormatInt(e.fw.DownloadSize, 10)).SetAttr("type", "download")
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
