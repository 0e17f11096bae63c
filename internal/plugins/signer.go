package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"

	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/utils"
)

const (
	detachedSuffix = ".p7b"
	catalogSuffix  = ".asc"
)

// DetachedSigner signs archive members and published catalog files with
// detached ECDSA signatures. Archive members get a sibling
// "<name>.p7b" member, catalog files a sibling "<path>.asc" file.
type DetachedSigner struct {
	keys *utils.SigningKeyPair
}

// NewDetachedSigner creates a signer around a loaded key pair
func NewDetachedSigner(keys *utils.SigningKeyPair) *DetachedSigner {
	return &DetachedSigner{keys: keys}
}

// Name implements the plugin interfaces
func (s *DetachedSigner) Name() string {
	return "signer"
}

// SignArchive adds a detached-signature member for every payload and
// descriptor member that does not already carry one. Re-running on a
// signed archive is a no-op, which is what makes the signing job
// idempotent.
func (s *DetachedSigner) SignArchive(_ context.Context, arc *cabarchive.Archive) (bool, error) {
	modified := false
	for _, f := range arc.Files() {
		if strings.HasSuffix(f.Name, detachedSuffix) {
			continue
		}
		sigName := f.Name + detachedSuffix
		if arc.Get(sigName) != nil {
			continue
		}
		sig, err := utils.SignDetached(s.keys, f.Buf)
		if err != nil {
			return modified, fmt.Errorf("failed to sign member %s: %w", f.Name, err)
		}
		arc.Add(&cabarchive.File{Name: sigName, Buf: []byte(sig)})
		modified = true
	}
	return modified, nil
}

// FileModified writes a detached signature next to a freshly published
// catalog file
func (s *DetachedSigner) FileModified(_ context.Context, path string) error {
	if !strings.HasSuffix(path, ".xml.gz") {
		return nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read published file: %w", err)
	}
	sig, err := utils.SignDetached(s.keys, buf)
	if err != nil {
		return fmt.Errorf("failed to sign published file: %w", err)
	}
	if err := os.WriteFile(path+catalogSuffix, []byte(sig), 0644); err != nil {
		return fmt.Errorf("failed to write signature file: %w", err)
	}
	return nil
}
