// Package plugins holds the typed hook points the pipeline calls into:
// signing of archive members, notification when a published file changes
// on disk, and content tests run against uploads. Plugins register on a
// Chain which the services hold.
package plugins

import (
	"context"

	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/models"
)

// FileModifiedHandler is notified after a published file has been
// written or rewritten on disk.
type FileModifiedHandler interface {
	Name() string
	FileModified(ctx context.Context, path string) error
}

// ArchiveSigner adds signature members to a firmware archive. It returns
// whether the archive was modified.
type ArchiveSigner interface {
	Name() string
	SignArchive(ctx context.Context, arc *cabarchive.Archive) (bool, error)
}

// TestProvider inspects an uploaded archive and returns an error when
// the content must be rejected.
type TestProvider interface {
	Name() string
	RunTest(ctx context.Context, fw *models.Firmware, arc *cabarchive.Archive) error
}

// Chain is the registry of plugins grouped per hook
type Chain struct {
	log          *logrus.Logger
	fileModified []FileModifiedHandler
	signers      []ArchiveSigner
	tests        []TestProvider
}

// NewChain creates an empty plugin chain
func NewChain(log *logrus.Logger) *Chain {
	return &Chain{log: log}
}

// RegisterFileModified adds a file-modified handler
func (c *Chain) RegisterFileModified(h FileModifiedHandler) {
	c.fileModified = append(c.fileModified, h)
}

// RegisterSigner adds an archive signer
func (c *Chain) RegisterSigner(s ArchiveSigner) {
	c.signers = append(c.signers, s)
}

// RegisterTest adds a test provider
func (c *Chain) RegisterTest(t TestProvider) {
	c.tests = append(c.tests, t)
}

// FileModified runs every file-modified handler. Handlers run
// best-effort: a failing handler is logged and the rest still run.
func (c *Chain) FileModified(ctx context.Context, path string) {
	for _, h := range c.fileModified {
		if err := h.FileModified(ctx, path); err != nil {
			c.log.WithFields(logrus.Fields{
				"plugin": h.Name(),
				"path":   path,
			}).WithError(err).Error("file-modified hook failed")
		}
	}
}

// SignArchive runs every signer. The first failure aborts, leaving the
// firmware for the next signing pass.
func (c *Chain) SignArchive(ctx context.Context, arc *cabarchive.Archive) (bool, error) {
	modified := false
	for _, s := range c.signers {
		m, err := s.SignArchive(ctx, arc)
		if err != nil {
			return modified, err
		}
		if m {
			modified = true
		}
	}
	return modified, nil
}

// RunTests runs every test provider and returns the first rejection.
func (c *Chain) RunTests(ctx context.Context, fw *models.Firmware, arc *cabarchive.Archive) error {
	for _, t := range c.tests {
		if err := t.RunTest(ctx, fw, arc); err != nil {
			return err
		}
	}
	return nil
}
