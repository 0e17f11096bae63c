package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/utils"
)

func testArchive() *cabarchive.Archive {
	arc := cabarchive.New()
	arc.Add(&cabarchive.File{Name: "firmware.bin", Buf: []byte{0x01, 0x02, 0x03}})
	arc.Add(&cabarchive.File{Name: "firmware.metainfo.xml", Buf: []byte("<component/>")})
	return arc
}

func testSigner(t *testing.T) *DetachedSigner {
	t.Helper()
	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	return NewDetachedSigner(keys)
}

func TestDetachedSignerSignsEveryMember(t *testing.T) {
	arc := testArchive()
	signer := testSigner(t)

	modified, err := signer.SignArchive(context.Background(), arc)
	require.NoError(t, err)
	require.True(t, modified)

	require.NotNil(t, arc.Get("firmware.bin.p7b"))
	require.NotNil(t, arc.Get("firmware.metainfo.xml.p7b"))
	require.Len(t, arc.Files(), 4)
}

func TestDetachedSignerIsIdempotent(t *testing.T) {
	arc := testArchive()
	signer := testSigner(t)

	modified, err := signer.SignArchive(context.Background(), arc)
	require.NoError(t, err)
	require.True(t, modified)
	first := string(arc.Get("firmware.bin.p7b").Buf)

	modified, err = signer.SignArchive(context.Background(), arc)
	require.NoError(t, err)
	require.False(t, modified)
	require.Equal(t, first, string(arc.Get("firmware.bin.p7b").Buf))
	require.Len(t, arc.Files(), 4)
}

func TestDetachedSignerSignatureVerifies(t *testing.T) {
	arc := testArchive()
	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	signer := NewDetachedSigner(keys)

	_, err = signer.SignArchive(context.Background(), arc)
	require.NoError(t, err)

	sig := arc.Get("firmware.bin.p7b")
	ok, err := utils.VerifyDetached(keys.PublicKey, arc.Get("firmware.bin").Buf, string(sig.Buf))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDetachedSignerFileModified(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "firmware.xml.gz")
	require.NoError(t, os.WriteFile(catalog, []byte("catalog-bytes"), 0644))

	keys, err := utils.GenerateSigningKeyPair("test")
	require.NoError(t, err)
	signer := NewDetachedSigner(keys)

	require.NoError(t, signer.FileModified(context.Background(), catalog))

	sig, err := os.ReadFile(catalog + ".asc")
	require.NoError(t, err)
	ok, err := utils.VerifyDetached(keys.PublicKey, []byte("catalog-bytes"), string(sig))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDetachedSignerFileModifiedIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "PULP_MANIFEST")
	require.NoError(t, os.WriteFile(manifest, []byte("x"), 0644))

	signer := testSigner(t)
	require.NoError(t, signer.FileModified(context.Background(), manifest))

	_, err := os.Stat(manifest + ".asc")
	require.True(t, os.IsNotExist(err))
}

func TestBlocklistRejectsBlockedToken(t *testing.T) {
	arc := testArchive()
	arc.Add(&cabarchive.File{Name: "payload.bin", Buf: []byte("header DO NOT SHIP trailer")})

	err := NewBlocklist(nil).RunTest(context.Background(), nil, arc)
	require.Error(t, err)
	require.Contains(t, err.Error(), "found DO NOT SHIP in payload.bin")
}

func TestBlocklistIgnoresDescriptors(t *testing.T) {
	arc := cabarchive.New()
	arc.Add(&cabarchive.File{Name: "firmware.metainfo.xml", Buf: []byte("DO NOT TRUST")})

	require.NoError(t, NewBlocklist(nil).RunTest(context.Background(), nil, arc))
}

func TestBlocklistPassesCleanArchive(t *testing.T) {
	require.NoError(t, NewBlocklist(nil).RunTest(context.Background(), nil, testArchive()))
}

type failingHandler struct{ calls int }

func (h *failingHandler) Name() string { return "failing" }
func (h *failingHandler) FileModified(context.Context, string) error {
	h.calls++
	return errors.New("boom")
}

type countingHandler struct{ calls int }

func (h *countingHandler) Name() string { return "counting" }
func (h *countingHandler) FileModified(context.Context, string) error {
	h.calls++
	return nil
}

func TestChainFileModifiedIsBestEffort(t *testing.T) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	failing := &failingHandler{}
	counting := &countingHandler{}
	chain := NewChain(log)
	chain.RegisterFileModified(failing)
	chain.RegisterFileModified(counting)

	chain.FileModified(context.Background(), "/tmp/firmware.xml.gz")
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 1, counting.calls)
}

type failingSigner struct{}

func (failingSigner) Name() string { return "failing" }
func (failingSigner) SignArchive(context.Context, *cabarchive.Archive) (bool, error) {
	return false, errors.New("hsm offline")
}

func TestChainSignArchiveAbortsOnError(t *testing.T) {
	chain := NewChain(logrus.New())
	chain.RegisterSigner(failingSigner{})
	chain.RegisterSigner(testSigner(t))

	arc := testArchive()
	_, err := chain.SignArchive(context.Background(), arc)
	require.Error(t, err)
	require.Nil(t, arc.Get("firmware.bin.p7b"))
}
