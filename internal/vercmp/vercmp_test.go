package vercmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCompare(t *testing.T, a, b string) int {
	t.Helper()
	rc, err := Compare(a, b)
	require.NoError(t, err)
	return rc
}

func TestCompareEqual(t *testing.T) {
	require.Equal(t, 0, mustCompare(t, "1.2.3", "1.2.3"))
	require.Equal(t, 0, mustCompare(t, "001.002.003", "001.002.003"))
	require.Equal(t, 0, mustCompare(t, "alpha", "alpha"))
	require.Equal(t, 0, mustCompare(t, "1.2a.3", "1.2a.3"))
}

func TestCompareUpgradeDowngrade(t *testing.T) {
	require.Equal(t, -1, mustCompare(t, "1.2.3", "1.2.4"))
	require.Equal(t, -1, mustCompare(t, "001.002.000", "001.002.009"))
	require.Equal(t, 1, mustCompare(t, "1.2.3", "1.2.2"))
	require.Equal(t, 1, mustCompare(t, "001.002.009", "001.002.000"))
}

func TestCompareIntParsing(t *testing.T) {
	require.Equal(t, -1, mustCompare(t, "4.01", "4.10"))
}

func TestCompareUnequalDepth(t *testing.T) {
	require.Equal(t, -1, mustCompare(t, "1.2.3", "1.2.3.1"))
	require.Equal(t, -1, mustCompare(t, "1.2.3.1", "1.2.4"))
}

func TestCompareAlphaSuffix(t *testing.T) {
	require.Equal(t, -1, mustCompare(t, "1.2.3a", "1.2.3b"))
	require.Equal(t, 1, mustCompare(t, "1.2.3b", "1.2.3a"))
	require.Equal(t, -1, mustCompare(t, "1.2.3", "1.2.3a"))
	require.Equal(t, 1, mustCompare(t, "1.2.3a", "1.2.3"))
	require.Equal(t, -1, mustCompare(t, "alpha", "beta"))
	require.Equal(t, -1, mustCompare(t, "1.2a.3", "1.2b.3"))
}

func TestCompareTilde(t *testing.T) {
	require.Equal(t, 0, mustCompare(t, "1.2.3~rc1", "1.2.3~rc1"))
	require.Equal(t, -1, mustCompare(t, "1.2.3~rc1", "1.2.3"))
	require.Equal(t, 1, mustCompare(t, "1.2.3", "1.2.3~rc1"))
	require.Equal(t, 1, mustCompare(t, "1.2.3~rc2", "1.2.3~rc1"))
}

func TestCompareHex(t *testing.T) {
	require.Equal(t, 0, mustCompare(t, "0xff", "255"))
	require.Equal(t, 1, mustCompare(t, "0x100", "255"))
}

func TestCompareEmpty(t *testing.T) {
	_, err := Compare("", "1")
	require.ErrorIs(t, err, ErrEmptyVersion)
	_, err = Compare("1", "")
	require.ErrorIs(t, err, ErrEmptyVersion)
}
