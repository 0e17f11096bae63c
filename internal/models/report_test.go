package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionMatches(t *testing.T) {
	require.True(t, (&Condition{Key: "DistroId", Value: "fedora", Compare: "eq"}).Matches("fedora"))
	require.False(t, (&Condition{Key: "DistroId", Value: "fedora", Compare: "eq"}).Matches("ubuntu"))

	require.True(t, (&Condition{Value: "1.2.0", Compare: "lt"}).Matches("1.1.9"))
	require.False(t, (&Condition{Value: "1.2.0", Compare: "lt"}).Matches("1.2.0"))
	require.True(t, (&Condition{Value: "1.2.0", Compare: "le"}).Matches("1.2.0"))
	require.True(t, (&Condition{Value: "1.2.0", Compare: "gt"}).Matches("1.2.1"))
	require.True(t, (&Condition{Value: "1.2.0", Compare: "ge"}).Matches("1.2.0"))

	require.True(t, (&Condition{Value: "failed to write*", Compare: "glob"}).Matches("failed to write to /dev/sda"))
	require.False(t, (&Condition{Value: "failed to write*", Compare: "glob"}).Matches("timed out"))

	// regex search is unanchored
	require.True(t, (&Condition{Value: "EFI/fedora", Compare: "regex"}).Matches("could not find EFI/fedora/shim.efi"))
	require.False(t, (&Condition{Value: "[invalid", Compare: "regex"}).Matches("anything"))

	require.False(t, (&Condition{Value: "x", Compare: "bogus"}).Matches("x"))
}

func TestConditionGlobSpansSeparators(t *testing.T) {
	// wildcards cross / in attribute values, they are not path components
	require.True(t, (&Condition{Value: "could not find *", Compare: "glob"}).
		Matches("could not find EFI/fedora/shim.efi"))
	require.True(t, (&Condition{Value: "*shim.efi", Compare: "glob"}).
		Matches("EFI/fedora/shim.efi"))
	require.True(t, (&Condition{Value: "EFI?fedora?shim.efi", Compare: "glob"}).
		Matches("EFI/fedora/shim.efi"))
	require.False(t, (&Condition{Value: "*grubx64.efi", Compare: "glob"}).
		Matches("EFI/fedora/shim.efi"))

	// the match is anchored at both ends
	require.False(t, (&Condition{Value: "fedora", Compare: "glob"}).
		Matches("EFI/fedora/shim.efi"))
	// regex metacharacters in the pattern are literal
	require.True(t, (&Condition{Value: "shim.efi", Compare: "glob"}).
		Matches("shim.efi"))
	require.False(t, (&Condition{Value: "shim.efi", Compare: "glob"}).
		Matches("shimXefi"))
}

func TestIssueMatches(t *testing.T) {
	issue := &Issue{
		Conditions: []Condition{
			{Key: "UpdateError", Value: "*failed to write*", Compare: "glob"},
			{Key: "DistroId", Value: "fedora", Compare: "eq"},
		},
	}
	require.True(t, issue.Matches(map[string]string{
		"DistroId":    "fedora",
		"UpdateError": "oh no, failed to write today",
	}))
	require.False(t, issue.Matches(map[string]string{
		"DistroId":    "ubuntu",
		"UpdateError": "oh no, failed to write today",
	}))
	// a missing key never matches
	require.False(t, issue.Matches(map[string]string{
		"DistroId": "fedora",
	}))
}

func TestRemoteFilename(t *testing.T) {
	require.Equal(t, "", (&Remote{Name: RemotePrivate}).Filename("salt"))
	require.Equal(t, "firmware.xml.gz", (&Remote{Name: RemoteStable}).Filename("salt"))
	require.Equal(t, "firmware-testing.xml.gz", (&Remote{Name: RemoteTesting}).Filename("salt"))

	embargo := &Remote{Name: EmbargoRemoteName("hughski")}
	fn := embargo.Filename("salt")
	require.Regexp(t, `^firmware-[0-9a-f]{40}\.xml\.gz$`, fn)
	// the hash is salted so the group name cannot be guessed
	require.NotEqual(t, fn, embargo.Filename("other-salt"))
}

func TestRemoteFlags(t *testing.T) {
	require.False(t, (&Remote{Name: RemotePrivate}).IsSigned())
	require.False(t, (&Remote{Name: RemoteDeleted}).IsSigned())
	require.True(t, (&Remote{Name: RemoteStable}).IsSigned())
	require.True(t, (&Remote{Name: EmbargoRemoteName("hughski")}).IsSigned())
	require.True(t, (&Remote{Name: EmbargoRemoteName("hughski")}).IsEmbargo())
	require.True(t, (&Remote{Name: RemoteDeleted}).IsDeleted())
}
