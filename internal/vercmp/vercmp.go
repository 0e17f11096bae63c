// Package vercmp compares firmware version strings the way fwupd does:
// dot-separated sections, numeric prefix first, then any alphabetic
// suffix with '~' sorting before everything else.
package vercmp

import (
	"errors"
	"strconv"
	"strings"
)

// ErrEmptyVersion is returned when either version string is empty.
var ErrEmptyVersion = errors.New("version cannot be empty")

func cmpChar(a, b rune) int {
	switch {
	case a == b:
		return 0
	case a == '~':
		return -1
	case b == '~':
		return 1
	case a == 0:
		return -1
	case b == 0:
		return 1
	case a < b:
		return -1
	default:
		return 1
	}
}

// splitChunk returns the leading numeric part and the remaining suffix.
// Digits after the first non-digit rune belong to the suffix.
func splitChunk(s string) (int64, string) {
	var num, suffix strings.Builder
	for _, r := range s {
		if suffix.Len() == 0 && r >= '0' && r <= '9' {
			num.WriteRune(r)
			continue
		}
		suffix.WriteRune(r)
	}
	if num.Len() == 0 {
		return 0, suffix.String()
	}
	n, _ := strconv.ParseInt(num.String(), 10, 64)
	return n, suffix.String()
}

func cmpSuffix(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) > n {
		n = len(rb)
	}
	for i := 0; i < n; i++ {
		var ca, cb rune
		if i < len(ra) {
			ca = ra[i]
		}
		if i < len(rb) {
			cb = rb[i]
		}
		if rc := cmpChar(ca, cb); rc != 0 {
			return rc
		}
	}
	return 0
}

// Compare returns -1, 0 or 1 if a sorts before, equal to or after b.
// Hex versions with a 0x prefix are converted to decimal first.
func Compare(a, b string) (int, error) {
	if a == "" || b == "" {
		return 0, ErrEmptyVersion
	}
	if a == b {
		return 0, nil
	}

	if strings.HasPrefix(a, "0x") {
		v, err := strconv.ParseUint(a[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		a = strconv.FormatUint(v, 10)
	}
	if strings.HasPrefix(b, "0x") {
		v, err := strconv.ParseUint(b[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		b = strconv.FormatUint(v, 10)
	}

	splitA := strings.Split(a, ".")
	splitB := strings.Split(b, ".")
	n := len(splitA)
	if len(splitB) > n {
		n = len(splitB)
	}
	for i := 0; i < n; i++ {
		var chunkA, chunkB string
		if i < len(splitA) {
			chunkA = splitA[i]
		}
		if i < len(splitB) {
			chunkB = splitB[i]
		}

		// one version ran out of sections, or has an empty one
		if chunkA == "" {
			return -1, nil
		}
		if chunkB == "" {
			return 1, nil
		}

		numA, sufA := splitChunk(chunkA)
		numB, sufB := splitChunk(chunkB)
		if numA < numB {
			return -1, nil
		}
		if numA > numB {
			return 1, nil
		}
		if rc := cmpSuffix(sufA, sufB); rc != 0 {
			return rc, nil
		}
	}
	return 0, nil
}
