package plugins

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"example.com/backstage/services/firmware/internal/cabarchive"
	"example.com/backstage/services/firmware/internal/models"
)

// DefaultBlockedTokens are byte sequences that indicate pre-production
// or test-signed firmware which must never be published.
var DefaultBlockedTokens = []string{
	"DO NOT SHIP",
	"DO NOT TRUST",
}

// Blocklist rejects uploads whose payload members contain a blocked
// token.
type Blocklist struct {
	tokens []string
}

// NewBlocklist creates a blocklist test provider. A nil token list uses
// the defaults.
func NewBlocklist(tokens []string) *Blocklist {
	if tokens == nil {
		tokens = DefaultBlockedTokens
	}
	return &Blocklist{tokens: tokens}
}

// Name implements TestProvider
func (b *Blocklist) Name() string {
	return "blocklist"
}

// RunTest scans every non-descriptor member for blocked tokens
func (b *Blocklist) RunTest(_ context.Context, _ *models.Firmware, arc *cabarchive.Archive) error {
	for _, f := range arc.Files() {
		if strings.HasSuffix(f.Name, ".metainfo.xml") {
			continue
		}
		for _, token := range b.tokens {
			if bytes.Contains(f.Buf, []byte(token)) {
				return fmt.Errorf("found %s in %s", token, f.Name)
			}
		}
	}
	return nil
}
