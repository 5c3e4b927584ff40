package firewall

import (
	"strings"
	"sync"

	"grimm.is/qubes-firewall/internal/rules"
)

// ChainRegistry tracks, per address family, the set of chain names
// already installed — the installed-chain registry invariant (spec §3).
// Entries are added on first installation and removed only on shutdown
// cleanup.
type ChainRegistry struct {
	mu    sync.Mutex
	byFam map[rules.Family]map[string]struct{}
}

// NewChainRegistry returns an empty registry for both address families.
func NewChainRegistry() *ChainRegistry {
	return &ChainRegistry{byFam: map[rules.Family]map[string]struct{}{
		rules.FamilyV4: {},
		rules.FamilyV6: {},
	}}
}

// Has reports whether chain is already installed for family.
func (c *ChainRegistry) Has(family rules.Family, chain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byFam[family][chain]
	return ok
}

// Add records chain as installed for family.
func (c *ChainRegistry) Add(family rules.Family, chain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byFam[family][chain] = struct{}{}
}

// Snapshot returns a copy of the chains installed for family.
func (c *ChainRegistry) Snapshot(family rules.Family) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.byFam[family]))
	for chain := range c.byFam[family] {
		out = append(out, chain)
	}
	return out
}

// Reset clears every recorded chain, as on daemon shutdown.
func (c *ChainRegistry) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byFam = map[rules.Family]map[string]struct{}{
		rules.FamilyV4: {},
		rules.FamilyV6: {},
	}
}

// sanitize replaces the characters an SA may contain but a chain-name
// identifier may not, matching the source's chain_for_addr.
func sanitize(sa string) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(sa)
}

// legacyChainName derives a legacy-dialect chain name: "qbs-" plus the
// sanitized SA, truncated to its trailing 20 characters (spec §4.4).
func legacyChainName(sa string) string {
	name := "qbs-" + sanitize(sa)
	if len(name) > 20 {
		return name[len(name)-20:]
	}
	return name
}

// modernChainName derives a modern-dialect chain name: "qbs-" plus the
// sanitized SA, untruncated (spec §4.5).
func modernChainName(sa string) string {
	return "qbs-" + sanitize(sa)
}
