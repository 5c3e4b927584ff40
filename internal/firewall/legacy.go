package firewall

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"grimm.is/qubes-firewall/internal/logging"
	"grimm.is/qubes-firewall/internal/rules"
)

// legacyForwardChain is the built-in chain the daemon hooks its per-SA
// jumps into.
const legacyForwardChain = "FORWARD"

// LegacyBackend implements the classic iptables/ip6tables dialect (spec
// §4.4): truncated chain names, restore-tool atomicity, sorted cartesian
// expansion of proto×dsthost.
type LegacyBackend struct {
	runner   Runner
	resolver Resolver
	logger   *logging.Logger
	chains   *ChainRegistry
}

// NewLegacyBackend constructs a LegacyBackend. A nil logger falls back to
// the default logger.
func NewLegacyBackend(runner Runner, resolver Resolver, logger *logging.Logger) *LegacyBackend {
	if logger == nil {
		logger = logging.Default()
	}
	return &LegacyBackend{
		runner:   runner,
		resolver: resolver,
		logger:   logger.WithComponent("legacy"),
		chains:   NewChainRegistry(),
	}
}

func legacyTool(family rules.Family) (tool, restoreTool string) {
	if family == rules.FamilyV6 {
		return "ip6tables", "ip6tables-restore"
	}
	return "iptables", "iptables-restore"
}

// Init establishes the default-deny posture and the established/related
// accept shortcut for both address families (spec §4.3).
func (b *LegacyBackend) Init(ctx context.Context) error {
	for _, tool := range []string{"iptables", "ip6tables"} {
		check := []string{"-C", legacyForwardChain, "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"}
		if _, err := b.runner.Run(ctx, tool, check, ""); err != nil {
			insert := []string{"-I", legacyForwardChain, "1", "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"}
			if out, err := b.runner.Run(ctx, tool, insert, ""); err != nil {
				return fmt.Errorf("legacy init: %s: %v: %s", tool, err, strings.TrimSpace(out))
			}
		}
		policy := []string{"-P", legacyForwardChain, "DROP"}
		if out, err := b.runner.Run(ctx, tool, policy, ""); err != nil {
			return fmt.Errorf("legacy init: %s: set default policy: %v: %s", tool, err, strings.TrimSpace(out))
		}
	}
	return nil
}

// ApplyRules implements Backend.
func (b *LegacyBackend) ApplyRules(ctx context.Context, rl rules.RuleList) error {
	family := rules.FamilyOf(rl.SourceAddr)
	tool, restoreTool := legacyTool(family)
	chain := legacyChainName(rl.SourceAddr)

	if err := b.ensureChain(ctx, family, tool, rl.SourceAddr, chain); err != nil {
		return &ApplyError{Tool: tool, Err: err}
	}

	program, err := b.buildProgram(ctx, chain, family, rl)
	if err != nil {
		return err
	}

	if out, err := b.runner.Run(ctx, tool, []string{"-F", chain}, ""); err != nil {
		return &ApplyError{Tool: tool, Output: out, Err: fmt.Errorf("flush %s", chain)}
	}

	return Submit(ctx, b.runner, restoreTool, []string{"-n"}, program)
}

// Cleanup removes every per-SA chain this backend installed.
func (b *LegacyBackend) Cleanup(ctx context.Context) error {
	for _, family := range []rules.Family{rules.FamilyV4, rules.FamilyV6} {
		tool, _ := legacyTool(family)
		for _, chain := range b.chains.Snapshot(family) {
			b.runner.Run(ctx, tool, []string{"-F", chain}, "")
			b.runner.Run(ctx, tool, []string{"-X", chain}, "")
		}
	}
	b.chains.Reset()
	return nil
}

func (b *LegacyBackend) ensureChain(ctx context.Context, family rules.Family, tool, sa, chain string) error {
	if b.chains.Has(family, chain) {
		return nil
	}
	// Chain creation may fail if a prior daemon run already created it;
	// that's fine, the jump insertion below is what matters.
	b.runner.Run(ctx, tool, []string{"-N", chain}, "")
	if out, err := b.runner.Run(ctx, tool, []string{"-I", legacyForwardChain, "1", "-s", sa, "-j", chain}, ""); err != nil {
		return fmt.Errorf("install jump for %s: %v: %s", sa, err, strings.TrimSpace(out))
	}
	b.chains.Add(family, chain)
	return nil
}

func (b *LegacyBackend) buildProgram(ctx context.Context, chain string, family rules.Family, rl rules.RuleList) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("*filter\n")

	for _, r := range rl.Rules {
		t, err := translateRule(ctx, r, family, b.resolver)
		if err != nil {
			return "", &rules.ParseError{SourceAddr: rl.SourceAddr, Reason: "rule translation", Err: err}
		}
		if t.Skip {
			continue
		}
		for _, line := range legacyEmit(chain, family, t) {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	fmt.Fprintf(&buf, "-A %s -j %s\n", chain, strings.ToUpper(string(rl.Policy)))
	buf.WriteString("COMMIT\n")
	return buf.String(), nil
}

// legacyEmit renders one translated rule into its cartesian expansion of
// `-A` lines, sorted by (proto, dst) when more than one combination
// results (spec §4.4, §9).
func legacyEmit(chain string, family rules.Family, t translated) []string {
	protos := t.Protos
	if len(protos) == 0 {
		protos = []string{""}
	}
	dests := legacyDests(family, t)

	type combo struct{ proto, dst string }
	combos := make([]combo, 0, len(protos)*len(dests))
	for _, p := range protos {
		for _, d := range dests {
			combos = append(combos, combo{p, d})
		}
	}
	if len(combos) > 1 {
		sort.Slice(combos, func(i, j int) bool {
			if combos[i].proto != combos[j].proto {
				return combos[i].proto < combos[j].proto
			}
			return combos[i].dst < combos[j].dst
		})
	}

	portClause := ""
	if t.DstPorts != "" {
		lo, hi := splitPorts(t.DstPorts)
		portClause = fmt.Sprintf(" --dport %s:%s", lo, hi)
	}
	action := strings.ToUpper(string(t.Action))

	out := make([]string, 0, len(combos))
	for _, c := range combos {
		var sb strings.Builder
		sb.WriteString("-A ")
		sb.WriteString(chain)
		if c.dst != "" {
			sb.WriteString(" -d ")
			sb.WriteString(c.dst)
		}
		proto := c.proto
		if proto == "icmp" && family == rules.FamilyV6 {
			proto = "icmpv6"
		}
		if proto != "" {
			sb.WriteString(" -p ")
			sb.WriteString(proto)
		}
		sb.WriteString(portClause)
		if t.ICMPType != "" {
			sb.WriteString(" --icmp-type ")
			sb.WriteString(t.ICMPType)
		}
		sb.WriteString(" -j ")
		sb.WriteString(action)
		out = append(out, sb.String())
	}
	return out
}

// legacyDests expands a translated destination into its literal form, or
// the resolved set with the family's full-host mask appended (spec §3,
// §4.4).
func legacyDests(family rules.Family, t translated) []string {
	if t.DestLit != "" {
		return []string{t.DestLit}
	}
	if len(t.DestSet) > 0 {
		mask := "/32"
		if family == rules.FamilyV6 {
			mask = "/128"
		}
		out := make([]string, len(t.DestSet))
		for i, a := range t.DestSet {
			out[i] = a + mask
		}
		return out
	}
	return []string{""}
}
