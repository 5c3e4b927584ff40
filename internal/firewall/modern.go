package firewall

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"grimm.is/qubes-firewall/internal/logging"
	"grimm.is/qubes-firewall/internal/rules"
)

// modernTable is the nftables table both address families install into.
const modernTable = "qubes-firewall"

// ModernBackend implements the modern named-ruleset dialect (spec §4.5):
// untruncated chain names, single-transaction flush-and-refill via
// `nft -f -`.
type ModernBackend struct {
	runner   Runner
	resolver Resolver
	logger   *logging.Logger
	chains   *ChainRegistry
}

// NewModernBackend constructs a ModernBackend. A nil logger falls back to
// the default logger.
func NewModernBackend(runner Runner, resolver Resolver, logger *logging.Logger) *ModernBackend {
	if logger == nil {
		logger = logging.Default()
	}
	return &ModernBackend{
		runner:   runner,
		resolver: resolver,
		logger:   logger.WithComponent("modern"),
		chains:   NewChainRegistry(),
	}
}

func modernFamilyKeyword(family rules.Family) string {
	if family == rules.FamilyV6 {
		return "ip6"
	}
	return "ip"
}

// Init creates the qubes-firewall table for both families with a
// top-level forward chain: default-deny, established/related accept
// (spec §4.5).
func (b *ModernBackend) Init(ctx context.Context) error {
	script := fmt.Sprintf(`table ip %[1]s {
  chain forward {
    type filter hook forward priority 0; policy drop;
    ct state established,related accept
  }
}
table ip6 %[1]s {
  chain forward {
    type filter hook forward priority 0; policy drop;
    ct state established,related accept
  }
}
`, modernTable)
	return Submit(ctx, b.runner, "nft", []string{"-f", "-"}, script)
}

// ApplyRules implements Backend.
func (b *ModernBackend) ApplyRules(ctx context.Context, rl rules.RuleList) error {
	family := rules.FamilyOf(rl.SourceAddr)
	chain := modernChainName(rl.SourceAddr)

	if err := b.ensureChain(ctx, family, rl.SourceAddr, chain); err != nil {
		return err
	}

	program, err := b.buildProgram(ctx, chain, family, rl)
	if err != nil {
		return err
	}

	return Submit(ctx, b.runner, "nft", []string{"-f", "-"}, program)
}

// Cleanup removes the qubes-firewall table for both families.
func (b *ModernBackend) Cleanup(ctx context.Context) error {
	script := fmt.Sprintf("delete table ip %[1]s\ndelete table ip6 %[1]s\n", modernTable)
	err := Submit(ctx, b.runner, "nft", []string{"-f", "-"}, script)
	b.chains.Reset()
	return err
}

func (b *ModernBackend) ensureChain(ctx context.Context, family rules.Family, sa, chain string) error {
	if b.chains.Has(family, chain) {
		return nil
	}
	fam := modernFamilyKeyword(family)
	script := fmt.Sprintf(`table %[1]s %[2]s {
  chain %[3]s {
  }
}
add rule %[1]s %[2]s forward %[1]s saddr %[4]s jump %[3]s
`, fam, modernTable, chain, sa)

	if err := Submit(ctx, b.runner, "nft", []string{"-f", "-"}, script); err != nil {
		return err
	}
	b.chains.Add(family, chain)
	return nil
}

func (b *ModernBackend) buildProgram(ctx context.Context, chain string, family rules.Family, rl rules.RuleList) (string, error) {
	fam := modernFamilyKeyword(family)

	var lines []string
	for _, r := range rl.Rules {
		t, err := translateRule(ctx, r, family, b.resolver)
		if err != nil {
			return "", &rules.ParseError{SourceAddr: rl.SourceAddr, Reason: "rule translation", Err: err}
		}
		if t.Skip {
			continue
		}
		lines = append(lines, modernEmitRule(family, t)...)
	}
	lines = append(lines, string(rl.Policy))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "flush chain %s %s %s\n", fam, modernTable, chain)
	fmt.Fprintf(&buf, "table %s %s {\n  chain %s {\n", fam, modernTable, chain)
	for _, l := range lines {
		buf.WriteString("    ")
		buf.WriteString(l)
		buf.WriteString("\n")
	}
	buf.WriteString("  }\n}\n")
	return buf.String(), nil
}

// modernDestClause renders the daddr selector fragment for a translated
// destination: a literal dst4/dst6, or a resolved set rendered as a
// named-set literal (spec §4.5).
func modernDestClause(family rules.Family, t translated) string {
	ipKw := modernFamilyKeyword(family)
	if t.DestLit != "" {
		return fmt.Sprintf("%s daddr %s", ipKw, t.DestLit)
	}
	if len(t.DestSet) > 0 {
		return fmt.Sprintf("%s daddr { %s }", ipKw, strings.Join(t.DestSet, ", "))
	}
	return ""
}

// modernProtoFragment renders the proto/port/icmp selector. dport and
// icmp-type tokens imply their own protocol, so a bare "ip protocol"
// fragment is only emitted when neither is present (spec §4.5).
func modernProtoFragment(family rules.Family, proto, dstPorts, icmpType string) string {
	switch {
	case icmpType != "":
		kw := "icmp"
		if family == rules.FamilyV6 {
			kw = "icmpv6"
		}
		return fmt.Sprintf("%s type %s", kw, icmpType)
	case dstPorts != "":
		lo, hi := splitPorts(dstPorts)
		port := lo
		if lo != hi {
			port = fmt.Sprintf("%s-%s", lo, hi)
		}
		p := proto
		if p == "" {
			p = "tcp"
		}
		return fmt.Sprintf("%s dport %s", p, port)
	case proto != "":
		kw := "ip protocol"
		p := proto
		if family == rules.FamilyV6 {
			kw = "ip6 nexthdr"
			if p == "icmp" {
				p = "icmpv6"
			}
		}
		return fmt.Sprintf("%s %s", kw, p)
	default:
		return ""
	}
}

// modernEmitRule renders a translated rule into one line per effective
// proto: the dstports-set-but-proto-absent case splits into a tcp and a
// udp rule (spec §4.5 "Port expansion").
func modernEmitRule(family rules.Family, t translated) []string {
	destClause := modernDestClause(family, t)
	action := string(t.Action)

	effectiveProtos := t.Protos
	if len(effectiveProtos) == 0 && t.DstPorts != "" {
		effectiveProtos = []string{"tcp", "udp"}
	}
	if len(effectiveProtos) == 0 {
		effectiveProtos = []string{""}
	}

	out := make([]string, 0, len(effectiveProtos))
	for _, p := range effectiveProtos {
		fragment := modernProtoFragment(family, p, t.DstPorts, t.ICMPType)
		parts := make([]string, 0, 3)
		if destClause != "" {
			parts = append(parts, destClause)
		}
		if fragment != "" {
			parts = append(parts, fragment)
		}
		parts = append(parts, action)
		out = append(out, strings.Join(parts, " "))
	}
	return out
}
