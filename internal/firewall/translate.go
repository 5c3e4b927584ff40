package firewall

import (
	"context"
	"fmt"

	"grimm.is/qubes-firewall/internal/rules"
)

// Resolver is the subset of the resolver adapter the backends need:
// nameserver discovery and dsthost resolution, both family-scoped (spec
// §4.2).
type Resolver interface {
	DNSAddresses(family rules.Family) ([]string, error)
	ResolveHost(ctx context.Context, name string, family rules.Family, nameservers []string) ([]string, error)
}

// translated is the backend-agnostic outcome of interpreting one Rule:
// the effective proto set, destination (a literal or a resolved set),
// port range, and ICMP type, after specialtarget=dns's restriction has
// been applied. Skip means the rule must not be emitted at all.
type translated struct {
	Skip     bool
	Protos   []string
	DestLit  string
	DestSet  []string
	DstPorts string
	ICMPType string
	Action   rules.Action
}

// translateRule interprets r for the given address family, resolving
// dsthost/specialtarget=dns destinations via dns. It is the
// parse-and-translate skeleton both backends share (spec §4.3), returning
// a plain error for the caller to wrap as a rules.ParseError.
func translateRule(ctx context.Context, r rules.Rule, family rules.Family, dns Resolver) (translated, error) {
	if r.Dst4 != "" && family == rules.FamilyV6 {
		return translated{}, fmt.Errorf("dst4 set on an IPv6 source address")
	}
	if r.Dst6 != "" && family == rules.FamilyV4 {
		return translated{}, fmt.Errorf("dst6 set on an IPv4 source address")
	}

	t := translated{Action: r.Action, ICMPType: r.ICMPType}
	if r.Proto != "" {
		t.Protos = []string{r.Proto}
	}
	dstPorts := r.DstPorts

	switch {
	case r.SpecialTarget == "dns":
		if dstPorts != "" && dstPorts != "53" && dstPorts != "53-53" {
			return translated{Skip: true}, nil
		}
		dstPorts = "53-53"

		ns, err := dns.DNSAddresses(family)
		if err != nil {
			return translated{}, err
		}
		if len(ns) == 0 {
			return translated{Skip: true}, nil
		}

		if len(t.Protos) == 0 {
			t.Protos = []string{"tcp", "udp"}
		} else {
			t.Protos = intersectStrings(t.Protos, []string{"tcp", "udp"})
		}

		// specialtarget=dns is authoritative over a prior dsthost:
		// intersect rather than appending a second clause (spec §9
		// open question, resolved).
		if r.DstHost != "" {
			resolved, err := dns.ResolveHost(ctx, r.DstHost, family, ns)
			if err != nil {
				return translated{}, err
			}
			t.DestSet = intersectStrings(resolved, ns)
		} else {
			t.DestSet = ns
		}

	case r.DstHost != "":
		ns, err := dns.DNSAddresses(family)
		if err != nil {
			return translated{}, err
		}
		if len(ns) == 0 {
			return translated{}, fmt.Errorf("no nameservers available to resolve dsthost %q", r.DstHost)
		}
		resolved, err := dns.ResolveHost(ctx, r.DstHost, family, ns)
		if err != nil {
			return translated{}, err
		}
		t.DestSet = resolved

	case r.Dst4 != "":
		t.DestLit = r.Dst4

	case r.Dst6 != "":
		t.DestLit = r.Dst6
	}

	t.DstPorts = dstPorts
	return t, nil
}

func intersectStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	var out []string
	for _, x := range a {
		if _, ok := set[x]; ok {
			out = append(out, x)
		}
	}
	return out
}

// splitPorts splits a "lo-hi" or bare "N" dstports value into its two
// endpoints.
func splitPorts(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			return s[:i], s[i+1:]
		}
	}
	return s, s
}
