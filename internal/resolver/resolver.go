// Package resolver implements the resolver adapter collaborator (spec
// §4.2): nameserver discovery from /etc/resolv.conf and, as a supplement
// grounded in the original implementation's use of socket.getaddrinfo,
// direct DNS resolution of dsthost names against those nameservers.
package resolver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/qubes-firewall/internal/rules"
)

const resolvConfPath = "/etc/resolv.conf"

// Nameservers reads path and extracts every "nameserver <addr>" line's
// address literal, in file order.
func Nameservers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseNameservers(f)
}

func parseNameservers(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "nameserver" {
			out = append(out, fields[1])
		}
	}
	return out, sc.Err()
}

// classify reproduces the source's family classification for a literal:
// a dotted-quad (three dots) is v4, a literal containing a colon is v6.
func classify(addr string) rules.Family {
	if strings.Count(addr, ".") == 3 {
		return rules.FamilyV4
	}
	if strings.Contains(addr, ":") {
		return rules.FamilyV6
	}
	return rules.FamilyV4
}

// DNSAddresses implements dns_addresses(family) (spec §4.2): the
// configured nameservers of the given family. A missing resolv.conf
// yields an empty, not erroring, result — the same as no nameservers
// configured.
func DNSAddresses(family rules.Family) ([]string, error) {
	return dnsAddressesFrom(resolvConfPath, family)
}

func dnsAddressesFrom(path string, family rules.Family) ([]string, error) {
	all, err := Nameservers(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, ns := range all {
		if classify(ns) == family {
			out = append(out, ns)
		}
	}
	return out, nil
}

// ResolveHost resolves name to the address set of the given family by
// querying nameservers directly via miekg/dns, trying each in order until
// one answers. This substitutes for the original's use of the host libc
// resolver (socket.getaddrinfo) with a self-contained, family-scoped
// lookup, since dsthost resolution must honor the same family restriction
// as every other destination clause.
func ResolveHost(ctx context.Context, name string, family rules.Family, nameservers []string) ([]string, error) {
	if len(nameservers) == 0 {
		return nil, fmt.Errorf("resolver: no nameservers configured for family %d", family)
	}

	qtype := dns.TypeA
	if family == rules.FamilyV6 {
		qtype = dns.TypeAAAA
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{}

	var lastErr error
	for _, ns := range nameservers {
		addr := fmt.Sprintf("%s:53", ns)
		if family == rules.FamilyV6 {
			addr = fmt.Sprintf("[%s]:53", ns)
		}

		reply, _, err := client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered rcode %d", ns, reply.Rcode)
			continue
		}

		var out []string
		for _, rr := range reply.Answer {
			switch v := rr.(type) {
			case *dns.A:
				out = append(out, v.A.String())
			case *dns.AAAA:
				out = append(out, v.AAAA.String())
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		lastErr = fmt.Errorf("%s returned no addresses for %s", ns, name)
	}
	return nil, fmt.Errorf("resolver: could not resolve %s: %w", name, lastErr)
}
