package firewall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/qubes-firewall/internal/rules"
)

func TestModernScenario6PortRangeCollapseAndSplit(t *testing.T) {
	runner := newFakeRunner()
	backend := NewModernBackend(runner, newFakeResolver(), nil)

	rl := rules.RuleList{
		SourceAddr: "10.137.0.5",
		Policy:     rules.Accept,
		Rules: []rules.Rule{
			{Action: rules.Accept, DstPorts: "8000-8000"},
		},
	}

	require.NoError(t, backend.ApplyRules(context.Background(), rl))

	program := runner.lastStdin("nft")
	assert.Contains(t, program, "tcp dport 8000 accept")
	assert.Contains(t, program, "udp dport 8000 accept")
}

func TestModernSpecialTargetDNSUsesSet(t *testing.T) {
	runner := newFakeRunner()
	resolver := newFakeResolver()
	resolver.nameservers[rules.FamilyV4] = []string{"8.8.8.8", "1.1.1.1"}
	backend := NewModernBackend(runner, resolver, nil)

	rl := rules.RuleList{
		SourceAddr: "10.137.0.5",
		Policy:     rules.Drop,
		Rules: []rules.Rule{
			{Action: rules.Accept, SpecialTarget: "dns"},
		},
	}

	require.NoError(t, backend.ApplyRules(context.Background(), rl))

	program := runner.lastStdin("nft")
	assert.Contains(t, program, "ip daddr { 8.8.8.8, 1.1.1.1 }")
	assert.Contains(t, program, "tcp dport 53 accept")
	assert.Contains(t, program, "udp dport 53 accept")
}

func TestModernICMPv6(t *testing.T) {
	runner := newFakeRunner()
	backend := NewModernBackend(runner, newFakeResolver(), nil)

	rl := rules.RuleList{
		SourceAddr: "fd00::1",
		Policy:     rules.Drop,
		Rules: []rules.Rule{
			{Action: rules.Accept, Proto: "icmp", ICMPType: "128"},
		},
	}

	require.NoError(t, backend.ApplyRules(context.Background(), rl))

	program := runner.lastStdin("nft")
	assert.Contains(t, program, "icmpv6 type 128 accept")
}

func TestModernChainNameUntruncated(t *testing.T) {
	long := "2001:db8:dead:beef:0:0:0:1"
	name := modernChainName(long)
	assert.Greater(t, len(name), 20)
	assert.Equal(t, "qbs-"+sanitize(long), name)
}

func TestModernReapplyFlushesBeforeRefill(t *testing.T) {
	runner := newFakeRunner()
	backend := NewModernBackend(runner, newFakeResolver(), nil)

	rl1 := rules.RuleList{
		SourceAddr: "10.137.0.5",
		Policy:     rules.Drop,
		Rules:      []rules.Rule{{Action: rules.Accept, Proto: "tcp"}},
	}
	rl2 := rules.RuleList{
		SourceAddr: "10.137.0.5",
		Policy:     rules.Accept,
	}

	require.NoError(t, backend.ApplyRules(context.Background(), rl1))
	require.NoError(t, backend.ApplyRules(context.Background(), rl2))

	program := runner.lastStdin("nft")
	assert.Contains(t, program, "flush chain ip qubes-firewall")
	assert.NotContains(t, program, "ip protocol tcp")
}
