package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRulesOrdersByIdentifier(t *testing.T) {
	leaves := map[string]string{
		"policy": "drop",
		"0001":   "action=accept proto=udp",
		"0000":   "action=accept proto=tcp dstports=443",
	}

	rl, err := ReadRules("10.137.0.5", leaves)
	require.NoError(t, err)
	require.Len(t, rl.Rules, 2)
	assert.Equal(t, "tcp", rl.Rules[0].Proto)
	assert.Equal(t, "udp", rl.Rules[1].Proto)
	assert.Equal(t, Drop, rl.Policy)
}

func TestReadRulesMissingPolicy(t *testing.T) {
	_, err := ReadRules("10.137.0.5", map[string]string{"0000": "action=accept"})
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestReadRulesMalformedIdentifier(t *testing.T) {
	// Spec §8 scenario 5: a non-four-digit leaf fails the whole read.
	_, err := ReadRules("10.137.0.5", map[string]string{
		"policy": "drop",
		"abcd":   "action=accept",
	})
	require.Error(t, err)
}

func TestReadRulesUnknownOption(t *testing.T) {
	_, err := ReadRules("10.137.0.5", map[string]string{
		"policy": "drop",
		"0000":   "action=accept bogus=1",
	})
	require.Error(t, err)
}

func TestReadRulesMissingAction(t *testing.T) {
	_, err := ReadRules("10.137.0.5", map[string]string{
		"policy": "drop",
		"0000":   "proto=tcp",
	})
	require.Error(t, err)
}

func TestReadRulesNotKV(t *testing.T) {
	_, err := ReadRules("10.137.0.5", map[string]string{
		"policy": "drop",
		"0000":   "action=accept proto",
	})
	require.Error(t, err)
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyV4, FamilyOf("10.137.0.5"))
	assert.Equal(t, FamilyV6, FamilyOf("fd00::1"))
}

func TestListTargets(t *testing.T) {
	got := ListTargets([]string{
		"/qubes-firewall/10.137.0.5/policy",
		"/qubes-firewall/10.137.0.5/0000",
		"/qubes-firewall/fd00::1/policy",
		"/unrelated/path",
	})
	assert.Equal(t, []string{"10.137.0.5", "fd00::1"}, got)
}
