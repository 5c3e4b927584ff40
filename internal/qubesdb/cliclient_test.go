package qubesdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMultiRead(t *testing.T) {
	out := "/qubes-firewall/10.137.0.5/policy=drop\n/qubes-firewall/10.137.0.5/0000=action=accept proto=tcp\n"
	got := parseMultiRead(out, "/qubes-firewall/10.137.0.5/")
	assert.Equal(t, "drop", got["policy"])
	assert.Equal(t, "action=accept proto=tcp", got["0000"])
}

func TestParseList(t *testing.T) {
	out := "/qubes-firewall/10.137.0.5/policy\n/qubes-firewall/10.137.0.5/0000\n"
	got := parseList(out)
	assert.Equal(t, []string{"/qubes-firewall/10.137.0.5/policy", "/qubes-firewall/10.137.0.5/0000"}, got)
}

func TestMemStoreRoundTrip(t *testing.T) {
	m := NewMemStore()
	m.Set("/qubes-firewall/10.137.0.5/policy", "drop")
	m.Set("/qubes-firewall/10.137.0.5/0000", "action=accept")

	leaves, err := m.MultiRead(nil, "/qubes-firewall/10.137.0.5/")
	assert.NoError(t, err)
	assert.Equal(t, "drop", leaves["policy"])

	keys, err := m.List(nil, "/qubes-firewall/")
	assert.NoError(t, err)
	assert.Len(t, keys, 2)
}
