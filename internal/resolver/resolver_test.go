package resolver

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/qubes-firewall/internal/rules"
)

const sampleResolvConf = `# generated
nameserver 10.139.1.1
nameserver fd00::abcd
nameserver 10.139.1.2
`

func TestParseNameservers(t *testing.T) {
	ns, err := parseNameservers(strings.NewReader(sampleResolvConf))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.139.1.1", "fd00::abcd", "10.139.1.2"}, ns)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, rules.FamilyV4, classify("10.139.1.1"))
	assert.Equal(t, rules.FamilyV6, classify("fd00::abcd"))
}

func TestDNSAddressesFromFiltersByFamily(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/resolv.conf"
	require.NoError(t, os.WriteFile(path, []byte(sampleResolvConf), 0o644))

	v4, err := dnsAddressesFrom(path, rules.FamilyV4)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.139.1.1", "10.139.1.2"}, v4)

	v6, err := dnsAddressesFrom(path, rules.FamilyV6)
	require.NoError(t, err)
	assert.Equal(t, []string{"fd00::abcd"}, v6)
}

func TestDNSAddressesFromMissingFile(t *testing.T) {
	out, err := dnsAddressesFrom("/nonexistent/resolv.conf", rules.FamilyV4)
	require.NoError(t, err)
	assert.Empty(t, out)
}
