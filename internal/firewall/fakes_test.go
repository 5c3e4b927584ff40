package firewall

import (
	"context"
	"fmt"

	"grimm.is/qubes-firewall/internal/rules"
)

// fakeRunner records every invocation and lets tests script failures per
// tool name, matching the submit(program) fake described in spec §9.
type fakeRunner struct {
	calls []fakeCall
	fail  map[string]string // tool -> combined output to return with a non-nil error
}

type fakeCall struct {
	name  string
	args  []string
	stdin string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(map[string]string)}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, stdin string) (string, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: append([]string(nil), args...), stdin: stdin})
	if out, ok := f.fail[name]; ok {
		return out, fmt.Errorf("%s: simulated failure", name)
	}
	return "", nil
}

// lastStdin returns the stdin of the most recent call to tool.
func (f *fakeRunner) lastStdin(tool string) string {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].name == tool {
			return f.calls[i].stdin
		}
	}
	return ""
}

// fakeResolver is a Resolver whose nameserver set and dsthost answers are
// fixed per test.
type fakeResolver struct {
	nameservers map[rules.Family][]string
	hosts       map[string][]string
	err         error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		nameservers: make(map[rules.Family][]string),
		hosts:       make(map[string][]string),
	}
}

func (f *fakeResolver) DNSAddresses(family rules.Family) ([]string, error) {
	return f.nameservers[family], nil
}

func (f *fakeResolver) ResolveHost(ctx context.Context, name string, family rules.Family, nameservers []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hosts[name], nil
}
