// Package firewall implements the backend contract and the two concrete
// packet-filter backends (legacy iptables, modern nftables) described in
// spec §4.3–§4.5: translating a RuleList into a backend-specific program
// and installing it atomically.
package firewall

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/qubes-firewall/internal/rules"
)

// Backend is the narrow contract the daemon loop uses to talk to a
// packet-filter backend (spec §4.3).
type Backend interface {
	// Init creates the top-level table/chain and establishes the
	// default-deny posture plus the established/related accept
	// shortcut. It fails fatally if the prerequisite hook point is
	// missing.
	Init(ctx context.Context) error

	// ApplyRules idempotently installs rl for its source address at the
	// correct family.
	ApplyRules(ctx context.Context, rl rules.RuleList) error

	// Cleanup removes every per-SA chain and the top-level installation.
	Cleanup(ctx context.Context) error
}

// ApplyError reports that a backend tool rejected a submitted program,
// per the submit(program) design note (spec §9).
type ApplyError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ApplyError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("apply via %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("apply via %s: %v: %s", e.Tool, e.Err, out)
}

func (e *ApplyError) Unwrap() error { return e.Err }
