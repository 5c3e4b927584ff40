// Package daemon implements the bootstrap/sweep/watch-loop/cleanup
// sequence and the per-address state machine described in spec §4.6.
package daemon

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/qubes-firewall/internal/firewall"
	"grimm.is/qubes-firewall/internal/logging"
	"grimm.is/qubes-firewall/internal/notify"
	"grimm.is/qubes-firewall/internal/qubesdb"
	"grimm.is/qubes-firewall/internal/rules"
)

// keyspacePrefix is the config store's parent path for every SA's rules.
const keyspacePrefix = "/qubes-firewall/"

// State is a source address's position in the per-SA lifecycle (spec
// §4.6 state machine).
type State int

const (
	StateUnknown State = iota
	StateParsed
	StateActive
	StateBlocked
)

// Daemon owns the installed-chain registry's sibling piece of mutable
// state, the per-SA state map, and runs single-threaded: no two
// handleAddr calls are ever in flight together (spec §5).
type Daemon struct {
	store    qubesdb.Store
	backend  firewall.Backend
	notifier *notify.Dispatcher
	logger   *logging.Logger

	states map[string]State
}

// New constructs a Daemon. A nil notifier or logger falls back to a
// default instance.
func New(store qubesdb.Store, backend firewall.Backend, notifier *notify.Dispatcher, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = notify.New(logger)
	}
	return &Daemon{
		store:    store,
		backend:  backend,
		notifier: notifier,
		logger:   logger.WithComponent("daemon"),
		states:   make(map[string]State),
	}
}

// State reports the current lifecycle state for sa, StateUnknown if it
// has never been seen.
func (d *Daemon) State(sa string) State {
	return d.states[sa]
}

// Run executes the full sequence from spec §4.6: init, startup scripts,
// initial sweep, watch registration, then the watch loop until the
// config store's watch read is interrupted (by ctx cancellation, which
// the caller arranges from the termination signal), finally cleanup.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.backend.Init(ctx); err != nil {
		return fmt.Errorf("backend init: %w", err)
	}

	RunScripts(d.logger)

	keys, err := d.store.List(ctx, keyspacePrefix)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	for _, sa := range rules.ListTargets(keys) {
		d.handleAddr(ctx, sa)
	}

	if err := d.store.Watch(ctx, keyspacePrefix); err != nil {
		return fmt.Errorf("watch %s: %w", keyspacePrefix, err)
	}

	for {
		path, err := d.store.ReadWatch(ctx)
		if err != nil {
			break
		}
		sa, ok := commitBarrierSA(path)
		if !ok {
			continue
		}
		d.handleAddr(ctx, sa)
	}

	return d.backend.Cleanup(ctx)
}

// commitBarrierSA reports the SA a watch event path names, and whether
// that path is a commit barrier rather than a sub-key write still in
// progress (spec §4.6 step 7, §9 "Watch-event filtering").
func commitBarrierSA(path string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 2 || parts[0] != "qubes-firewall" {
		return "", false
	}
	return parts[1], true
}

// handleAddr reads, translates, and applies sa's configuration,
// following the state machine in spec §4.6: UNKNOWN -> PARSED -> ACTIVE
// on success, BLOCKED (fallback drop installed) on any read, parse, or
// apply failure.
func (d *Daemon) handleAddr(ctx context.Context, sa string) {
	logger := d.logger.WithComponent(sa)
	d.states[sa] = StateUnknown

	leaves, err := d.store.MultiRead(ctx, keyspacePrefix+sa+"/")
	var rl rules.RuleList
	if err == nil {
		rl, err = rules.ReadRules(sa, leaves)
	}
	if err != nil {
		logger.Error("failed to read or parse rules", "error", err)
		d.notifier.Send(fmt.Sprintf("failed to parse firewall rules for %s", sa))
		d.states[sa] = StateBlocked
		if applyErr := d.backend.ApplyRules(ctx, rules.FallbackDrop(sa)); applyErr != nil {
			logger.Error("failed to install fallback drop rule", "error", applyErr)
		}
		return
	}
	d.states[sa] = StateParsed

	if err := d.backend.ApplyRules(ctx, rl); err != nil {
		logger.Error("failed to apply rules", "error", err)
		d.notifier.Send(fmt.Sprintf("failed to apply firewall rules for %s", sa))
		if fbErr := d.backend.ApplyRules(ctx, rules.FallbackDrop(sa)); fbErr != nil {
			logger.Error("fallback drop rule also failed; chain state is undefined", "error", fbErr)
		}
		d.states[sa] = StateBlocked
		return
	}

	d.states[sa] = StateActive
}
