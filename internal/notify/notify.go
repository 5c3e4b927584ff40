// Package notify dispatches fire-and-forget desktop notifications to the
// user running the VM's session. It is a thin wrapper around notify-send;
// failures are logged but never propagated, matching the best-effort
// semantics the daemon requires of its notification collaborator.
package notify

import (
	"os"
	"os/exec"
	"time"

	"grimm.is/qubes-firewall/internal/logging"
)

// Timeout is the notify-send expiry passed with -t, in milliseconds.
const Timeout = 3000 * time.Millisecond

// Dispatcher sends best-effort desktop notifications.
type Dispatcher struct {
	logger *logging.Logger

	// run executes the notify-send command; overridable in tests.
	run func(msg string) error
}

// New creates a Dispatcher. A nil logger falls back to the default logger.
func New(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default().WithComponent("notify")
	}
	d := &Dispatcher{logger: logger}
	d.run = d.sendDesktop
	return d
}

// Send displays msg as a desktop toast. Errors are logged and swallowed:
// a missing display server must never interrupt firewall enforcement.
func (d *Dispatcher) Send(msg string) {
	if err := d.run(msg); err != nil {
		d.logger.Debug("notification delivery failed", "error", err)
	}
}

func (d *Dispatcher) sendDesktop(msg string) error {
	cmd := exec.Command("notify-send", "-t", "3000", msg)
	cmd.Env = append(os.Environ(), "DISPLAY=:0")
	return cmd.Run()
}
