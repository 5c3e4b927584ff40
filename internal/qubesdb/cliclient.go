package qubesdb

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIClient implements Store atop the qubesdb-* command-line tools a
// Qubes VM already ships for administrative scripting
// (qubesdb-multiread, qubesdb-list, qubesdb-watch). It is a thin,
// best-effort bridge: the store's own wire protocol stays out of scope
// per this daemon's collaborator boundary (spec §1), so this client only
// shells out the same way the backends shell out to iptables/nft.
type CLIClient struct {
	watchCmd *exec.Cmd
	watchOut *bufio.Scanner
}

// NewCLIClient constructs an unconnected CLIClient; Watch must be called
// before ReadWatch.
func NewCLIClient() *CLIClient {
	return &CLIClient{}
}

// MultiRead shells out to qubesdb-multiread, which prints one
// "path=value" line per matched key.
func (c *CLIClient) MultiRead(ctx context.Context, prefix string) (map[string]string, error) {
	out, err := exec.CommandContext(ctx, "qubesdb-multiread", prefix).Output()
	if err != nil {
		return nil, fmt.Errorf("qubesdb-multiread %s: %w", prefix, err)
	}
	return parseMultiRead(string(out), prefix), nil
}

func parseMultiRead(out, prefix string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		path, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		result[strings.TrimPrefix(path, prefix)] = value
	}
	return result
}

// List shells out to qubesdb-list, one key path per line.
func (c *CLIClient) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "qubesdb-list", prefix).Output()
	if err != nil {
		return nil, fmt.Errorf("qubesdb-list %s: %w", prefix, err)
	}
	return parseList(string(out)), nil
}

func parseList(out string) []string {
	var keys []string
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			keys = append(keys, line)
		}
	}
	return keys
}

// Watch starts qubesdb-watch as a long-running subprocess, one changed
// path per output line, consumed by ReadWatch.
func (c *CLIClient) Watch(ctx context.Context, path string) error {
	cmd := exec.Command("qubesdb-watch", path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("qubesdb-watch %s: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("qubesdb-watch %s: %w", path, err)
	}
	c.watchCmd = cmd
	c.watchOut = bufio.NewScanner(stdout)
	return nil
}

// ReadWatch blocks for the next line qubesdb-watch prints.
func (c *CLIClient) ReadWatch(ctx context.Context) (string, error) {
	if c.watchOut == nil {
		return "", fmt.Errorf("qubesdb: Watch was never called")
	}
	if !c.watchOut.Scan() {
		if err := c.watchOut.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("qubesdb: watch stream closed")
	}
	return c.watchOut.Text(), nil
}

// WatchFD is not exposed by the CLI bridge; the collaborator interface
// requires it only for daemons that multiplex the watch descriptor
// alongside other event sources, which this daemon's loop does not do.
func (c *CLIClient) WatchFD() int {
	return -1
}

// Stop terminates the background qubesdb-watch subprocess, unblocking a
// pending ReadWatch. Callers invoke it from their termination-signal
// handler alongside cancelling the daemon's context.
func (c *CLIClient) Stop() {
	if c.watchCmd != nil && c.watchCmd.Process != nil {
		c.watchCmd.Process.Kill()
	}
}

var _ Store = (*CLIClient)(nil)
