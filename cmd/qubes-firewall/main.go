// Command qubes-firewall is the daemon entrypoint: it selects a backend,
// registers the termination signal hook, and runs the daemon loop (spec
// §4.6 steps 1-2).
package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"grimm.is/qubes-firewall/internal/daemon"
	"grimm.is/qubes-firewall/internal/firewall"
	"grimm.is/qubes-firewall/internal/logging"
	"grimm.is/qubes-firewall/internal/notify"
	"grimm.is/qubes-firewall/internal/qubesdb"
	"grimm.is/qubes-firewall/internal/resolver"
	"grimm.is/qubes-firewall/internal/rules"
)

func main() {
	backendFlag := flag.String("backend", "auto", "packet-filter backend: auto, legacy, or modern")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "emit logs as JSON instead of console format")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.JSON = *logJSON
	cfg.Level = parseLevel(*logLevel)
	logging.SetDefault(logging.New(cfg))
	log := logging.Default()

	runner := firewall.ExecRunner{}
	res := resolverAdapter{}

	var backend firewall.Backend
	if resolveBackendName(*backendFlag) == "modern" {
		backend = firewall.NewModernBackend(runner, res, log)
	} else {
		backend = firewall.NewLegacyBackend(runner, res, log)
	}

	store := qubesdb.NewCLIClient()
	notifier := notify.New(log)
	d := daemon.New(store, backend, notifier, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("termination signal received, shutting down")
		cancel()
		store.Stop()
	}()

	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// resolveBackendName implements spec §4.6 step 1: modern if its CLI is
// on PATH, else legacy, unless the operator pinned one via -backend.
func resolveBackendName(flagVal string) string {
	switch flagVal {
	case "legacy", "modern":
		return flagVal
	default:
		if _, err := exec.LookPath("nft"); err == nil {
			return "modern"
		}
		return "legacy"
	}
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// resolverAdapter implements firewall.Resolver atop the resolver
// package's free functions.
type resolverAdapter struct{}

func (resolverAdapter) DNSAddresses(family rules.Family) ([]string, error) {
	return resolver.DNSAddresses(family)
}

func (resolverAdapter) ResolveHost(ctx context.Context, name string, family rules.Family, nameservers []string) ([]string, error) {
	return resolver.ResolveHost(ctx, name, family, nameservers)
}
