// Package qubesdb declares the external key/value configuration store
// collaborator described in spec §1 and §6. The store itself — its wire
// protocol, its daemon, its persistence — is out of scope. This package
// declares the interface the firewall daemon needs, an in-memory fake of
// it (MemStore), and a bridge onto the qubesdb-* command-line tools
// (CLIClient).
package qubesdb

import "context"

// Store is the narrow subset of the config store's primitives the daemon
// loop depends on: multiread, list, watch, read_watch, watch_fd.
type Store interface {
	// MultiRead returns every key under prefix, keyed by its path with
	// prefix stripped (e.g. "policy", "0000").
	MultiRead(ctx context.Context, prefix string) (map[string]string, error)

	// List returns the full path of every key under prefix, at any depth.
	List(ctx context.Context, prefix string) ([]string, error)

	// Watch registers interest in changes under path.
	Watch(ctx context.Context, path string) error

	// ReadWatch blocks until the next watch event and returns its path.
	// It returns an error when interrupted by the termination signal.
	ReadWatch(ctx context.Context) (string, error)

	// WatchFD exposes the underlying watch file descriptor, for daemons
	// that multiplex it alongside other event sources; unused by this
	// daemon's single-threaded loop but part of the collaborator contract.
	WatchFD() int
}
