package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"grimm.is/qubes-firewall/internal/logging"
)

// scriptDirs are run once at startup in lexicographic order; a missing
// directory is ignored (spec §6).
var scriptDirs = []string{
	"/etc/qubes/qubes-firewall.d",
	"/rw/config/qubes-firewall.d",
}

// userScriptPath is run once after scriptDirs, if present.
const userScriptPath = "/rw/config/qubes-firewall-user-script"

// RunScripts executes every executable under scriptDirs, then the single
// user script, ignoring individual exit codes (spec §4.6 step 4).
func RunScripts(logger *logging.Logger) {
	for _, dir := range scriptDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			runScript(logger, filepath.Join(dir, name))
		}
	}

	if _, err := os.Stat(userScriptPath); err == nil {
		runScript(logger, userScriptPath)
	}
}

func runScript(logger *logging.Logger, path string) {
	cmd := exec.Command(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		logger.Debug("startup script exited non-zero", "path", path, "error", err)
	}
}
