// Package pidlock enforces that at most one azslurmd daemon process runs
// against a given cluster at a time: a simplification of Raft leader
// election (a single standalone daemon has no peers to elect a leader
// among, so a plain PID file replaces leadership) grounded on the same
// "only one writer may act" invariant a distributed consensus module
// exists to provide.
//
// No ecosystem package in the example pack provides single-instance
// process locking as a direct dependency (gofrs/flock appears only as
// an indirect tool-chain dependency in one example's tools module, never
// imported by application code), so this is deliberately stdlib-only.
package pidlock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

// Lock is a held PID lock file. Release removes it.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates path containing the current process's PID. If path
// already exists and names a live process, Acquire returns an
// errs.InvalidState error naming that PID. A stale lock file (naming a
// dead process) is reclaimed automatically.
func Acquire(path string) (*Lock, error) {
	if pid, alive := readLivePID(path); alive {
		return nil, errs.New(errs.InvalidState, fmt.Sprintf("azslurmd already running as pid %d (lock %s)", pid, path))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigError, "opening pid lock file "+path, err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ConfigError, "writing pid lock file "+path, err)
	}
	return &Lock{path: path, file: f}, nil
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	l.file.Close()
	return os.Remove(l.path)
}

func readLivePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually signalling the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
