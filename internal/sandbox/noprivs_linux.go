//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setNoNewPrivs sets PR_SET_NO_NEW_PRIVS so the sandboxed child can never
// regain privileges through a setuid/setgid/file-capability exec.
func setNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	return nil
}

// setNproc applies RLIMIT_NPROC when n is non-zero.
func setNproc(n uint64) error {
	if n == 0 {
		return nil
	}
	lim := unix.Rlimit{Cur: n, Max: n}
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &lim); err != nil {
		return fmt.Errorf("set RLIMIT_NPROC: %w", err)
	}
	return nil
}
