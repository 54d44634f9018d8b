//go:build darwin

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// seatbeltSandbox runs commands under macOS's sandbox-exec with a generated
// Seatbelt profile — no external dependency, no container runtime required.
type seatbeltSandbox struct {
	cfg     Config
	profile string
	tmpDir  string
}

// newPlatform builds a Seatbelt profile from cfg and verifies sandbox-exec
// is available.
func newPlatform(cfg Config) (Sandbox, error) {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil, fmt.Errorf("sandbox-exec not available: %w", err)
	}

	dir, err := os.MkdirTemp("", "localgpt-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox tmpdir: %w", err)
	}

	return &seatbeltSandbox{
		cfg:     cfg,
		profile: buildProfile(cfg),
		tmpDir:  dir,
	}, nil
}

func (s *seatbeltSandbox) Exec(ctx context.Context, name string, args []string) (*exec.Cmd, error) {
	sbArgs := append([]string{"-p", s.profile, name}, args...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", sbArgs...)
	cmd.Dir = s.tmpDir
	cmd.Env = []string{
		"PATH=/usr/bin:/bin:/usr/local/bin",
		"HOME=" + s.tmpDir,
		"TMPDIR=" + s.tmpDir,
	}
	return cmd, nil
}

func (s *seatbeltSandbox) PostStart(pid int) error {
	return nil // darwin has no post-start rlimit hook; Seatbelt covers confinement
}

func (s *seatbeltSandbox) Destroy() error {
	return os.RemoveAll(s.tmpDir)
}

// buildProfile renders a Seatbelt (sandbox-exec) profile string enforcing
// cfg's network, deny, deny-write, and mount-write rules.
//
// Profile grammar reference: the default posture is permissive (`allow
// default`) with explicit `deny` clauses layered on top — Seatbelt applies
// the most specific matching rule, and later rules can override earlier
// ones within the same category.
func buildProfile(cfg Config) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(allow default)\n")

	if cfg.NetworkNeed == NetworkNone {
		b.WriteString("(deny network*)\n")
	}

	for _, p := range cfg.Deny {
		fmt.Fprintf(&b, "(deny file-read* file-write* (subpath %q))\n", p)
	}

	for _, p := range cfg.DenyWrite {
		fmt.Fprintf(&b, "(deny file-write* (literal %q))\n", p)
	}

	if home, err := os.UserHomeDir(); err == nil {
		var writableMounts []string
		for _, m := range cfg.Mounts {
			if !m.ReadOnly && strings.HasPrefix(m.Source, home) {
				writableMounts = append(writableMounts, m.Source)
			}
		}
		if len(writableMounts) > 0 {
			fmt.Fprintf(&b, "(deny file-write* (subpath %q))\n", home)
			for _, m := range writableMounts {
				fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", m)
			}
		}
	}

	return b.String()
}

// detectLevel reports Standard when sandbox-exec is present (macOS's
// Seatbelt confines the filesystem but this package does not synthesize a
// syscall-level filter, so Full is never reported here), else None.
func detectLevel() Level {
	if _, err := exec.LookPath("sandbox-exec"); err == nil {
		return Standard
	}
	return None
}
