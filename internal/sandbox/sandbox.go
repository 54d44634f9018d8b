package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Sandbox provides isolated execution of commands.
type Sandbox interface {
	Exec(ctx context.Context, name string, args []string) (*exec.Cmd, error)
	PostStart(pid int) error // apply rlimits etc. after process starts
	Destroy() error
}

// Mount describes a filesystem mount for the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// NetworkNeed classifies how much outbound network access a sandboxed
// command requires, independent of the filesystem isolation Level. The
// mechanism-level backends (linux.go, apple.go) key their namespace/seatbelt
// decisions off this field rather than off Level.
type NetworkNeed int

const (
	NetworkNone  NetworkNeed = iota // no outbound network
	NetworkLocal                   // localhost/loopback only
	NetworkHTTPS                   // a fixed set of remote hosts (via domain proxy)
	NetworkFull                    // unrestricted outbound network
)

func (n NetworkNeed) String() string {
	switch n {
	case NetworkNone:
		return "none"
	case NetworkLocal:
		return "local"
	case NetworkHTTPS:
		return "https"
	case NetworkFull:
		return "full"
	default:
		return "unknown"
	}
}

// NetworkNeedFromDomains derives the minimum NetworkNeed that satisfies a
// domain allowlist: "*" requires Full, an allowlist of only loopback hosts
// requires Local, any other non-empty allowlist requires HTTPS (proxied),
// and an empty allowlist requires nothing.
func NetworkNeedFromDomains(domains []string) NetworkNeed {
	if len(domains) == 0 {
		return NetworkNone
	}
	for _, d := range domains {
		if d == "*" {
			return NetworkFull
		}
	}
	allLocal := true
	for _, d := range domains {
		if d != "localhost" && d != "127.0.0.1" {
			allLocal = false
			break
		}
	}
	if allLocal {
		return NetworkLocal
	}
	return NetworkHTTPS
}

// Config holds sandbox creation parameters.
type Config struct {
	Isolation   Level
	Mounts      []Mount
	Deny        []string // paths to mask entirely (e.g. ~/.ssh)
	DenyWrite   []string // specific files to make read-only regardless of mounts
	NetworkNeed NetworkNeed
	Timeout     time.Duration
	CPULimit    time.Duration // RLIMIT_CPU (0 = backend default)
	MemLimit    uint64        // RLIMIT_AS in bytes (0 = backend default)
	MaxFDs      uint32        // RLIMIT_NOFILE (0 = backend default)
}

// EnforcementError is returned when the system cannot enforce the requested sandbox config.
type EnforcementError struct {
	Gaps     []string
	Platform string
}

func (e *EnforcementError) Error() string {
	msg := "system incapable of enforcing: " + strings.Join(e.Gaps, ", ")
	if e.Platform != "" {
		msg += ". " + e.Platform
	}
	return msg
}

// New creates a platform-appropriate sandbox. On Linux and macOS it returns
// EnforcementError if the platform cannot enforce the requested isolation,
// with no fallback. On other platforms it returns the process-level
// fallback sandbox, which logs a warning and enforces no confinement.
func New(cfg Config) (Sandbox, error) {
	s, err := newPlatform(cfg)
	if err == nil {
		return s, nil
	}
	return nil, newEnforcementError(cfg, err)
}

func newEnforcementError(cfg Config, platformErr error) *EnforcementError {
	var gaps []string
	if cfg.NetworkNeed == NetworkNone {
		gaps = append(gaps, "network isolation")
	}
	gaps = append(gaps, "filesystem isolation")
	if len(cfg.Deny) > 0 {
		gaps = append(gaps, fmt.Sprintf("deny paths (%d)", len(cfg.Deny)))
	}
	if cfg.CPULimit > 0 || cfg.MemLimit > 0 || cfg.MaxFDs > 0 {
		gaps = append(gaps, "resource limits")
	}
	return &EnforcementError{
		Gaps:     gaps,
		Platform: platformHelp(),
	}
}

func platformHelp() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS: requires sandbox-exec (Seatbelt) on PATH"
	case "linux":
		return "Linux: requires root or CAP_SYS_ADMIN (try: sudo setcap cap_sys_admin+ep /path/to/localgpt-sandbox)"
	default:
		return fmt.Sprintf("platform %s: no sandbox backend available", runtime.GOOS)
	}
}
