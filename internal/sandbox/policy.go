package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Policy is the serializable sandbox configuration passed from the parent
// process to the sandboxed child as a JSON-encoded argv slot. It is
// immutable once built.
type Policy struct {
	Workspace       string        `json:"workspace"`
	ReadOnlyRoots   []string      `json:"read_only_roots"`
	ExtraWriteRoots []string      `json:"extra_write_roots"`
	DenyRoots       []string      `json:"deny_roots"`
	Network         NetworkPolicy `json:"network"`
	TimeoutSecs     int           `json:"timeout_secs"`
	MaxOutputBytes  int           `json:"max_output_bytes"`
	RlimitFsize     uint64        `json:"rlimit_fsize"`
	RlimitNproc     uint64        `json:"rlimit_nproc"`
	Level           Level         `json:"level"`
}

// NetworkMode is the sandbox policy's network field: a command either has
// no outbound network at all, or is routed through a domain-filtering
// CONNECT proxy.
type NetworkMode string

const (
	NetworkDeny       NetworkMode = "deny"
	NetworkAllowProxy NetworkMode = "allow-proxy"
)

// NetworkPolicy is the network ∈ {deny, allow-proxy(path)} field of Policy.
// Path is the proxy's listen address (host:port) when Mode is
// NetworkAllowProxy, and empty otherwise.
type NetworkPolicy struct {
	Mode NetworkMode `json:"mode"`
	Path string      `json:"path,omitempty"`
}

// DenyNetwork is the zero-configuration NetworkPolicy: no outbound network.
func DenyNetwork() NetworkPolicy {
	return NetworkPolicy{Mode: NetworkDeny}
}

// AllowProxyNetwork is the NetworkPolicy for a command routed through the
// domain-filtering proxy listening at addr (host:port).
func AllowProxyNetwork(addr string) NetworkPolicy {
	return NetworkPolicy{Mode: NetworkAllowProxy, Path: addr}
}

// defaultCredentialDirs returns the credential directories under HOME that
// a sandboxed command must never read or write, regardless of the caller's
// own deny list.
func defaultCredentialDirs(home string) []string {
	names := []string{
		".ssh", ".aws", ".gnupg", ".docker", ".kube",
		".npmrc", ".pypirc", ".netrc", ".config/gh",
	}
	dirs := make([]string, 0, len(names))
	for _, n := range names {
		dirs = append(dirs, filepath.Join(home, n))
	}
	return dirs
}

// defaultReadOnlyRoots returns the system directories a sandboxed command
// may read (but never write) on the current platform.
func defaultReadOnlyRoots() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr", "/bin", "/System/Library", "/Library", "/opt/homebrew"}
	default:
		return []string{"/usr", "/bin", "/lib", "/lib64", "/etc"}
	}
}

// Detect probes the current host's sandboxing capability and returns the
// highest Level it can actually enforce. It never returns a level the host
// cannot support — callers computing an effective level must still take
// min(requested, Detect()).
func Detect() Level {
	return detectLevel()
}

// EffectiveLevel returns the strictest level that is both requested and
// actually supported by the host. An effective level below the requested
// one must always be surfaced to the caller (CLI output, sandbox status) —
// never silently widened back up to what was requested.
func EffectiveLevel(requested, supported Level) Level {
	if requested < supported {
		return requested
	}
	return supported
}

// BuildPolicy constructs the serializable Policy for a command confined to
// workspace at the given level, merging caller-supplied extra write roots
// and deny roots with the platform defaults.
func BuildPolicy(workspace string, level Level, extraWriteRoots, extraDenyRoots []string, network NetworkPolicy, timeoutSecs, maxOutputBytes int) Policy {
	home, _ := os.UserHomeDir()

	deny := append([]string{}, defaultCredentialDirs(home)...)
	deny = append(deny, extraDenyRoots...)

	writeRoots := append([]string{os.TempDir()}, extraWriteRoots...)

	return Policy{
		Workspace:       workspace,
		ReadOnlyRoots:   defaultReadOnlyRoots(),
		ExtraWriteRoots: writeRoots,
		DenyRoots:       deny,
		Network:         network,
		TimeoutSecs:     timeoutSecs,
		MaxOutputBytes:  maxOutputBytes,
		RlimitFsize:     0,
		RlimitNproc:     0,
		Level:           level,
	}
}

// toJSON/policyFromJSON are the argv-slot transport the executor and the
// child entry point share.
func (p Policy) toJSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal sandbox policy: %w", err)
	}
	return string(b), nil
}

func policyFromJSON(s string) (Policy, error) {
	var p Policy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Policy{}, fmt.Errorf("parse sandbox policy: %w", err)
	}
	return p, nil
}

// toConfig translates a Policy into the lower-level Config that the
// platform backends (linuxSandbox, seatbeltSandbox, fallbackSandbox)
// understand.
func (p Policy) toConfig() Config {
	var mounts []Mount
	mounts = append(mounts, Mount{Source: p.Workspace, Target: p.Workspace, ReadOnly: false})
	for _, r := range p.ExtraWriteRoots {
		mounts = append(mounts, Mount{Source: r, Target: r, ReadOnly: false})
	}
	for _, r := range p.ReadOnlyRoots {
		mounts = append(mounts, Mount{Source: r, Target: r, ReadOnly: true})
	}

	need := NetworkNone
	if p.Network.Mode == NetworkAllowProxy {
		need = NetworkHTTPS
	}

	return Config{
		Isolation:   p.Level,
		Mounts:      mounts,
		Deny:        p.DenyRoots,
		NetworkNeed: need,
		Timeout:     time.Duration(p.TimeoutSecs) * time.Second,
		MaxFDs:      0,
	}
}

// Probe reports whether the host can actually enforce policy's level,
// without running anything. It backs the `sandbox status`/`sandbox test`
// CLI surface: New() is the same entry point Executor.Run would hit, so on
// Linux and macOS a nil *EnforcementError here is a reliable predictor that
// Run will enforce confinement rather than silently falling back.
func Probe(policy Policy) (*EnforcementError, error) {
	sb, err := New(policy.toConfig())
	if err != nil {
		var enforcementErr *EnforcementError
		if errors.As(err, &enforcementErr) {
			return enforcementErr, nil
		}
		return nil, err
	}
	return nil, sb.Destroy()
}
