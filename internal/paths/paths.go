// Package paths resolves the XDG-style directories LocalGPT reads and
// writes under, and exposes typed accessors for the individual files it
// owns. Every directory is created with mode 0700 on POSIX.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Paths holds the resolved directory roots for one process.
type Paths struct {
	ConfigDir  string
	DataDir    string
	StateDir   string
	CacheDir   string
	RuntimeDir string
	Workspace  string
}

// Resolve builds a Paths from the real process environment.
func Resolve() (*Paths, error) {
	return ResolveWithEnv(os.Getenv)
}

// ResolveWithEnv builds a Paths using a caller-supplied env lookup, so the
// precedence rules can be tested without touching the real environment.
func ResolveWithEnv(getenv func(string) string) (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	configDir := envOr(getenv, "LOCALGPT_CONFIG_DIR", func() string {
		return filepath.Join(xdgBase(getenv, "XDG_CONFIG_HOME", filepath.Join(home, ".config")), "localgpt")
	})
	dataDir := envOr(getenv, "LOCALGPT_DATA_DIR", func() string {
		return filepath.Join(xdgBase(getenv, "XDG_DATA_HOME", filepath.Join(home, ".local", "share")), "localgpt")
	})
	stateDir := envOr(getenv, "LOCALGPT_STATE_DIR", func() string {
		return filepath.Join(xdgBase(getenv, "XDG_STATE_HOME", filepath.Join(home, ".local", "state")), "localgpt")
	})
	cacheDir := envOr(getenv, "LOCALGPT_CACHE_DIR", func() string {
		return filepath.Join(xdgBase(getenv, "XDG_CACHE_HOME", filepath.Join(home, ".cache")), "localgpt")
	})

	workspace := resolveWorkspace(getenv, dataDir)
	runtimeDir := resolveRuntimeDir(getenv)

	p := &Paths{
		ConfigDir:  configDir,
		DataDir:    dataDir,
		StateDir:   stateDir,
		CacheDir:   cacheDir,
		RuntimeDir: runtimeDir,
		Workspace:  workspace,
	}
	return p, nil
}

// envOr resolves a LocalGPT-specific env var if it is set to a non-empty,
// absolute path; otherwise it calls fallback. Per XDG convention, relative
// paths from the environment are ignored, not treated as errors.
func envOr(getenv func(string) string, key string, fallback func() string) string {
	if v := getenv(key); v != "" && filepath.IsAbs(v) {
		return v
	}
	return fallback()
}

// xdgBase resolves a generic XDG_*_HOME var, falling back to the platform
// default when absent, empty, or relative.
func xdgBase(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" && filepath.IsAbs(v) {
		return v
	}
	return def
}

func resolveWorkspace(getenv func(string) string, dataDir string) string {
	if ws := getenv("LOCALGPT_WORKSPACE"); ws != "" {
		if expanded := expandHome(ws); filepath.IsAbs(expanded) {
			return expanded
		}
	}
	if profile := getenv("LOCALGPT_PROFILE"); profile != "" && profile != "default" {
		return filepath.Join(dataDir, "workspace-"+profile)
	}
	return filepath.Join(dataDir, "workspace")
}

func resolveRuntimeDir(getenv func(string) string) string {
	if dir := getenv("XDG_RUNTIME_DIR"); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, "localgpt")
	}
	tmp := getenv("TMPDIR")
	if tmp == "" {
		tmp = "/tmp"
	}
	return filepath.Join(tmp, "localgpt-"+strconv.Itoa(os.Getuid()))
}

func expandHome(p string) string {
	if p == "~" || (len(p) > 1 && p[:2] == "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// EnsureDirs creates every resolved directory with mode 0700.
func (p *Paths) EnsureDirs() error {
	dirs := []string{p.ConfigDir, p.DataDir, p.StateDir, p.CacheDir, p.RuntimeDir, p.Workspace}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
		if err := os.Chmod(d, 0o700); err != nil {
			return fmt.Errorf("chmod directory %s: %w", d, err)
		}
	}
	return nil
}

// ── Typed file accessors ──

func (p *Paths) ConfigFile() string { return filepath.Join(p.ConfigDir, "config.yaml") }

func (p *Paths) DeviceKeyFile() string { return filepath.Join(p.DataDir, "localgpt.device.key") }

func (p *Paths) AuditLogFile() string { return filepath.Join(p.StateDir, "localgpt.audit.jsonl") }

func (p *Paths) PolicyFile() string { return filepath.Join(p.Workspace, "LocalGPT.md") }

func (p *Paths) ManifestFile() string { return filepath.Join(p.Workspace, ".localgpt_manifest.json") }

func (p *Paths) IdentityFile() string { return filepath.Join(p.Workspace, "IDENTITY.md") }

func (p *Paths) MemoryFile() string { return filepath.Join(p.Workspace, "MEMORY.md") }

func (p *Paths) DailyLogFile(date string) string {
	return filepath.Join(p.Workspace, "memory", date+".md")
}

func (p *Paths) PendingTasksFile() string { return filepath.Join(p.Workspace, "PENDING.md") }

// MemoryDir returns the daily-log directory under the workspace.
func (p *Paths) MemoryDir() string { return filepath.Join(p.Workspace, "memory") }

// SkillsDir returns the workspace directory holding *.md skill files.
func (p *Paths) SkillsDir() string { return filepath.Join(p.Workspace, "skills") }

// SessionsDir returns the per-agent JSONL session directory.
func (p *Paths) SessionsDir(agentID string) string {
	return filepath.Join(p.StateDir, "agents", agentID, "sessions")
}

// SessionsMetaFile returns the path to the sessions.json metadata map.
func (p *Paths) SessionsMetaFile(agentID string) string {
	return filepath.Join(p.SessionsDir(agentID), "sessions.json")
}

// SearchIndexFile returns the sqlite memory index path for an agent.
func (p *Paths) SearchIndexFile(agentID string) string {
	return filepath.Join(p.CacheDir, "memory", agentID+".sqlite")
}

// EmbeddingCacheDir returns the cache directory for embedding vectors.
func (p *Paths) EmbeddingCacheDir() string { return filepath.Join(p.CacheDir, "embeddings") }

// WorkspaceLockFile returns the advisory lock path for the workspace.
func (p *Paths) WorkspaceLockFile() string {
	return filepath.Join(p.RuntimeDir, "workspace.lock")
}

// PIDFile returns the daemon PID file path.
func (p *Paths) PIDFile() string { return filepath.Join(p.RuntimeDir, "daemon.pid") }

// SocketFile returns the daemon's unix-socket transport path.
func (p *Paths) SocketFile() string { return filepath.Join(p.RuntimeDir, "daemon.sock") }
