// Package protected implements the agent write deny list for
// security-critical files: policy files, the integrity manifest, the
// device key, and the audit log.
//
// The bash-command check is heuristic and bypassable — full enforcement
// requires OS-level sandboxing (the job of the sandbox package). The
// tool-level check here catches casual/accidental modifications and
// raises the bar for injection attacks.
package protected

import (
	"os"
	"path/filepath"
	"strings"
)

// Files in the workspace that the agent must not write to.
var Files = []string{"LocalGPT.md", ".localgpt_manifest.json", "IDENTITY.md"}

// Files outside the workspace (in the state directory) that the agent
// must not access. Checked as filename suffixes for defense in depth.
var ExternalPaths = []string{"localgpt.device.key", "localgpt.audit.jsonl"}

// IsWorkspaceFileProtected compares a workspace-relative filename's final
// path component against the protected files list. Case-sensitive.
func IsWorkspaceFileProtected(name string) bool {
	base := filepath.Base(name)
	for _, p := range Files {
		if base == p {
			return true
		}
	}
	return false
}

// IsPathProtected checks an arbitrary path against both workspace-internal
// and external (state directory) protected paths. It canonicalizes where
// possible and falls back to a filename comparison when the path doesn't
// resolve (e.g. the target doesn't exist yet, as with a pending write).
func IsPathProtected(path, workspace, stateDir string) bool {
	expanded := expandHome(path)

	if canonicalWorkspace, err := filepath.EvalSymlinks(workspace); err == nil {
		if canonicalPath, err := filepath.EvalSymlinks(expanded); err == nil {
			for _, p := range Files {
				if canonicalPath == filepath.Join(canonicalWorkspace, p) {
					return true
				}
			}
		}
	}

	if IsWorkspaceFileProtected(path) {
		return true
	}

	if canonicalState, err := filepath.EvalSymlinks(stateDir); err == nil {
		if canonicalPath, err := filepath.EvalSymlinks(expanded); err == nil {
			for _, p := range ExternalPaths {
				if canonicalPath == filepath.Join(canonicalState, p) {
					return true
				}
			}
		}
	}

	base := filepath.Base(path)
	for _, p := range ExternalPaths {
		if base == p {
			return true
		}
	}
	return false
}

// CheckBashCommand scans a shell command string for protected filenames,
// returning every one found. This is a heuristic — it catches common
// patterns (`echo > LocalGPT.md`, `cp x LocalGPT.md`, `sed -i ...
// LocalGPT.md`) but can be bypassed by obfuscation.
func CheckBashCommand(command string) []string {
	var found []string
	for _, name := range Files {
		if strings.Contains(command, name) {
			found = append(found, name)
		}
	}
	for _, name := range ExternalPaths {
		if strings.Contains(command, name) {
			found = append(found, name)
		}
	}
	return found
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
