//go:build !linux && !darwin

package sandbox

// newPlatform has no real backend outside Linux and macOS; the fallback
// gives process-level isolation only: a private tmpdir as working directory
// and TMPDIR, with no rlimits, deny paths or network confinement.
func newPlatform(cfg Config) (Sandbox, error) {
	return newFallback(cfg)
}
