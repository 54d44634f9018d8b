//go:build !linux && !darwin

package sandbox

// detectLevel reports None on platforms with no sandbox backend.
func detectLevel() Level {
	return None
}
