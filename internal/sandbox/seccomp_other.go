//go:build linux && !amd64

package sandbox

// No arch-specific denied syscalls outside x86: IOPL/IOPERM/MODIFY_LDT
// don't exist on arm64 and friends.
var deniedSyscallsArch []uint32
