//go:build openbsd

package sandbox

import "golang.org/x/sys/unix"

// Pledge narrows the process's allowed syscalls to the given promise set.
func Pledge(promises string) error {
	return unix.PledgePromises(promises)
}

// Unveil exposes path with the given permissions. An empty permission
// string records an explicit deny.
func Unveil(path, perms string) error {
	return unix.Unveil(path, perms)
}

// UnveilBlock prevents any further unveil calls.
func UnveilBlock() error {
	return unix.UnveilBlock()
}
