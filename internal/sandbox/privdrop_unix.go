//go:build linux || openbsd || freebsd || netbsd

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Privdrop chroots to root, changes directory to the new root, and drops
// to the given account's uid/gid. Irreversible; must run before the first
// pledge that excludes the id promise. An empty root skips the chroot and
// an empty user skips the id change, for unprivileged development runs.
func Privdrop(root, userName string) error {
	if root != "" {
		if err := unix.Chroot(root); err != nil {
			return fmt.Errorf("chroot %q: %w", root, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("chdir /: %w", err)
		}
	}

	if userName == "" {
		return nil
	}
	acct, err := LookupAccount(userName)
	if err != nil {
		return err
	}
	if err := unix.Setgroups([]int{int(acct.GID)}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresgid(int(acct.GID), int(acct.GID), int(acct.GID)); err != nil {
		return fmt.Errorf("setresgid: %w", err)
	}
	if err := unix.Setresuid(int(acct.UID), int(acct.UID), int(acct.UID)); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}
	return nil
}
