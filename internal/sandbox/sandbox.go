// Package sandbox wraps the pledge/unveil capability mechanisms and the
// chroot+setuid privilege drop performed at process life-cycle boundaries.
// On platforms without pledge/unveil the capability calls are no-ops; the
// privilege drop is real wherever the syscalls exist.
package sandbox

import (
	"fmt"
	"os/user"
	"strconv"
)

// Account holds the resolved uid/gid of an unprivileged service account.
type Account struct {
	UID uint32
	GID uint32
}

// LookupAccount resolves a user name to its uid and primary gid.
func LookupAccount(name string) (Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return Account{}, fmt.Errorf("lookup user %q: %w", name, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return Account{UID: uint32(uid), GID: uint32(gid)}, nil
}
