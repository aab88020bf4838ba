//go:build windows

package host

import "syscall"

const createNewProcessGroup = 0x00000200

// DetachedAttr starts a child in a new process group.
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
