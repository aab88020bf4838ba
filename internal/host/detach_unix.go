//go:build !windows

package host

import "syscall"

// DetachedAttr starts a child in its own session so it outlives agswitch.
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
