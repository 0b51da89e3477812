//go:build !windows

package main

import (
	"fmt"
	"os"
	"syscall"
)

// preflightKernelCapture verifies the compiled eBPF object is readable and
// that the process is privileged enough to load it. Loading programs needs
// root or CAP_BPF; checking up front yields a clearer error than the
// verifier's EPERM.
func preflightKernelCapture(programPath string) error {
	info, err := os.Stat(programPath)
	if err != nil {
		return fmt.Errorf("stat eBPF object: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("eBPF object %s is a directory", programPath)
	}

	if err := ensureReadable(programPath, info); err != nil {
		return err
	}

	if os.Geteuid() != 0 {
		return fmt.Errorf("kernel capture requires root (or CAP_BPF); running as uid %d", os.Geteuid())
	}
	return nil
}

// ensureReadable returns an error if the current user would normally be
// denied read access to the file even if elevated privileges allow it.
func ensureReadable(path string, info os.FileInfo) error {
	perms := info.Mode().Perm()

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	switch {
	case int(stat.Uid) == os.Geteuid():
		if perms&0400 == 0 {
			return fmt.Errorf("permission denied reading %s: owner has no read bit", path)
		}
	case memberOfGroup(int(stat.Gid)):
		if perms&0040 == 0 {
			return fmt.Errorf("permission denied reading %s: group has no read bit", path)
		}
	default:
		if perms&0004 == 0 {
			return fmt.Errorf("permission denied reading %s: others have no read bit", path)
		}
	}
	return nil
}

func memberOfGroup(gid int) bool {
	if gid == os.Getegid() {
		return true
	}
	groups, err := syscall.Getgroups()
	if err != nil {
		return false
	}
	for _, g := range groups {
		if int(g) == gid {
			return true
		}
	}
	return false
}
