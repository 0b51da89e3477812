//go:build windows

package main

import "fmt"

// Windows has no eBPF loader, so the kernel capture preflight always fails.
// The fsnotify backend is the only capture path on this platform.
func preflightKernelCapture(_ string) error {
	return fmt.Errorf("kernel capture is not available on Windows")
}
