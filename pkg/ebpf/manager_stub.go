//go:build !linux

package ebpf

import (
	"context"
	"fmt"
	"time"

	"github.com/saworbit/kernwatch/pkg/config"
	"github.com/saworbit/kernwatch/pkg/flags"
	"github.com/saworbit/kernwatch/pkg/probe"
)

type stubManager struct{}

// NewManager reports unsupported platforms when Linux eBPF is unavailable.
func NewManager(_ *config.EBPFConfig, _ flags.FeatureFlags, _ flags.OpFlags, _ uint64) (Manager, error) {
	return nil, ErrUnsupported
}

func (stubManager) Start(context.Context) error { return fmt.Errorf("ebpf unavailable") }
func (stubManager) Close() error                { return nil }
func (stubManager) Events() <-chan probe.Event  { return nil }

// BootEpochNanos approximates the boot instant where the kernel cannot
// report one. Using the current time yields raw timestamps downstream.
func BootEpochNanos() uint64 {
	return uint64(time.Now().UnixNano())
}
