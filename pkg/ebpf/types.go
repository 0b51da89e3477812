package ebpf

import (
	"context"
	"errors"

	"github.com/saworbit/kernwatch/pkg/probe"
)

// ErrUnsupported is returned when the current platform cannot host eBPF programs
var ErrUnsupported = errors.New("eBPF capture is only supported on Linux kernels >= 5.8")

// Manager exposes kernel-level event capture regardless of platform
type Manager interface {
	Start(ctx context.Context) error
	Close() error
	Events() <-chan probe.Event
}
