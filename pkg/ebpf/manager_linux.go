//go:build linux

package ebpf

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/saworbit/kernwatch/pkg/config"
	"github.com/saworbit/kernwatch/pkg/flags"
	"github.com/saworbit/kernwatch/pkg/probe"
)

var _ Manager = (*kernelManager)(nil)

type kernelManager struct {
	cfg     *config.EBPFConfig
	objs    bpfObjects
	btfSpec *btf.Spec
	links   []link.Link
	reader  *ringbuf.Reader

	events chan probe.Event

	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// NewManager loads a compiled eBPF object, seeds its gate constants and
// prepares the kernel-side event ring for draining.
func NewManager(cfg *config.EBPFConfig, features flags.FeatureFlags, ops flags.OpFlags, bootEpochNs uint64) (Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ebpf configuration is required")
	}
	if cfg.ProgramPath == "" {
		return nil, fmt.Errorf("ebpf program path is required")
	}

	var (
		btfSpec   *btf.Spec
		btfSource string
		err       error
	)

	if loader := NewBTFLoader(cfg); loader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		btfSpec, btfSource, err = loader.LoadSpec(ctx)
		if err != nil {
			return nil, fmt.Errorf("btf load failed: %w", err)
		}
		if btfSource != "" {
			log.Printf("[eBPF] Loaded BTF spec from %s", btfSource)
		}
	}

	m := &kernelManager{
		cfg:     cfg,
		btfSpec: btfSpec,
		events:  make(chan probe.Event, 1024),
	}

	if err := m.init(features, ops, bootEpochNs); err != nil {
		_ = m.Close()
		return nil, err
	}

	return m, nil
}

func (m *kernelManager) init(features flags.FeatureFlags, ops flags.OpFlags, bootEpochNs uint64) error {
	var opts ebpf.CollectionOptions
	if m.btfSpec != nil {
		opts.Programs = ebpf.ProgramOptions{
			KernelTypes: m.btfSpec,
		}
	}

	if err := m.loadObjects(&opts, features, ops, bootEpochNs); err != nil {
		return err
	}

	if err := m.attachProbes(); err != nil {
		return err
	}

	reader, err := ringbuf.NewReader(m.objs.Events)
	if err != nil {
		return fmt.Errorf("create event ring buffer: %w", err)
	}
	m.reader = reader

	return nil
}

func (m *kernelManager) loadObjects(opts *ebpf.CollectionOptions, features flags.FeatureFlags, ops flags.OpFlags, bootEpochNs uint64) error {
	f, err := os.Open(m.cfg.ProgramPath)
	if err != nil {
		return fmt.Errorf("open eBPF object (%s): %w", m.cfg.ProgramPath, err)
	}
	defer f.Close()

	spec, err := ebpf.LoadCollectionSpecFromReader(f)
	if err != nil {
		return fmt.Errorf("load eBPF spec: %w", err)
	}

	// The kernel side keeps its gate and time origin in rodata constants
	// that the verifier folds into the programs at load time.
	consts := map[string]interface{}{
		"FEATURE_FLAGS": uint8(features),
		"OP_FLAGS":      uint64(ops),
		"BOOT_TIME":     bootEpochNs,
	}
	if err := spec.RewriteConstants(consts); err != nil {
		return fmt.Errorf("rewrite gate constants: %w", err)
	}

	// One scratch slot per possible CPU so concurrent programs never share.
	if aux, ok := spec.Maps["aux_buffers"]; ok {
		aux.MaxEntries = uint32(runtime.NumCPU())
	}

	if err := spec.LoadAndAssign(&m.objs, opts); err != nil {
		return fmt.Errorf("assign eBPF objects: %w", err)
	}
	return nil
}

func (m *kernelManager) attachProbes() error {
	type probeCfg struct {
		prog    *ebpf.Program
		symbols []string
	}

	probes := []probeCfg{
		{prog: m.objs.KprobeSecurityFileOpen, symbols: []string{"security_file_open"}},
		{prog: m.objs.KprobeSecurityInodeUnlink, symbols: []string{"security_inode_unlink"}},
		{prog: m.objs.KprobeSecurityInodeRename, symbols: []string{"security_inode_rename"}},
		{prog: m.objs.KprobeSecuritySocketBind, symbols: []string{"security_socket_bind"}},
		{prog: m.objs.KprobeSecuritySocketConn, symbols: []string{"security_socket_connect"}},
	}

	for _, pc := range probes {
		if pc.prog == nil {
			continue
		}

		var attached bool
		for _, symbol := range pc.symbols {
			l, err := link.Kprobe(symbol, pc.prog, nil)
			if err != nil {
				continue
			}
			m.links = append(m.links, l)
			attached = true
			break
		}

		if !attached {
			return fmt.Errorf("failed to attach probe (symbols=%v)", pc.symbols)
		}
	}

	if m.objs.TracepointSchedProcessExec != nil {
		tp, err := link.Tracepoint("sched", "sched_process_exec", m.objs.TracepointSchedProcessExec, nil)
		if err != nil {
			log.Printf("[eBPF] exec tracing unavailable: %v", err)
		} else {
			m.links = append(m.links, tp)
		}
	}

	return nil
}

// Start begins draining the kernel ring buffer into the events channel
func (m *kernelManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if m.reader == nil {
		return fmt.Errorf("ring buffer reader not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.consumeEvents(runCtx)

	m.running = true
	return nil
}

func (m *kernelManager) consumeEvents(ctx context.Context) {
	defer close(m.events)

	for {
		record, err := m.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Printf("[eBPF] ringbuf read error: %v", err)
			continue
		}

		event, err := probe.DecodeEvent(record.RawSample)
		if err != nil {
			log.Printf("[eBPF] decode event failed: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case m.events <- event:
		}
	}
}

func (m *kernelManager) Events() <-chan probe.Event {
	return m.events
}

func (m *kernelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if m.reader != nil {
		m.reader.Close()
		m.reader = nil
	}

	for _, l := range m.links {
		l.Close()
	}
	m.links = nil

	m.running = false
	return m.objs.Close()
}

// BootEpochNanos derives the kernel boot instant from /proc/uptime.
// Falls back to the current time when uptime cannot be read.
func BootEpochNanos() uint64 {
	now := time.Now().UnixNano()

	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return uint64(now)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return uint64(now)
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return uint64(now)
	}

	boot := now - int64(uptime*float64(time.Second))
	if boot <= 0 {
		return uint64(now)
	}
	return uint64(boot)
}
