package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/kernwatch/internal/metrics"
	"github.com/saworbit/kernwatch/internal/platform"
	"github.com/saworbit/kernwatch/internal/version"
	"github.com/saworbit/kernwatch/pkg/config"
	"github.com/saworbit/kernwatch/pkg/ebpf"
	"github.com/saworbit/kernwatch/pkg/emit"
	"github.com/saworbit/kernwatch/pkg/payload"
	"github.com/saworbit/kernwatch/pkg/probe"
	"github.com/saworbit/kernwatch/pkg/recorder"
	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "kernwatch",
		Short:   "kernwatch - runtime security event recorder",
		Version: version.Version,
	}

	root.AddCommand(newRunCmd(), newDumpCmd(), newVerifyCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var stateDir string
	var watchDir string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture security events into the Pebble journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}

			cfg := config.LoadFromEnv()
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runAgent(cmd.Context(), cfg, stateDir, watchDir)
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().StringVar(&watchDir, "watch", ".", "Directory the fsnotify backend watches")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Prometheus listen address (overrides KERNWATCH_METRICS_ADDR)")
	return cmd
}

func newDumpCmd() *cobra.Command {
	var stateDir string
	var withPayloads bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print journaled events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runDump(stateDir, withPayloads, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	cmd.Flags().BoolVar(&withPayloads, "payloads", false, "Inline auxiliary payloads into the output")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify journal integrity checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				return fmt.Errorf("state-dir is required")
			}
			return runVerify(stateDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory where Pebble state is stored")
	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config, stateDir, watchDir string) error {
	stateDir = platform.LongPathname(stateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	db, err := pebble.Open(stateDir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	payloads, err := payload.NewStore(db, cfg.PayloadCompressMin)
	if err != nil {
		return fmt.Errorf("init payload store: %w", err)
	}
	defer payloads.Close()

	features, err := cfg.FeatureMask()
	if err != nil {
		return err
	}
	ops, err := cfg.OpMask()
	if err != nil {
		return err
	}

	st, err := emit.NewState(emit.Options{
		RingBytes:    cfg.RingBytes,
		ScratchSlots: cfg.EffectiveScratchSlots(),
		ScratchBytes: cfg.ScratchBytes,
	})
	if err != nil {
		return fmt.Errorf("init shared state: %w", err)
	}

	boot := ebpf.BootEpochNanos()
	st.Arm(features, ops, boot)
	log.Printf("[Agent] armed: features=%s ops=%s boot=%d", features, ops, boot)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			logger := log.New(os.Stderr, "", log.LstdFlags)
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				log.Printf("[Metrics] server stopped: %v", err)
			}
		}()
	}
	metrics.SetUp(true)
	defer metrics.SetUp(false)

	consumer := recorder.NewConsumer(st, db, payloads, cfg.ConsumerIdleWait, cfg.CheckpointInterval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	backend, err := startCapture(ctx, cfg, st, watchDir, &wg)
	if err != nil {
		cancel()
		wg.Wait()
		return err
	}
	metrics.SetAgentInfo(runtime.GOOS, runtime.GOARCH, version.Version, backend)
	log.Printf("[Agent] capture backend: %s", backend)

	<-ctx.Done()
	wg.Wait()

	if err := db.Flush(); err != nil {
		return fmt.Errorf("flush pebble: %w", err)
	}
	return nil
}

// startCapture picks the kernel-backed path when configured and possible,
// otherwise falls back to the fsnotify backend. Kernel events are decoded
// off the bpf ring and re-injected into the shared ring so the consumer
// stays its single reader.
func startCapture(ctx context.Context, cfg *config.Config, st *emit.State, watchDir string, wg *sync.WaitGroup) (string, error) {
	if cfg.EBPF.Enable {
		err := startKernelCapture(ctx, cfg, st, wg)
		if err == nil {
			return "ebpf", nil
		}
		if !cfg.EBPF.FallbackFSNotify {
			return "", err
		}
		log.Printf("[Agent] kernel capture unavailable, falling back to fsnotify: %v", err)
	}

	watcher, err := probe.NewWatcher(platform.LongPathname(watchDir), cfg.EffectiveWorkers(), probe.NewEmitter(st))
	if err != nil {
		return "", fmt.Errorf("start fsnotify backend: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()
	return "fsnotify", nil
}

func startKernelCapture(ctx context.Context, cfg *config.Config, st *emit.State, wg *sync.WaitGroup) error {
	if err := preflightKernelCapture(cfg.EBPF.ProgramPath); err != nil {
		return err
	}

	mgr, err := ebpf.NewManager(&cfg.EBPF, st.Gate().Features(), st.Gate().Ops(), st.TimeBase().BootEpochNanos())
	if err != nil {
		if errors.Is(err, ebpf.ErrUnsupported) {
			return err
		}
		return fmt.Errorf("init ebpf manager: %w", err)
	}

	if err := mgr.Start(ctx); err != nil {
		mgr.Close()
		return fmt.Errorf("start ebpf manager: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer mgr.Close()
		for evt := range mgr.Events() {
			st.Ring().Submit(probe.EncodeEvent(evt))
		}
	}()
	return nil
}

func runDump(stateDir string, withPayloads bool, out io.Writer) error {
	db, err := pebble.Open(platform.LongPathname(stateDir), &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	cfg := config.DefaultConfig()
	payloads, err := payload.NewStore(db, cfg.PayloadCompressMin)
	if err != nil {
		return fmt.Errorf("init payload store: %w", err)
	}
	defer payloads.Close()

	enc := json.NewEncoder(out)
	journal := recorder.NewJournal(db)

	var walkErr error
	err = journal.Walk(func(key []byte, entry recorder.Entry) bool {
		line := dumpLine{
			Key:       string(key),
			Timestamp: time.Unix(0, entry.Timestamp).UTC().Format(time.RFC3339Nano),
			Op:        entry.Op,
			PID:       entry.PID,
			Slot:      entry.Slot,
			AuxCID:    entry.AuxCID,
			AuxLen:    entry.AuxLen,
		}

		if withPayloads && entry.AuxCID != "" {
			data, err := payloads.Get(entry.AuxCID)
			if err != nil {
				log.Printf("[dump] payload %s unavailable: %v", entry.AuxCID, err)
			} else {
				line.Aux = string(data)
			}
		}

		if err := enc.Encode(line); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return walkErr
}

type dumpLine struct {
	Key       string `json:"key"`
	Timestamp string `json:"ts"`
	Op        string `json:"op"`
	PID       uint32 `json:"pid"`
	Slot      int    `json:"slot"`
	AuxCID    string `json:"aux_cid,omitempty"`
	AuxLen    int    `json:"aux_len,omitempty"`
	Aux       string `json:"aux,omitempty"`
}

func runVerify(stateDir string, out io.Writer) error {
	db, err := pebble.Open(platform.LongPathname(stateDir), &pebble.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	defer db.Close()

	ckpts, err := recorder.Checkpoints(db)
	if err != nil {
		return err
	}
	if len(ckpts) == 0 {
		fmt.Fprintln(out, "no checkpoints recorded")
		return nil
	}

	var failed int
	for _, ckpt := range ckpts {
		if err := recorder.VerifyCheckpoint(db, ckpt); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", ckpt.Root, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d entries)\n", ckpt.Root, ckpt.Count)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checkpoints failed verification", failed, len(ckpts))
	}
	fmt.Fprintf(out, "all %d checkpoints verified\n", len(ckpts))
	return nil
}
