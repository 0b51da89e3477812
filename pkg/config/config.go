package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/saworbit/kernwatch/pkg/flags"
	"github.com/saworbit/kernwatch/pkg/probe"
)

// Config holds the load-time configuration of the agent. Sizing values are
// fixed for the lifetime of the process; there is no runtime reconfiguration.
type Config struct {
	// Features names the enabled feature flags ("all" enables every one).
	Features []string

	// Ops names the enabled operation flags ("all" enables every one).
	Ops []string

	// RingBytes is the event ring capacity; must be a power of two.
	RingBytes int

	// ScratchSlots is the number of per-worker scratch buffers. Zero means
	// the host CPU count, matching the kernel-side per-CPU sizing.
	ScratchSlots int

	// ScratchBytes is the fixed capacity of one scratch buffer.
	ScratchBytes int

	// Workers is the number of probe dispatch workers; each owns one
	// scratch slot, so it is capped at ScratchSlots.
	Workers int

	// MetricsAddr is the Prometheus listen address; empty disables it.
	MetricsAddr string

	// ConsumerIdleWait is how long the consumer backs off on an empty ring.
	ConsumerIdleWait time.Duration

	// CheckpointInterval is the number of journal entries per integrity
	// checkpoint; zero disables checkpointing.
	CheckpointInterval int

	// PayloadCompressMin is the payload size above which the store
	// compresses with zstd.
	PayloadCompressMin int

	// EBPF holds configuration for the kernel-backed capture path.
	EBPF EBPFConfig
}

// EBPFConfig captures settings for kernel-level event capture.
type EBPFConfig struct {
	Enable           bool
	ProgramPath      string
	FallbackFSNotify bool
	BTF              BTFConfig
}

// BTFConfig controls CO-RE type information discovery.
type BTFConfig struct {
	CacheDir      string
	AllowDownload bool
	HubMirror     string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Features:           []string{"all"},
		Ops:                []string{"all"},
		RingBytes:          256 * 1024, // 128 pages
		ScratchSlots:       0,          // host CPU count
		ScratchBytes:       64 * 1024,
		Workers:            0, // one per scratch slot
		MetricsAddr:        "",
		ConsumerIdleWait:   time.Millisecond,
		CheckpointInterval: 256,
		PayloadCompressMin: 512,
		EBPF: EBPFConfig{
			Enable:           false,
			ProgramPath:      "",
			FallbackFSNotify: true,
			BTF: BTFConfig{
				AllowDownload: false,
			},
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("KERNWATCH_FEATURES"); v != "" {
		cfg.Features = splitList(v)
	}
	if v := os.Getenv("KERNWATCH_OPS"); v != "" {
		cfg.Ops = splitList(v)
	}
	if v := os.Getenv("KERNWATCH_RING_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RingBytes = n
		}
	}
	if v := os.Getenv("KERNWATCH_SCRATCH_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScratchSlots = n
		}
	}
	if v := os.Getenv("KERNWATCH_SCRATCH_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScratchBytes = n
		}
	}
	if v := os.Getenv("KERNWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("KERNWATCH_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("KERNWATCH_CONSUMER_IDLE_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConsumerIdleWait = d
		}
	}
	if v := os.Getenv("KERNWATCH_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CheckpointInterval = n
		}
	}
	if v := os.Getenv("KERNWATCH_PAYLOAD_COMPRESS_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PayloadCompressMin = n
		}
	}

	if v := os.Getenv("KERNWATCH_ENABLE_EBPF"); v != "" {
		cfg.EBPF.Enable = isTrue(v)
	}
	if v := os.Getenv("KERNWATCH_EBPF_PROGRAM"); v != "" {
		cfg.EBPF.ProgramPath = v
	}
	if v := os.Getenv("KERNWATCH_FALLBACK_FSNOTIFY"); v != "" {
		cfg.EBPF.FallbackFSNotify = isTrue(v)
	}
	if v := os.Getenv("KERNWATCH_BTF_CACHE_DIR"); v != "" {
		cfg.EBPF.BTF.CacheDir = v
	}
	if v := os.Getenv("KERNWATCH_BTF_ALLOW_DOWNLOAD"); v != "" {
		cfg.EBPF.BTF.AllowDownload = isTrue(v)
	}
	if v := os.Getenv("KERNWATCH_BTF_HUB_MIRROR"); v != "" {
		cfg.EBPF.BTF.HubMirror = v
	}

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RingBytes < 8 || c.RingBytes&(c.RingBytes-1) != 0 {
		return fmt.Errorf("ring bytes must be a power of two >= 8, got: %d", c.RingBytes)
	}
	if c.ScratchSlots < 0 {
		return fmt.Errorf("scratch slots must be >= 0, got: %d", c.ScratchSlots)
	}
	if c.ScratchBytes < probe.HeaderSize {
		return fmt.Errorf("scratch bytes must hold at least an event header (%d), got: %d", probe.HeaderSize, c.ScratchBytes)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got: %d", c.Workers)
	}
	if c.ConsumerIdleWait <= 0 {
		return fmt.Errorf("consumer idle wait must be > 0")
	}

	if _, err := c.FeatureMask(); err != nil {
		return err
	}
	if _, err := c.OpMask(); err != nil {
		return err
	}

	if c.EBPF.Enable && c.EBPF.ProgramPath == "" {
		return fmt.Errorf("ebpf capture enabled but no program path configured")
	}

	return nil
}

// FeatureMask parses the configured feature names into a bitmask.
func (c *Config) FeatureMask() (flags.FeatureFlags, error) {
	mask, err := flags.ParseFeatures(c.Features)
	if err != nil {
		return 0, fmt.Errorf("invalid feature config: %w", err)
	}
	return mask, nil
}

// OpMask parses the configured operation names into a bitmask.
func (c *Config) OpMask() (flags.OpFlags, error) {
	mask, err := flags.ParseOps(c.Ops)
	if err != nil {
		return 0, fmt.Errorf("invalid op config: %w", err)
	}
	return mask, nil
}

// EffectiveScratchSlots resolves the zero default to the host CPU count.
func (c *Config) EffectiveScratchSlots() int {
	if c.ScratchSlots > 0 {
		return c.ScratchSlots
	}
	return runtime.NumCPU()
}

// EffectiveWorkers resolves the zero default and caps at the slot count.
func (c *Config) EffectiveWorkers() int {
	slots := c.EffectiveScratchSlots()
	if c.Workers <= 0 || c.Workers > slots {
		return slots
	}
	return c.Workers
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isTrue(v string) bool {
	return v == "1" || v == "true" || v == "TRUE"
}
