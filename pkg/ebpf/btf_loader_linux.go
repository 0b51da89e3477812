//go:build linux

package ebpf

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cilium/ebpf/btf"
	"github.com/saworbit/kernwatch/pkg/config"
	"github.com/ulikunitz/xz"
)

const (
	systemBTFPath = "/sys/kernel/btf/vmlinux"
	osReleasePath = "/etc/os-release"
)

// BTFLoader discovers or downloads BTF specs for CO-RE relocations.
type BTFLoader struct {
	cacheDir      string
	allowDownload bool
	baseURL       string
	client        *http.Client
}

// NewBTFLoader constructs a loader from the agent's eBPF configuration.
func NewBTFLoader(cfg *config.EBPFConfig) *BTFLoader {
	if cfg == nil {
		return nil
	}

	cache := cfg.BTF.CacheDir
	if cache == "" {
		cache = filepath.Join(os.TempDir(), "kernwatch", "btf")
	}

	baseURL := strings.TrimSuffix(cfg.BTF.HubMirror, "/")
	if baseURL == "" {
		baseURL = "https://github.com/aquasecurity/btfhub-archive/raw/main"
	}

	return &BTFLoader{
		cacheDir:      cache,
		allowDownload: cfg.BTF.AllowDownload,
		baseURL:       baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LoadSpec returns a usable BTF spec and the source path it originated from.
// The kernel's own export wins; otherwise the cache, then btfhub.
func (l *BTFLoader) LoadSpec(ctx context.Context) (*btf.Spec, string, error) {
	if l == nil {
		return nil, "", fmt.Errorf("btf loader not configured")
	}

	if spec, err := btf.LoadSpec(systemBTFPath); err == nil {
		return spec, systemBTFPath, nil
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create btf cache dir: %w", err)
	}

	target, err := detectHubTarget()
	if err != nil {
		return nil, "", err
	}

	cachedPath := filepath.Join(l.cacheDir, target.kernel+".btf")
	if _, err := os.Stat(cachedPath); err == nil {
		spec, loadErr := btf.LoadSpec(cachedPath)
		return spec, cachedPath, loadErr
	}

	if !l.allowDownload {
		return nil, "", fmt.Errorf("no system BTF found and downloads disabled (expected cache at %s)", cachedPath)
	}

	if err := l.fetch(ctx, target, cachedPath); err != nil {
		return nil, "", err
	}

	spec, loadErr := btf.LoadSpec(cachedPath)
	return spec, cachedPath, loadErr
}

func (l *BTFLoader) fetch(ctx context.Context, target hubTarget, destPath string) error {
	url := target.archiveURL(l.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("download BTF from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("btfhub download failed (%s): %s", url, resp.Status)
	}

	return extractBTFArchive(resp.Body, destPath)
}

// extractBTFArchive streams an xz-compressed tar and writes its first
// .btf member to destPath.
func extractBTFArchive(r io.Reader, destPath string) error {
	xzReader, err := xz.NewReader(r)
	if err != nil {
		return fmt.Errorf("init xz reader: %w", err)
	}

	tarReader := tar.NewReader(xzReader)
	for {
		hdr, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read: %w", err)
		}
		if !strings.HasSuffix(hdr.Name, ".btf") {
			continue
		}

		tmp, err := os.CreateTemp(filepath.Dir(destPath), "btf-*.tmp")
		if err != nil {
			return fmt.Errorf("create temp BTF: %w", err)
		}
		if _, err := io.Copy(tmp, tarReader); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write cached BTF: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("close cached BTF: %w", err)
		}
		if err := os.Rename(tmp.Name(), destPath); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("move cached BTF: %w", err)
		}
		return nil
	}

	return fmt.Errorf("btf archive did not contain .btf file")
}

// hubTarget identifies the btfhub-archive slot for the running kernel.
type hubTarget struct {
	distro  string
	version string
	arch    string
	kernel  string
}

func (t hubTarget) archiveURL(base string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.btf.tar.xz",
		strings.TrimSuffix(base, "/"), t.distro, t.version, t.arch, t.kernel)
}

func detectHubTarget() (hubTarget, error) {
	release, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return hubTarget{}, fmt.Errorf("read kernel release: %w", err)
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return hubTarget{}, err
	}

	distro, version := parseOSRelease()

	return hubTarget{
		distro:  distro,
		version: version,
		arch:    arch,
		kernel:  strings.TrimSpace(string(release)),
	}, nil
}

func parseOSRelease() (distro, version string) {
	distro, version = "unknown", "unknown"

	data, err := os.ReadFile(osReleasePath)
	if err != nil {
		return distro, version
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		val = strings.ToLower(strings.Trim(val, `"`))
		switch key {
		case "ID":
			distro = val
		case "VERSION_ID":
			version = val
		}
	}
	return distro, version
}

func normalizeArch(goarch string) (string, error) {
	switch goarch {
	case "amd64":
		return "x86_64", nil
	case "arm64":
		return "arm64", nil
	case "ppc64le":
		return "ppc64le", nil
	default:
		return "", fmt.Errorf("unsupported architecture for BTFHub: %s", goarch)
	}
}
