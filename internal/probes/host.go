package probes

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// HostReader collects host identity and load. Hostname and kernel
// release are kept after the first successful read and retried until
// then; uptime and load averages are read on every call.
type HostReader struct {
	Hostname func() (string, error)
	Kernel   func(ctx context.Context) (string, error)
	Uptime   func(ctx context.Context) (uint64, error)
	Load     func(ctx context.Context) (*load.AvgStat, error)

	mu       sync.Mutex
	loaded   bool
	hostname string
	kernel   string
}

func NewHostReader() *HostReader {
	return &HostReader{
		Hostname: os.Hostname,
		Kernel:   host.KernelVersionWithContext,
		Uptime:   host.UptimeWithContext,
		Load:     load.AvgWithContext,
	}
}

// Read returns whatever could be read. A failing source leaves its fields
// zero and is reported in the returned error.
func (h *HostReader) Read(ctx context.Context) (model.Host, error) {
	var result *multierror.Error
	var hst model.Host
	if err := h.identity(ctx, &hst); err != nil {
		result = multierror.Append(result, err)
	}
	if up, err := h.Uptime(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("uptime: %w", err))
	} else {
		hst.Uptime = time.Duration(up) * time.Second
	}
	if avg, err := h.Load(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("load: %w", err))
	} else {
		hst.Load1, hst.Load5, hst.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return hst, result.ErrorOrNil()
}

func (h *HostReader) identity(ctx context.Context, hst *model.Host) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		name, err := h.Hostname()
		if err != nil {
			return fmt.Errorf("hostname: %w", err)
		}
		kernel, err := h.Kernel(ctx)
		if err != nil {
			return fmt.Errorf("kernel: %w", err)
		}
		h.hostname, h.kernel, h.loaded = name, kernel, true
	}
	hst.Hostname, hst.Kernel = h.hostname, h.kernel
	return nil
}
