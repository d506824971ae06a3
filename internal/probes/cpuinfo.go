package probes

import (
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
)

// CPUInfoPath describes each logical processor.
const CPUInfoPath = "/proc/cpuinfo"

// CPUInfo keeps /proc/cpuinfo open for repeated clock-speed reads.
type CPUInfo struct {
	mu sync.Mutex
	rd *linereader.Reader
}

func OpenCPUInfo(fsys afero.Fs) (*CPUInfo, error) {
	rd, err := linereader.Open(fsys, CPUInfoPath)
	if err != nil {
		return nil, err
	}
	return &CPUInfo{rd: rd}, nil
}

// Processors counts logical processors.
func (c *CPUInfo) Processors() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.rd.ReadMatching("processor")
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// MHz returns the current clock of every processor that reports one.
// Architectures without "cpu MHz" lines yield an empty slice.
func (c *CPUInfo) MHz() ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, err := c.rd.ReadMatching("cpu MHz")
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, len(lines))
	for _, line := range lines {
		_, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		mhz, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		out = append(out, uint16(mhz))
	}
	return out, nil
}

func (c *CPUInfo) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rd.Close()
}
