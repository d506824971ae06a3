package probes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// MemInfoPath is the kernel memory summary.
const MemInfoPath = "/proc/meminfo"

// ReadMemory parses the first three lines of /proc/meminfo: MemTotal,
// MemFree and MemAvailable. The third is reported as free.
func ReadMemory(fsys afero.Fs) (model.Memory, error) {
	lines, err := linereader.ReadFileN(fsys, MemInfoPath, 3)
	if err != nil {
		return model.Memory{}, err
	}
	if len(lines) < 3 {
		return model.Memory{}, fmt.Errorf("%w: %d lines", ErrMalformedMemInfo, len(lines))
	}
	total, err := memInfoKB(lines[0])
	if err != nil {
		return model.Memory{}, err
	}
	free, err := memInfoKB(lines[2])
	if err != nil {
		return model.Memory{}, err
	}
	return model.Memory{TotalGiB: kbToGiB(total), FreeGiB: kbToGiB(free)}, nil
}

// memInfoKB parses "MemTotal:       16318460 kB".
func memInfoKB(line string) (uint64, error) {
	_, v, ok := strings.Cut(line, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMemInfo, line)
	}
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "kB"))
	kb, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMemInfo, line)
	}
	return kb, nil
}

func kbToGiB(kb uint64) float64 { return float64(kb) / 1024 / 1024 }
