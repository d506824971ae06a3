package probes

import (
	"fmt"
	"strings"
	"sync"

	"github.com/echa/goprocinfo/linux"
	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// MountsPath lists mounted filesystems.
const MountsPath = "/proc/mounts"

const (
	maxMountLines = 1024
	gib           = 1 << 30
)

var mountUnescape = strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)

// StatFS reports total and free capacity, in bytes, of the filesystem
// mounted at path.
type StatFS func(path string) (total, free uint64, err error)

// DiskStatFS is the statvfs-backed StatFS.
func DiskStatFS(path string) (uint64, uint64, error) {
	d, err := linux.ReadDisk(path)
	if err != nil {
		return 0, 0, err
	}
	return d.All, d.Free, nil
}

// FileSystems reports usage of selected mount points. The /proc/mounts
// handle stays open between calls.
type FileSystems struct {
	mu     sync.Mutex
	fs     afero.Fs
	statfs StatFS
	mounts *linereader.Reader
}

// NewFileSystems returns a FileSystems reading mounts from fsys. A nil
// statfs selects DiskStatFS.
func NewFileSystems(fsys afero.Fs, statfs StatFS) *FileSystems {
	if statfs == nil {
		statfs = DiskStatFS
	}
	return &FileSystems{fs: fsys, statfs: statfs}
}

// Usage returns usage keyed by mount point for each entry of want that is
// currently mounted. Mounts whose statfs call fails are left out.
func (f *FileSystems) Usage(want []string) (map[string]model.FileSystemUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounts == nil {
		rd, err := linereader.Open(f.fs, MountsPath)
		if err != nil {
			return nil, err
		}
		f.mounts = rd
	}
	lines, err := f.mounts.ReadN(maxMountLines)
	if err != nil {
		f.mounts.Close()
		f.mounts = nil
		return nil, fmt.Errorf("read mounts: %w", err)
	}

	wanted := make(map[string]bool, len(want))
	for _, w := range want {
		wanted[w] = true
	}
	out := make(map[string]model.FileSystemUsage, len(want))
	for _, line := range lines {
		tok := strings.Fields(line)
		if len(tok) < 2 {
			continue
		}
		mp := mountUnescape.Replace(tok[1])
		if !wanted[mp] {
			continue
		}
		if _, done := out[mp]; done {
			continue
		}
		total, free, err := f.statfs(mp)
		if err != nil {
			continue
		}
		out[mp] = NewUsage(total, free)
	}
	return out, nil
}

// Close releases the cached mounts handle.
func (f *FileSystems) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mounts == nil {
		return nil
	}
	err := f.mounts.Close()
	f.mounts = nil
	return err
}

// NewUsage converts raw byte counts to display units. Filesystems smaller
// than one GiB are shown in MiB.
func NewUsage(totalBytes, freeBytes uint64) model.FileSystemUsage {
	total := float64(totalBytes) / gib
	used := 0.0
	if totalBytes > freeBytes {
		used = float64(totalBytes-freeBytes) / gib
	}
	unit := "G"
	if total < 1 {
		total *= 1024
		used *= 1024
		unit = "M"
	}
	pct := 0.0
	if total > 0 {
		pct = used / total * 100
	}
	return model.FileSystemUsage{
		Used:     used,
		Total:    total,
		Unit:     unit,
		UsedStr:  fmt.Sprintf("%.2f%s", used, unit),
		TotalStr: fmt.Sprintf("%.2f%s", total, unit),
		UsePct:   fmt.Sprintf("%.0f%%", pct),
	}
}
