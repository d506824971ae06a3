// Package procreg runs the process census. It keeps one open handle per
// process on /proc/<pid>/status and /proc/<pid>/stat and rewinds them every
// census instead of reopening thousands of files per frame.
package procreg

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// retainFactor times the census cadence is the retain sweep period in frames.
const retainFactor = 5

var statusFields = []string{"Name", "VmRSS"}

type history struct {
	proc  uint64
	total uint64
}

// Registry owns the per-process handles and CPU history.
type Registry struct {
	mu   sync.Mutex
	fs   afero.Fs
	root string
	keep linereader.LinePredicate

	status map[int]*linereader.Reader
	stat   map[int]*linereader.Reader
	hist   map[int]history
}

// Option configures a Registry.
type Option func(*Registry)

// WithFilter replaces KernelThreadFilter. A nil predicate keeps every process.
func WithFilter(keep linereader.LinePredicate) Option {
	return func(r *Registry) { r.keep = keep }
}

// New returns a Registry scanning root (normally "/proc") on fsys.
func New(fsys afero.Fs, root string, opts ...Option) *Registry {
	r := &Registry{
		fs:     fsys,
		root:   root,
		keep:   KernelThreadFilter,
		status: make(map[int]*linereader.Reader),
		stat:   make(map[int]*linereader.Reader),
		hist:   make(map[int]history),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sample runs one census when collect is true and returns nil otherwise,
// without touching the filesystem. totalTicks is the aggregate CPU
// total-ticks counter of the same frame; ramBytes is total system RAM.
// Every cadence*5 frames, handles of processes missing from this scan are
// closed and dropped.
func (r *Registry) Sample(frame, cadence uint64, collect bool, totalTicks uint64, ramBytes float64) ([]model.ProcessSample, error) {
	if !collect {
		return nil, nil
	}
	if cadence == 0 {
		cadence = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names, err := r.readDirNames()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.root, err)
	}

	sweep := frame%(cadence*retainFactor) == 0
	var seen map[int]struct{}
	if sweep {
		seen = make(map[int]struct{}, len(names))
	}

	procs := make([]model.ProcessSample, 0, len(names))
	for _, name := range names {
		pid, ok := parsePID(name)
		if !ok {
			continue
		}
		if sweep {
			seen[pid] = struct{}{}
		}

		lines, ok := r.readStatus(pid, name)
		if !ok || len(lines) != len(statusFields) {
			continue
		}
		comm, rssKB, err := parseStatus(lines)
		if err != nil {
			continue
		}

		cpu, err := r.cpuPercent(pid, name, totalTicks)
		if errors.Is(err, ErrMalformedStat) || errors.Is(err, ErrShortStat) {
			continue
		}

		var mem float64
		if ramBytes > 0 {
			mem = float64(rssKB*1024) / ramBytes
		}
		procs = append(procs, model.ProcessSample{
			PID:     name,
			Command: comm,
			Mem:     mem,
			CPU:     cpu,
		})
	}

	if sweep {
		r.retain(seen)
	}
	return procs, nil
}

// Len reports the number of cached status handles, stat handles and CPU
// history entries.
func (r *Registry) Len() (status, stat, hist int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.status), len(r.stat), len(r.hist)
}

// Close releases every cached handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid := range r.status {
		r.evict(pid)
	}
	for pid := range r.stat {
		r.evict(pid)
	}
	return nil
}

func (r *Registry) readDirNames() ([]string, error) {
	d, err := r.fs.Open(r.root)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Readdirnames(-1)
}

// readStatus returns the Name and VmRSS lines of pid. A cached handle that
// fails to rewind or read means the process is gone and gets evicted.
func (r *Registry) readStatus(pid int, name string) ([]string, bool) {
	if rd, ok := r.status[pid]; ok {
		lines, err := rd.ReadExactOrdered(statusFields, r.keep)
		if err != nil {
			r.evict(pid)
			return nil, false
		}
		return lines, true
	}

	rd, err := linereader.Open(r.fs, path.Join(r.root, name, "status"))
	if err != nil {
		return nil, false
	}
	lines, err := rd.ReadExactOrdered(statusFields, r.keep)
	if err != nil {
		_ = rd.Close()
		return nil, false
	}
	r.status[pid] = rd
	return lines, true
}

// cpuPercent diffs the utime+stime of pid against its previous census.
// I/O failures drop the stat handle and report 0; parse failures are
// returned so the caller can skip the process.
func (r *Registry) cpuPercent(pid int, name string, totalTicks uint64) (float64, error) {
	rd, ok := r.stat[pid]
	if !ok {
		var err error
		rd, err = linereader.Open(r.fs, path.Join(r.root, name, "stat"))
		if err != nil {
			return 0, nil
		}
		r.stat[pid] = rd
	}

	lines, err := rd.ReadN(1)
	if err != nil || len(lines) == 0 {
		r.dropStat(pid)
		return 0, nil
	}
	procTicks, err := ParseStatTicks(lines[0])
	if err != nil {
		r.dropStat(pid)
		return 0, err
	}

	prev, seen := r.hist[pid]
	r.hist[pid] = history{proc: procTicks, total: totalTicks}
	if !seen {
		return 0, nil
	}
	return percent(prev.proc, prev.total, procTicks, totalTicks), nil
}

func (r *Registry) dropStat(pid int) {
	if rd, ok := r.stat[pid]; ok {
		_ = rd.Close()
		delete(r.stat, pid)
	}
	delete(r.hist, pid)
}

func (r *Registry) evict(pid int) {
	if rd, ok := r.status[pid]; ok {
		_ = rd.Close()
		delete(r.status, pid)
	}
	r.dropStat(pid)
}

func (r *Registry) retain(seen map[int]struct{}) {
	for pid := range r.status {
		if _, ok := seen[pid]; !ok {
			r.evict(pid)
		}
	}
	for pid := range r.stat {
		if _, ok := seen[pid]; !ok {
			r.dropStat(pid)
		}
	}
	for pid := range r.hist {
		if _, ok := seen[pid]; !ok {
			delete(r.hist, pid)
		}
	}
}

// ParseStatTicks returns utime+stime from a /proc/<pid>/stat line. The
// command field is parenthesized and may contain spaces, so fields are
// counted from the last ") ".
func ParseStatTicks(line string) (uint64, error) {
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, ErrMalformedStat
	}
	fields := strings.Fields(line[i+2:])
	// utime and stime are fields 14 and 15 overall
	if len(fields) < 13 {
		return 0, ErrShortStat
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: utime %q", ErrMalformedStat, fields[11])
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: stime %q", ErrMalformedStat, fields[12])
	}
	return utime + stime, nil
}

func parseStatus(lines []string) (comm string, rssKB uint64, err error) {
	comm = strings.TrimSpace(strings.TrimPrefix(lines[0], "Name:"))
	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedStatus, lines[1])
	}
	rssKB, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedStatus, lines[1])
	}
	return comm, rssKB, nil
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	return pid, err == nil
}

// percent is the process's share of aggregate ticks, summed over all cores.
func percent(prevProc, prevTotal, proc, total uint64) float64 {
	if total <= prevTotal || proc < prevProc {
		return 0
	}
	return 100 * float64(proc-prevProc) / float64(total-prevTotal)
}
