// Package cpuload turns the monotonically increasing jiffy counters of
// /proc/stat into busy percentages for the aggregate CPU and every core.
package cpuload

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Aggregate is the core index of the summary "cpu" line.
const Aggregate = -1

// Load is the last observed counter pair of one core and the busy
// percentage derived from it.
type Load struct {
	Idle    uint64
	Total   uint64
	Percent float64
}

// Tracker keeps the previous Load per core index across frames.
type Tracker struct {
	mu    sync.Mutex
	cores int
	loads map[int]Load
}

// New returns a Tracker for cores logical CPUs plus the aggregate.
func New(cores int) *Tracker {
	if cores < 0 {
		cores = 0
	}
	return &Tracker{cores: cores, loads: make(map[int]Load, cores+1)}
}

// Cores returns the number of tracked logical CPUs.
func (t *Tracker) Cores() int { return t.cores }

// Update consumes the cpu lines of /proc/stat. Lines are matched to cores
// by their "cpuN" name; other lines and cores beyond the tracked count are
// ignored. A tracked core without a line, such as one taken offline, reads
// 0 and keeps its counters. Either every core is updated or, on error,
// none is.
func (t *Tracker) Update(lines []string) error {
	type sample struct {
		idle, total uint64
		seen        bool
	}
	next := make([]sample, t.cores+1)
	for _, line := range lines {
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		core, err := coreIndex(line)
		if err != nil {
			return err
		}
		if core >= t.cores {
			continue
		}
		idle, total, err := ParseLine(line)
		if err != nil {
			return fmt.Errorf("core %d: %w", core, err)
		}
		next[core+1] = sample{idle, total, true}
	}
	if !next[0].seen {
		return fmt.Errorf("%w: no aggregate cpu line", ErrShortStat)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range next {
		core := i - 1
		if !s.seen {
			if prev, ok := t.loads[core]; ok {
				prev.Percent = 0
				t.loads[core] = prev
			}
			continue
		}
		l := Load{Idle: s.idle, Total: s.total}
		// the first observation has nothing to diff against
		if prev, ok := t.loads[core]; ok {
			l.Percent = Busy(prev.Idle, prev.Total, s.idle, s.total)
		}
		t.loads[core] = l
	}
	return nil
}

// coreIndex maps "cpu" to Aggregate and "cpuN" to N.
func coreIndex(line string) (int, error) {
	name, _, _ := strings.Cut(line, " ")
	if name == "cpu" {
		return Aggregate, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedStat, line)
	}
	return n, nil
}

// Load returns the stored Load of core and whether it has been observed.
func (t *Tracker) Load(core int) (Load, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.loads[core]
	return l, ok
}

// Percent returns the last busy percentage of core, 0 if never observed.
func (t *Tracker) Percent(core int) float64 {
	l, _ := t.Load(core)
	return l.Percent
}

// Total returns the last total-ticks counter of core.
func (t *Tracker) Total(core int) uint64 {
	l, _ := t.Load(core)
	return l.Total
}

// Snapshot copies the aggregate percentage and the per-core percentages.
func (t *Tracker) Snapshot() (total float64, perCore []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perCore = make([]float64, t.cores)
	for i := range perCore {
		perCore[i] = t.loads[i].Percent
	}
	return t.loads[Aggregate].Percent, perCore
}

// ParseLine splits a "cpu[N] user nice system idle ..." line. Field 3 of
// the numeric fields is idle; total is the sum of all of them.
func ParseLine(line string) (idle, total uint64, err error) {
	fields := strings.Fields(line)
	if len(fields) < 5 || !strings.HasPrefix(fields[0], "cpu") {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedStat, line)
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrMalformedStat, line)
		}
		if i == 3 {
			idle = v
		}
		total += v
	}
	return idle, total, nil
}

// Busy is 100 × (Δtotal − Δidle) / Δtotal. It is 0 when no ticks elapsed
// and stays within [0, 100]; a counter that went backwards counts as no change.
func Busy(prevIdle, prevTotal, idle, total uint64) float64 {
	dTotal := delta(total, prevTotal)
	dIdle := delta(idle, prevIdle)
	if dTotal == 0 || dIdle >= dTotal {
		return 0
	}
	return 100 * float64(dTotal-dIdle) / float64(dTotal)
}

func delta(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}
