package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNoProcsRunning indicates the raw /proc/stat lines had no procs_running entry.
var ErrNoProcsRunning = errors.New("model: no procs_running in stat")

// CPU holds busy percentages (0-100) for the aggregate and every core.
type CPU struct {
	Total   float64
	PerCore []float64
}

// Host identifies the machine and carries the kernel load averages.
type Host struct {
	Hostname string
	Kernel   string
	Uptime   time.Duration
	Load1    float64
	Load5    float64
	Load15   float64
}

// Memory is system RAM in GiB. Free is the kernel's MemAvailable.
type Memory struct {
	TotalGiB float64
	FreeGiB  float64
}

// UsedGiB is Total minus Free.
func (m Memory) UsedGiB() float64 { return m.TotalGiB - m.FreeGiB }

// TotalBytes converts TotalGiB back to bytes.
func (m Memory) TotalBytes() float64 { return m.TotalGiB * (1 << 30) }

// NetDevSample holds cumulative byte counters of one interface.
type NetDevSample struct {
	RxBytes uint64
	TxBytes uint64
}

// FileSystemUsage is the capacity of one mount point in Unit ("M" for
// MiB, "G" for GiB), with display strings precomputed.
type FileSystemUsage struct {
	Used     float64
	Total    float64
	Unit     string
	UsedStr  string
	TotalStr string
	UsePct   string
}

// Fraction is Used/Total in [0,1], 0 for an empty filesystem.
func (u FileSystemUsage) Fraction() float64 {
	if u.Total <= 0 {
		return 0
	}
	return u.Used / u.Total
}

// Battery is the charge state of one power_supply device.
type Battery struct {
	Path     string
	Charged  bool // charging, full, or unknown; false only while discharging
	Capacity string
}

// Temp is a thermal zone or hardware sensor reading in degrees Celsius.
type Temp struct {
	Zone    string
	Celsius float64
}

// FrameCache is the snapshot produced once per tick. Consumers must treat
// it as read-only; it is replaced, never updated, by the next tick.
type FrameCache struct {
	Frame     uint64
	Timestamp time.Time
	Host      Host
	CPU       CPU
	Memory    Memory

	// Processes is empty when the census was skipped this frame; Census
	// tells the two cases apart.
	Processes []ProcessSample
	Census    bool

	NetDev map[string]NetDevSample

	// ProcStat holds the raw cpu* and procs_* lines of /proc/stat.
	ProcStat []string
}

// Zero returns an empty frame for initialization.
func Zero() *FrameCache { return &FrameCache{Timestamp: time.Now()} }

// ProcsRunning returns the procs_running counter from the raw stat lines.
func (f *FrameCache) ProcsRunning() (int, error) {
	for _, line := range f.ProcStat {
		if v, ok := strings.CutPrefix(line, "procs_running"); ok {
			return strconv.Atoi(strings.TrimSpace(v))
		}
	}
	return 0, ErrNoProcsRunning
}
