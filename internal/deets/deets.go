// Package deets renders named one-line host facts ("deets") from a frame.
package deets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
	"github.com/Dicklesworthstone/hostdeets/internal/netrate"
)

const (
	// Unknown is shown when a value could not be read.
	Unknown = "unknown"
	// Unimplemented is shown for an item name nobody renders.
	Unimplemented = "unimpl"
)

// Items lists every renderable item name.
var Items = []string{
	"hostname", "kernel", "uptime", "load", "procs_count",
	"ram_usage", "cpu_usage", "cpu_temp_sys", "sensor_info",
	"cpu_mhz", "battery", "fs", "net",
}

// Source supplies readings that are taken on demand rather than per frame.
type Source interface {
	FileSystems(mounts []string) (map[string]model.FileSystemUsage, error)
	Battery(dir string) (model.Battery, error)
	CPUMHz() ([]uint16, error)
	ThermalZone(zone int) (float64, error)
	Sensor(ctx context.Context, key string) (float64, error)
}

// Item is one render request.
type Item struct {
	Func string
	// Arg selects the mount point, battery, interface or sensor key.
	Arg string
	// Val is an optional template; "{}" is replaced by the value.
	Val string
	// Whole drops decimals from sensor values.
	Whole bool
}

// ParseItem parses "func", "func:arg" or "func:arg=template".
func ParseItem(s string) Item {
	var it Item
	s, it.Val, _ = strings.Cut(s, "=")
	it.Func, it.Arg, _ = strings.Cut(s, ":")
	return it
}

// Known reports whether name is in Items.
func Known(name string) bool {
	for _, i := range Items {
		if i == name {
			return true
		}
	}
	return false
}

// Env carries what Render needs beyond the frame. Rates may be nil, in
// which case net shows cumulative totals.
type Env struct {
	Source Source
	Rates  map[string]netrate.Rate
}

// Render formats it against fc.
func Render(ctx context.Context, it Item, fc *model.FrameCache, env Env) string {
	switch it.Func {
	case "hostname":
		return orUnknown(fc.Host.Hostname)
	case "kernel":
		return orUnknown(fc.Host.Kernel)
	case "uptime":
		if fc.Host.Uptime <= 0 {
			return Unknown
		}
		return UptimeString(fc.Host.Uptime)
	case "load":
		return LoadString(fc.Host)
	case "procs_count":
		n, err := fc.ProcsRunning()
		if err != nil {
			return Unknown
		}
		return strconv.Itoa(n)
	case "ram_usage":
		if fc.Memory.TotalGiB <= 0 {
			return Unknown
		}
		return RAMUsage(fc.Memory)
	case "cpu_usage":
		return fmt.Sprintf("%.2f%%", fc.CPU.Total)
	case "cpu_temp_sys":
		if env.Source == nil {
			return Unknown
		}
		c, err := env.Source.ThermalZone(0)
		if err != nil {
			return Unknown
		}
		whole := strconv.Itoa(int(c))
		if it.Val == "" {
			return whole + "C"
		}
		return fill(it.Val, whole)
	case "sensor_info":
		if env.Source == nil || it.Arg == "" {
			return Unknown
		}
		c, err := env.Source.Sensor(ctx, it.Arg)
		if err != nil {
			return Unknown
		}
		val := it.Val
		if val == "" {
			val = "{}C"
		}
		if it.Whole {
			return fill(val, fmt.Sprintf("%.0f", c))
		}
		return fill(val, fmt.Sprintf("%.2f", c))
	case "cpu_mhz":
		return cpuMHz(env.Source)
	case "battery":
		return battery(env.Source, it.Arg)
	case "fs":
		return fileSystem(env.Source, it.Arg)
	case "net":
		return network(fc.NetDev, env.Rates, it.Arg)
	}
	return Unimplemented
}

// UptimeString formats d as "1d 2h 03m 04s".
func UptimeString(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	return fmt.Sprintf("%dd %dh %02dm %02ds", days, hours, secs/60, secs%60)
}

// LoadString formats the 1, 5 and 15 minute load averages.
func LoadString(h model.Host) string {
	return fmt.Sprintf("%.2f %.2f %.2f", h.Load1, h.Load5, h.Load15)
}

// RAMUsage formats used and total memory in GiB.
func RAMUsage(m model.Memory) string {
	return fmt.Sprintf("%.2fGB / %.2fGB", m.UsedGiB(), m.TotalGiB)
}

func cpuMHz(src Source) string {
	if src == nil {
		return Unknown
	}
	mhz, err := src.CPUMHz()
	if err != nil || len(mhz) == 0 {
		return Unknown
	}
	parts := make([]string, len(mhz))
	for i, m := range mhz {
		parts[i] = strconv.Itoa(int(m))
	}
	return strings.Join(parts, " ") + " MHz"
}

func battery(src Source, dir string) string {
	if src == nil {
		return Unknown
	}
	if dir == "" {
		dir = "BAT0"
	}
	b, err := src.Battery(dir)
	if err != nil {
		return Unknown
	}
	if b.Charged {
		return b.Capacity + "% (ac)"
	}
	return b.Capacity + "% (battery)"
}

func fileSystem(src Source, mount string) string {
	if src == nil {
		return Unknown
	}
	if mount == "" {
		mount = "/"
	}
	usage, err := src.FileSystems([]string{mount})
	if err != nil {
		return Unknown
	}
	u, ok := usage[mount]
	if !ok {
		return Unknown
	}
	return fmt.Sprintf("%s / %s (%s)", u.UsedStr, u.TotalStr, u.UsePct)
}

// network shows one interface, or every non-loopback interface summed
// when iface is empty.
func network(counters map[string]model.NetDevSample, rates map[string]netrate.Rate, iface string) string {
	if rates != nil {
		var r netrate.Rate
		if iface == "" {
			r = netrate.Sum(rates, "lo")
		} else if got, ok := rates[iface]; ok {
			r = got
		} else {
			return Unknown
		}
		return fmt.Sprintf("rx %s/s tx %s/s", sizestr.ToString(int64(r.RxPerSec)), sizestr.ToString(int64(r.TxPerSec)))
	}

	if len(counters) == 0 {
		return Unknown
	}
	var rx, tx uint64
	if iface == "" {
		for n, c := range counters {
			if n == "lo" {
				continue
			}
			rx += c.RxBytes
			tx += c.TxBytes
		}
	} else {
		c, ok := counters[iface]
		if !ok {
			return Unknown
		}
		rx, tx = c.RxBytes, c.TxBytes
	}
	return fmt.Sprintf("rx %s tx %s", sizestr.ToString(int64(rx)), sizestr.ToString(int64(tx)))
}

func fill(tmpl, v string) string { return strings.ReplaceAll(tmpl, "{}", v) }

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
