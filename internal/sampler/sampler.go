package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/echa/goprocinfo/linux"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/cpuload"
	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
	"github.com/Dicklesworthstone/hostdeets/internal/probes"
	"github.com/Dicklesworthstone/hostdeets/internal/procreg"
)

const (
	// ProcRoot is the process directory scanned by the census.
	ProcRoot = "/proc"
	// StatPath holds the jiffy counters and scheduler counters.
	StatPath = "/proc/stat"
)

// Sampler builds one FrameCache per tick. It owns the long-lived state:
// CPU counter history, the process registry and the cached probe handles.
type Sampler struct {
	Interval time.Duration
	TopEvery uint64
	Top      bool

	fs      afero.Fs
	log     *slog.Logger
	keep    *linereader.LinePredicate
	statfs  probes.StatFS
	host    *probes.HostReader
	sensors *probes.Sensors

	tracker   *cpuload.Tracker
	procs     *procreg.Registry
	cpuinfo   *probes.CPUInfo
	mounts    *probes.FileSystems
	batteries *probes.Batteries
}

// New checks the mandatory sources and returns a ready Sampler. Every
// missing source is reported, wrapped in ErrMandatorySource.
func New(opts ...Option) (*Sampler, error) {
	s := &Sampler{
		Interval: time.Second,
		TopEvery: 2,
		Top:      true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.host == nil {
		s.host = probes.NewHostReader()
	}
	if s.sensors == nil {
		s.sensors = probes.NewSensors(nil)
	}
	if s.TopEvery == 0 {
		s.TopEvery = 1
	}

	var result *multierror.Error
	if _, err := probes.ReadMemory(s.fs); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", probes.MemInfoPath, err))
	}
	cpuLines, err := linereader.MatchFile(s.fs, StatPath, "cpu")
	if err == nil && len(cpuLines) == 0 {
		err = cpuload.ErrShortStat
	}
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", StatPath, err))
	}
	cores := 0
	ci, err := probes.OpenCPUInfo(s.fs)
	if err == nil {
		if cores, err = ci.Processors(); err != nil {
			ci.Close()
			ci = nil
		}
	}
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", probes.CPUInfoPath, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		if ci != nil {
			ci.Close()
		}
		return nil, fmt.Errorf("%w: %w", ErrMandatorySource, err)
	}

	// offline CPUs are listed in cpuinfo but have no stat line
	if n := len(cpuLines) - 1; n < cores {
		s.log.Warn("fewer per-core stat lines than processors", "processors", cores, "stat_cores", n)
		cores = n
	}

	var regOpts []procreg.Option
	if s.keep != nil {
		regOpts = append(regOpts, procreg.WithFilter(*s.keep))
	}
	s.tracker = cpuload.New(cores)
	s.procs = procreg.New(s.fs, ProcRoot, regOpts...)
	s.cpuinfo = ci
	s.mounts = probes.NewFileSystems(s.fs, s.statfs)
	s.batteries = probes.NewBatteries(s.fs)
	return s, nil
}

// Cores returns the number of tracked logical CPUs.
func (s *Sampler) Cores() int { return s.tracker.Cores() }

// ShouldCollect reports whether frame is a census frame.
func (s *Sampler) ShouldCollect(frame uint64) bool {
	return s.Top && frame%s.TopEvery == 0
}

// Build samples one frame. CPU and memory are always read; the process
// census runs only when collect is true. Failures of core counters are
// returned; host identity and network counters degrade to zero values.
func (s *Sampler) Build(ctx context.Context, frame, cadence uint64, collect bool) (*model.FrameCache, error) {
	fc := &model.FrameCache{Frame: frame, Timestamp: time.Now(), Census: collect}

	lines, err := linereader.MatchFile(s.fs, StatPath, "cpu", "procs_")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", StatPath, err)
	}
	if err := s.tracker.Update(lines); err != nil {
		return nil, err
	}
	fc.ProcStat = lines
	fc.CPU.Total, fc.CPU.PerCore = s.tracker.Snapshot()

	if fc.Memory, err = probes.ReadMemory(s.fs); err != nil {
		return nil, err
	}

	fc.Processes, err = s.procs.Sample(frame, cadence, collect, s.tracker.Total(cpuload.Aggregate), fc.Memory.TotalBytes())
	if err != nil {
		s.log.Warn("process census failed", "frame", frame, "err", err)
		fc.Census = false
	}

	if fc.Host, err = s.host.Read(ctx); err != nil {
		s.log.Warn("host info unavailable", "err", err)
	}
	if fc.NetDev, err = probes.ReadNetDev(s.fs); err != nil {
		s.log.Warn("network counters unavailable", "err", err)
	}

	s.logFootprint(ctx, frame)
	return fc, nil
}

// Stream builds a frame immediately and then every Interval until ctx is
// done. Frames that fail to build are logged and skipped.
func (s *Sampler) Stream(ctx context.Context) <-chan *model.FrameCache {
	ch := make(chan *model.FrameCache)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		var frame uint64
		for {
			fc, err := s.Build(ctx, frame, s.TopEvery, s.ShouldCollect(frame))
			if err != nil {
				s.log.Error("frame skipped", "frame", frame, "err", err)
			} else {
				select {
				case ch <- fc:
				case <-ctx.Done():
					return
				}
			}
			frame++

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// FileSystems returns usage of the listed mount points.
func (s *Sampler) FileSystems(mounts []string) (map[string]model.FileSystemUsage, error) {
	return s.mounts.Usage(mounts)
}

// Battery samples one power supply by name or sysfs path.
func (s *Sampler) Battery(dir string) (model.Battery, error) {
	return s.batteries.Read(dir)
}

// CPUMHz returns the current clock of every processor.
func (s *Sampler) CPUMHz() ([]uint16, error) {
	return s.cpuinfo.MHz()
}

func (s *Sampler) ThermalZone(zone int) (float64, error) {
	return probes.ThermalZone(s.fs, zone)
}

func (s *Sampler) ThermalZones() ([]model.Temp, error) {
	return probes.ThermalZones(s.fs)
}

// Sensor returns one hardware sensor reading by key.
func (s *Sampler) Sensor(ctx context.Context, key string) (float64, error) {
	return s.sensors.Get(ctx, key)
}

func (s *Sampler) SensorsAll(ctx context.Context) ([]model.Temp, error) {
	return s.sensors.All(ctx)
}

// Close releases every cached handle.
func (s *Sampler) Close() error {
	var result *multierror.Error
	for _, c := range []interface{ Close() error }{s.procs, s.cpuinfo, s.mounts, s.batteries} {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// logFootprint reports registry sizes and the sampler's own resource use.
func (s *Sampler) logFootprint(ctx context.Context, frame uint64) {
	if !s.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	status, stat, hist := s.procs.Len()
	attrs := []any{
		"frame", frame,
		"status_readers", status,
		"stat_readers", stat,
		"history", hist,
	}
	self := path.Join("/proc", strconv.Itoa(os.Getpid()))
	if ps, err := linux.ReadProcessStatus(path.Join(self, "status")); err == nil {
		attrs = append(attrs, "rss_kb", ps.VmRSS, "threads", ps.Threads)
	}
	if pst, err := linux.ReadProcessStat(path.Join(self, "stat")); err == nil {
		attrs = append(attrs, "majflt", pst.Majflt)
	}
	s.log.Debug("frame built", attrs...)
}

