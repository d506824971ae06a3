package sampler

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/probes"
)

// Option configures a Sampler.
type Option func(*Sampler)

// WithFs reads every pseudo-file from fsys instead of the host root.
func WithFs(fsys afero.Fs) Option {
	return func(s *Sampler) { s.fs = fsys }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// WithInterval sets the Stream tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) { s.Interval = d }
}

// WithCensus sets whether processes are collected and every how many
// frames. every == 0 is treated as 1.
func WithCensus(enabled bool, every uint64) Option {
	return func(s *Sampler) {
		s.Top = enabled
		s.TopEvery = every
	}
}

// WithProcessFilter replaces the kernel-thread filter of the census.
func WithProcessFilter(keep linereader.LinePredicate) Option {
	return func(s *Sampler) { s.keep = &keep }
}

func WithHostReader(h *probes.HostReader) Option {
	return func(s *Sampler) { s.host = h }
}

// WithStatFS replaces the statvfs call used for filesystem usage.
func WithStatFS(fn probes.StatFS) Option {
	return func(s *Sampler) { s.statfs = fn }
}

func WithSensors(sn *probes.Sensors) Option {
	return func(s *Sampler) { s.sensors = sn }
}
