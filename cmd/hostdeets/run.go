//go:build linux

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/hostdeets/internal/config"
	"github.com/Dicklesworthstone/hostdeets/internal/deets"
	"github.com/Dicklesworthstone/hostdeets/internal/metrics"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
	"github.com/Dicklesworthstone/hostdeets/internal/netrate"
	"github.com/Dicklesworthstone/hostdeets/internal/sampler"
	"github.com/Dicklesworthstone/hostdeets/internal/ui"
)

// report is one JSON record: the frame plus the on-demand readings.
type report struct {
	Frame       *model.FrameCache
	FileSystems map[string]model.FileSystemUsage `json:",omitempty"`
	Batteries   []model.Battery                  `json:",omitempty"`
	Temps       []model.Temp                     `json:",omitempty"`
	NetRates    map[string]netrate.Rate          `json:",omitempty"`
}

func run(ctx context.Context, cfg config.Config) error {
	interactive := !cfg.JSON && !cfg.JSONStream && len(cfg.Deets) == 0

	logger, closeLog, err := newLogger(cfg, interactive)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	s, err := sampler.New(samplerOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer s.Close()

	switch {
	case len(cfg.Deets) > 0:
		return printDeets(ctx, cfg, s, os.Stdout)
	case cfg.JSON:
		return printJSON(ctx, cfg, s, os.Stdout)
	}

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var uiFrames chan *model.FrameCache
	if interactive {
		uiFrames = make(chan *model.FrameCache, 1)
	}
	p := &pump{cfg: cfg, src: s, exporter: exporter, ui: uiFrames, rates: netrate.New(10 * cfg.Interval)}
	if cfg.JSONStream {
		p.enc = json.NewEncoder(os.Stdout)
	}
	frames := s.Stream(ctx)

	g.Go(func() error {
		return p.run(ctx, frames)
	})
	if exporter != nil {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, exporter.Handler(), logger)
		})
	}
	if interactive {
		g.Go(func() error {
			defer cancel()
			return ui.RunTUI(ctx, cfg, s, uiFrames, cancel)
		})
	}
	return g.Wait()
}

func samplerOptions(cfg config.Config, logger *slog.Logger) []sampler.Option {
	opts := []sampler.Option{
		sampler.WithLogger(logger),
		sampler.WithInterval(cfg.Interval),
		sampler.WithCensus(cfg.Top, cfg.TopEvery),
	}
	if cfg.KernelThreads {
		opts = append(opts, sampler.WithProcessFilter(nil))
	}
	return opts
}

// pump fans every frame out to the exporter, the JSON stream and the UI.
type pump struct {
	cfg      config.Config
	src      *sampler.Sampler
	exporter *metrics.Exporter
	enc      *json.Encoder
	ui       chan *model.FrameCache
	rates    *netrate.Cache
}

func (p *pump) run(ctx context.Context, frames <-chan *model.FrameCache) error {
	if p.ui != nil {
		defer close(p.ui)
	}
	for fc := range frames {
		if p.exporter != nil || p.enc != nil {
			rep := p.collect(ctx, fc)
			if p.exporter != nil {
				p.exporter.Observe(rep.Frame, p.cfg.TopLimit)
				p.exporter.ObserveFileSystems(rep.FileSystems)
				for _, b := range rep.Batteries {
					p.exporter.ObserveBattery(b)
				}
				p.exporter.ObserveTemps(rep.Temps)
			}
			if p.enc != nil {
				if err := p.enc.Encode(rep); err != nil {
					return fmt.Errorf("encode frame: %w", err)
				}
			}
		}
		if p.ui != nil {
			// the UI only wants the newest frame
			select {
			case <-p.ui:
			default:
			}
			p.ui <- fc
		}
	}
	return nil
}

// collect sorts, filters and trims the process list and gathers the
// on-demand readings. fc itself is left untouched.
func (p *pump) collect(ctx context.Context, fc *model.FrameCache) report {
	shown := *fc
	if fc.Census {
		re, _ := p.cfg.FilterRegexp()
		procs := append([]model.ProcessSample(nil), model.FilterProcesses(fc.Processes, re)...)
		model.SortProcesses(procs, p.cfg.Sort)
		if p.cfg.TopLimit > 0 {
			procs = model.TopN(procs, p.cfg.TopLimit)
		}
		shown.Processes = procs
	}
	rep := report{Frame: &shown, NetRates: p.rates.Observe(fc.NetDev, fc.Timestamp)}
	if fs, err := p.src.FileSystems(p.cfg.Mounts); err == nil {
		rep.FileSystems = fs
	} else {
		slog.Warn("filesystem usage unavailable", "err", err)
	}
	for _, name := range p.cfg.Batteries {
		b, err := p.src.Battery(name)
		if err != nil {
			slog.Debug("battery unavailable", "battery", name, "err", err)
			continue
		}
		rep.Batteries = append(rep.Batteries, b)
	}
	if temps, err := p.src.ThermalZones(); err == nil {
		rep.Temps = temps
	}
	for _, key := range p.cfg.Sensors {
		c, err := p.src.Sensor(ctx, key)
		if err != nil {
			slog.Debug("sensor unavailable", "sensor", key, "err", err)
			continue
		}
		rep.Temps = append(rep.Temps, model.Temp{Zone: key, Celsius: c})
	}
	return rep
}

// warmFrames builds two frames one interval apart so CPU percentages
// cover a real window, and returns the second.
func warmFrames(ctx context.Context, cfg config.Config, s *sampler.Sampler) (*model.FrameCache, error) {
	if _, err := s.Build(ctx, 0, 1, cfg.Top); err != nil {
		return nil, err
	}
	select {
	case <-time.After(cfg.Interval):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Build(ctx, 1, 1, cfg.Top)
}

func printJSON(ctx context.Context, cfg config.Config, s *sampler.Sampler, w io.Writer) error {
	fc, err := warmFrames(ctx, cfg, s)
	if err != nil {
		return err
	}
	p := &pump{cfg: cfg, src: s, rates: netrate.New(time.Minute)}
	rep := p.collect(ctx, fc)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func printDeets(ctx context.Context, cfg config.Config, s *sampler.Sampler, w io.Writer) error {
	fc, err := warmFrames(ctx, cfg, s)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, raw := range cfg.Deets {
		it := deets.ParseItem(raw)
		fmt.Fprintf(tw, "%s\t%s\n", raw, deets.Render(ctx, it, fc, deets.Env{Source: s}))
	}
	return tw.Flush()
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// newLogger builds the slog handler. The interactive view owns the
// terminal, so it logs to --log-file or nowhere.
func newLogger(cfg config.Config, interactive bool) (*slog.Logger, func(), error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = func() { f.Close() }
	case interactive:
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closer, nil
}
