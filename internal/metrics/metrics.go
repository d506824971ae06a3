// Package metrics exposes sampled frames as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

const namespace = "hostdeets"

// Exporter holds one gauge family per frame field. Process gauges are
// rebuilt on every census so exited processes disappear.
type Exporter struct {
	reg *prometheus.Registry

	cpu          *prometheus.GaugeVec
	memory       *prometheus.GaugeVec
	load         *prometheus.GaugeVec
	uptime       prometheus.Gauge
	procsRunning prometheus.Gauge
	procCPU      *prometheus.GaugeVec
	procMem      *prometheus.GaugeVec
	netBytes     *netCollector
	fsUsed       *prometheus.GaugeVec
	battery      *prometheus.GaugeVec
	temp         *prometheus.GaugeVec
}

// NewExporter registers every gauge on reg, or on a fresh registry when
// reg is nil.
func NewExporter(reg *prometheus.Registry) *Exporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	e := &Exporter{
		reg:    reg,
		cpu:    gauge("cpu_busy_percent", "Busy percentage per core; cpu=\"total\" is the aggregate.", "cpu"),
		memory: gauge("memory_bytes", "System memory.", "kind"),
		load:   gauge("load_average", "Kernel load average.", "period"),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds", Help: "Host uptime.",
		}),
		procsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "procs_running", Help: "Runnable processes.",
		}),
		procCPU:  gauge("process_cpu_percent", "CPU share of a process since the previous census.", "pid", "command"),
		procMem:  gauge("process_memory_ratio", "Resident memory of a process over total RAM.", "pid", "command"),
		netBytes: newNetCollector(),
		fsUsed:   gauge("filesystem_used_ratio", "Used fraction of a mounted filesystem.", "mount"),
		battery:  gauge("battery_capacity_percent", "Battery charge.", "battery", "charged"),
		temp:     gauge("temperature_celsius", "Thermal zone or sensor temperature.", "sensor"),
	}
	reg.MustRegister(e.cpu, e.memory, e.load, e.uptime, e.procsRunning,
		e.procCPU, e.procMem, e.netBytes, e.fsUsed, e.battery, e.temp)
	return e
}

// Observe publishes fc. Only the first limit processes are exported; the
// caller is expected to have sorted them. limit <= 0 exports all.
func (e *Exporter) Observe(fc *model.FrameCache, limit int) {
	e.cpu.WithLabelValues("total").Set(fc.CPU.Total)
	for i, p := range fc.CPU.PerCore {
		e.cpu.WithLabelValues(strconv.Itoa(i)).Set(p)
	}

	e.memory.WithLabelValues("total").Set(fc.Memory.TotalBytes())
	e.memory.WithLabelValues("available").Set(fc.Memory.FreeGiB * (1 << 30))

	e.load.WithLabelValues("1m").Set(fc.Host.Load1)
	e.load.WithLabelValues("5m").Set(fc.Host.Load5)
	e.load.WithLabelValues("15m").Set(fc.Host.Load15)
	e.uptime.Set(fc.Host.Uptime.Seconds())

	if n, err := fc.ProcsRunning(); err == nil {
		e.procsRunning.Set(float64(n))
	}

	if fc.Census {
		e.procCPU.Reset()
		e.procMem.Reset()
		procs := fc.Processes
		if limit > 0 {
			procs = model.TopN(procs, limit)
		}
		for _, p := range procs {
			e.procCPU.WithLabelValues(p.PID, p.Command).Set(p.CPU)
			e.procMem.WithLabelValues(p.PID, p.Command).Set(p.Mem)
		}
	}

	e.netBytes.set(fc.NetDev)
}

func (e *Exporter) ObserveFileSystems(usage map[string]model.FileSystemUsage) {
	for mount, u := range usage {
		e.fsUsed.WithLabelValues(mount).Set(u.Fraction())
	}
}

func (e *Exporter) ObserveBattery(b model.Battery) {
	capacity, err := strconv.ParseFloat(b.Capacity, 64)
	if err != nil {
		return
	}
	e.battery.DeletePartialMatch(prometheus.Labels{"battery": b.Path})
	e.battery.WithLabelValues(b.Path, strconv.FormatBool(b.Charged)).Set(capacity)
}

func (e *Exporter) ObserveTemps(temps []model.Temp) {
	for _, t := range temps {
		e.temp.WithLabelValues(t.Zone).Set(t.Celsius)
	}
}

// netCollector exports the kernel's interface byte counters as counters.
// Only interfaces of the last observed frame are collected.
type netCollector struct {
	desc *prometheus.Desc

	mu   sync.Mutex
	last map[string]model.NetDevSample
}

func newNetCollector() *netCollector {
	return &netCollector{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "network_bytes_total"),
			"Cumulative interface byte counters.", []string{"interface", "direction"}, nil),
	}
}

func (c *netCollector) set(samples map[string]model.NetDevSample) {
	last := make(map[string]model.NetDevSample, len(samples))
	for name, s := range samples {
		last[name] = s
	}
	c.mu.Lock()
	c.last = last
	c.mu.Unlock()
}

func (c *netCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *netCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.last {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.RxBytes), name, "rx")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.TxBytes), name, "tx")
	}
}

// Handler serves the exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}
