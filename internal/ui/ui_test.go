package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/hostdeets/internal/config"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

type fakeSource struct{}

func (fakeSource) FileSystems(mounts []string) (map[string]model.FileSystemUsage, error) {
	return map[string]model.FileSystemUsage{"/": {Used: 10, Total: 40, UsedStr: "10.00G", TotalStr: "40.00G", UsePct: "25%"}}, nil
}

func (fakeSource) Battery(dir string) (model.Battery, error) {
	if dir != "BAT0" {
		return model.Battery{}, errors.New("no such battery")
	}
	return model.Battery{Path: "/sys/class/power_supply/BAT0", Capacity: "64", Charged: true}, nil
}

func (fakeSource) CPUMHz() ([]uint16, error)        { return []uint16{1000}, nil }
func (fakeSource) ThermalZone(int) (float64, error) { return 40, nil }

func (fakeSource) Sensor(context.Context, string) (float64, error) { return 0, errors.New("none") }

func (fakeSource) SensorsAll(context.Context) ([]model.Temp, error) {
	return []model.Temp{{Zone: "acpitz", Celsius: 41}, {Zone: "coretemp", Celsius: 55}}, nil
}

func (fakeSource) ThermalZones() ([]model.Temp, error) {
	return []model.Temp{{Zone: "thermal_zone0", Celsius: 48.5}}, nil
}

func testFrame(ts time.Time, census bool, procs ...model.ProcessSample) *model.FrameCache {
	return &model.FrameCache{
		Timestamp: ts,
		Host:      model.Host{Hostname: "box", Kernel: "6.8.0", Uptime: time.Hour},
		CPU:       model.CPU{Total: 50, PerCore: []float64{25, 75}},
		Memory:    model.Memory{TotalGiB: 8, FreeGiB: 6},
		Census:    census,
		Processes: procs,
		NetDev:    map[string]model.NetDevSample{"eth0": {RxBytes: uint64(ts.Unix() * 1000)}},
	}
}

func newModel(t *testing.T, mut func(*config.Config)) (*Model, chan *model.FrameCache) {
	t.Helper()
	cfg := config.Default()
	cfg.Batteries = []string{"BAT0", "BAT9"}
	if mut != nil {
		mut(&cfg)
	}
	require.NoError(t, cfg.Validate())
	ch := make(chan *model.FrameCache, 4)
	return New(cfg, fakeSource{}, ch, nil), ch
}

// push delivers fc through the frame channel the way the sampler does.
func push(t *testing.T, m *Model, ch chan *model.FrameCache, fc *model.FrameCache) {
	t.Helper()
	ch <- fc
	_, cmd := m.Update(tickMsg{})
	require.NotNil(t, cmd)
	require.Same(t, fc, m.latest)
}

func TestObserveKeepsLastCensus(t *testing.T) {
	m, ch := newModel(t, nil)
	t0 := time.Unix(1000, 0)

	push(t, m, ch, testFrame(t0, true,
		model.ProcessSample{PID: "1", Command: "init", CPU: 1},
		model.ProcessSample{PID: "2", Command: "nginx", CPU: 9, Mem: 0.01},
	))
	require.Len(t, m.procs, 2)
	assert.Equal(t, "2", m.procs[0].PID)

	push(t, m, ch, testFrame(t0.Add(time.Second), false))
	assert.Len(t, m.procs, 2)
	require.Contains(t, m.aux.rates, "eth0")
	assert.InDelta(t, 1000.0, m.aux.rates["eth0"].RxPerSec, 1e-9)
	assert.Len(t, m.aux.batteries, 1)
	assert.Len(t, m.aux.temps, 1)
	assert.Contains(t, m.aux.fs, "/")
}

func TestFilterAndSort(t *testing.T) {
	m, ch := newModel(t, func(c *config.Config) { c.Filter = "^ng" })
	push(t, m, ch, testFrame(time.Unix(1, 0), true,
		model.ProcessSample{PID: "1", Command: "init", CPU: 1},
		model.ProcessSample{PID: "2", Command: "nginx", CPU: 1, Mem: 0.1},
		model.ProcessSample{PID: "3", Command: "ngrok", CPU: 5, Mem: 0.2},
	))
	require.Len(t, m.procs, 2)
	assert.Equal(t, "3", m.procs[0].PID)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Equal(t, "mem", m.cfg.Sort)
	assert.Equal(t, "3", m.procs[0].PID)
}

func TestSensorsJoinThermalZones(t *testing.T) {
	m, ch := newModel(t, func(c *config.Config) { c.Sensors = []string{"coretemp", "missing"} })
	push(t, m, ch, testFrame(time.Unix(1, 0), false))
	assert.Equal(t, []model.Temp{
		{Zone: "thermal_zone0", Celsius: 48.5},
		{Zone: "coretemp", Celsius: 55},
	}, m.aux.temps)
	assert.Contains(t, m.View(), "coretemp")

	m, ch = newModel(t, nil)
	push(t, m, ch, testFrame(time.Unix(1, 0), false))
	assert.Len(t, m.aux.temps, 1)
}

func TestTickDrainsFrames(t *testing.T) {
	m, ch := newModel(t, nil)
	ch <- testFrame(time.Unix(5, 0), true, model.ProcessSample{PID: "7", Command: "sh"})

	_, cmd := m.Update(tickMsg{})
	assert.NotNil(t, cmd)
	assert.Equal(t, "box", m.latest.Host.Hostname)

	close(ch)
	_, cmd = m.Update(tickMsg{})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestQuitKeyCallsQuit(t *testing.T) {
	called := false
	m := New(config.Default(), nil, nil, func() { called = true })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, called)
}

func TestView(t *testing.T) {
	m, ch := newModel(t, func(c *config.Config) { c.TopLimit = 1 })
	push(t, m, ch, testFrame(time.Unix(1, 0), true,
		model.ProcessSample{PID: "11", Command: "postgres", CPU: 30},
		model.ProcessSample{PID: "12", Command: "redis-server", CPU: 3},
	))
	push(t, m, ch, testFrame(time.Unix(2, 0), false))

	out := m.View()
	for _, want := range []string{"box", "CPU", "Memory", "Network", "Filesystems", "Battery", "thermal_zone0", "postgres"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "redis-server")

	// an empty model renders before the first frame
	assert.NotEmpty(t, New(config.Default(), nil, nil, nil).View())
}

func TestGaugeBar(t *testing.T) {
	assert.Equal(t, "[██░░]  50.0%", gaugeBar(50, 4))
	assert.Equal(t, "[████] 100.0%", gaugeBar(250, 4))
	assert.Equal(t, "[░░░░]   0.0%", gaugeBar(-3, 4))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, 2, limit(2, 5))
	assert.Equal(t, 5, limit(0, 5))
	assert.Equal(t, 3, limit(9, 3))
	assert.Equal(t, "BAT0", baseName("/sys/class/power_supply/BAT0"))

	table := renderTable([]model.ProcessSample{{PID: "1", Command: "init", CPU: 2.5, Mem: 0.125}}, 1)
	lines := strings.Split(table, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "12.5")
}
