package ui

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jpillora/sizestr"

	"github.com/Dicklesworthstone/hostdeets/internal/config"
	"github.com/Dicklesworthstone/hostdeets/internal/deets"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
	"github.com/Dicklesworthstone/hostdeets/internal/netrate"
)

// Source supplies the readings that are not part of a frame.
type Source interface {
	deets.Source
	ThermalZones() ([]model.Temp, error)
	SensorsAll(ctx context.Context) ([]model.Temp, error)
}

// aux holds the per-frame probe results shown next to the frame.
type aux struct {
	fs        map[string]model.FileSystemUsage
	batteries []model.Battery
	temps     []model.Temp
	rates     map[string]netrate.Rate
}

// Model renders live frames from the sampler.
type Model struct {
	ctx    context.Context
	cfg    config.Config
	src    Source
	filter *regexp.Regexp
	frames <-chan *model.FrameCache
	rates  *netrate.Cache
	quit   func()

	latest *model.FrameCache
	procs  []model.ProcessSample
	aux    aux
	width  int
	height int
}

// New returns a Model reading frames until the channel closes. quit is
// called when the user leaves the view.
func New(cfg config.Config, src Source, frames <-chan *model.FrameCache, quit func()) *Model {
	filter, _ := cfg.FilterRegexp()
	if quit == nil {
		quit = func() {}
	}
	return &Model{
		ctx:    context.Background(),
		cfg:    cfg,
		src:    src,
		filter: filter,
		frames: frames,
		rates:  netrate.New(10 * cfg.Interval),
		quit:   quit,
		latest: model.Zero(),
		width:  120,
		height: 40,
	}
}

type tickMsg struct{}

func tickCmd() tea.Cmd { return tea.Tick(time.Second/5, func(time.Time) tea.Msg { return tickMsg{} }) }

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit()
			return m, tea.Quit
		case "s":
			if m.cfg.Sort == "cpu" {
				m.cfg.Sort = "mem"
			} else {
				m.cfg.Sort = "cpu"
			}
			model.SortProcesses(m.procs, m.cfg.Sort)
		}
	case tickMsg:
		select {
		case fc, ok := <-m.frames:
			if !ok {
				return m, tea.Quit
			}
			m.observe(fc)
		default:
		}
		return m, tickCmd()
	}
	return m, nil
}

// observe stores fc and refreshes the on-demand readings. The process
// list of the last census is kept through frames that skipped it.
func (m *Model) observe(fc *model.FrameCache) {
	m.latest = fc
	if fc.Census {
		procs := fc.Processes
		if m.filter != nil {
			procs = model.FilterProcesses(procs, m.filter)
		} else {
			procs = append([]model.ProcessSample(nil), procs...)
		}
		model.SortProcesses(procs, m.cfg.Sort)
		m.procs = procs
	}
	m.aux.rates = m.rates.Observe(fc.NetDev, fc.Timestamp)
	if m.src == nil {
		return
	}
	if fs, err := m.src.FileSystems(m.cfg.Mounts); err == nil {
		m.aux.fs = fs
	}
	m.aux.batteries = m.aux.batteries[:0]
	for _, b := range m.cfg.Batteries {
		if bat, err := m.src.Battery(b); err == nil {
			m.aux.batteries = append(m.aux.batteries, bat)
		}
	}
	m.aux.temps = m.aux.temps[:0]
	if temps, err := m.src.ThermalZones(); err == nil {
		m.aux.temps = append(m.aux.temps, temps...)
	}
	if len(m.cfg.Sensors) > 0 {
		if all, err := m.src.SensorsAll(m.ctx); err == nil {
			m.aux.temps = append(m.aux.temps, pickSensors(all, m.cfg.Sensors)...)
		}
	}
}

// pickSensors keeps the readings named in keys, in the order of keys.
func pickSensors(all []model.Temp, keys []string) []model.Temp {
	var out []model.Temp
	for _, k := range keys {
		for _, t := range all {
			if t.Zone == k {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

func (m *Model) View() string {
	f := m.latest
	header := titleStyle.Render(orDash(f.Host.Hostname)) + "  " +
		subtleStyle.Render(fmt.Sprintf("%s  up %s  %s",
			f.Host.Kernel,
			deets.UptimeString(f.Host.Uptime),
			f.Timestamp.Format("Mon Jan 2 15:04:05 MST 2006")))

	cores := make([]string, 0, len(f.CPU.PerCore))
	for i, p := range f.CPU.PerCore {
		cores = append(cores, fmt.Sprintf("%2d %s", i, gaugeBar(p, 12)))
	}
	cpuCard := card("CPU",
		fmt.Sprintf("%s  load %s\n%s",
			gaugeBar(f.CPU.Total, 28),
			deets.LoadString(f.Host),
			strings.Join(cores, "\n")))

	memPct := 0.0
	if f.Memory.TotalGiB > 0 {
		memPct = f.Memory.UsedGiB() * 100 / f.Memory.TotalGiB
	}
	memCard := card("Memory",
		fmt.Sprintf("%s  %.1f/%.1f GiB", gaugeBar(memPct, 28), f.Memory.UsedGiB(), f.Memory.TotalGiB))

	columns := []string{cpuCard, memCard}
	if c := m.netCard(); c != "" {
		columns = append(columns, c)
	}

	var extras []string
	if c := m.fsCard(); c != "" {
		extras = append(extras, c)
	}
	if len(m.aux.batteries) > 0 {
		lines := make([]string, 0, len(m.aux.batteries))
		for _, b := range m.aux.batteries {
			state := "battery"
			if b.Charged {
				state = "ac"
			}
			lines = append(lines, fmt.Sprintf("%-6s %s%% (%s)", truncate(baseName(b.Path), 6), b.Capacity, state))
		}
		extras = append(extras, card("Battery", strings.Join(lines, "\n")))
	}
	if len(m.aux.temps) > 0 {
		lines := make([]string, 0, len(m.aux.temps))
		for _, t := range m.aux.temps {
			lines = append(lines, fmt.Sprintf("%-14s %5.1f°C", truncate(t.Zone, 14), t.Celsius))
		}
		extras = append(extras, card("Thermal", strings.Join(lines, "\n")))
	}

	title := "Top CPU"
	if m.cfg.Sort == "mem" {
		title = "Top Memory"
	}
	topTable := card(title, renderTable(m.procs, limit(m.cfg.TopLimit, len(m.procs))))

	rows := []string{header, lipgloss.JoinHorizontal(lipgloss.Top, columns...)}
	if len(extras) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, extras...))
	}
	rows = append(rows, topTable, subtleStyle.Render("q quit  s toggle sort"))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *Model) netCard() string {
	if len(m.aux.rates) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.aux.rates))
	for n := range m.aux.rates {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		r := m.aux.rates[n]
		lines = append(lines, fmt.Sprintf("%-10s rx %9s/s tx %9s/s",
			truncate(n, 10), sizestr.ToString(int64(r.RxPerSec)), sizestr.ToString(int64(r.TxPerSec))))
	}
	return card("Network", strings.Join(lines, "\n"))
}

func (m *Model) fsCard() string {
	if len(m.aux.fs) == 0 {
		return ""
	}
	mounts := make([]string, 0, len(m.aux.fs))
	for mp := range m.aux.fs {
		mounts = append(mounts, mp)
	}
	sort.Strings(mounts)
	lines := make([]string, 0, len(mounts))
	for _, mp := range mounts {
		u := m.aux.fs[mp]
		lines = append(lines, fmt.Sprintf("%-12s %s %s/%s",
			truncate(mp, 12), gaugeBar(u.Fraction()*100, 16), u.UsedStr, u.TotalStr))
	}
	return card("Filesystems", strings.Join(lines, "\n"))
}

// Helpers
func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int((pct / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

func card(title, body string) string {
	titleStr := labelStyle.Render(title)
	content := titleStr + "\n" + body
	return cardStyle.Render(content)
}

func renderTable(rows []model.ProcessSample, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-24s %6s %6s\n", "pid", "cmd", "cpu", "mem")
	for _, r := range rows[:n] {
		fmt.Fprintf(&b, "%-8s %-24s %6.1f %6.1f\n",
			r.PID, truncate(r.Command, 24), r.CPU, r.Mem*100)
	}
	return strings.TrimRight(b.String(), "\n")
}

// limit caps n by want; want == 0 means no cap.
func limit(want, n int) int {
	if want > 0 && want < n {
		return want
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RunTUI runs the Bubble Tea program until the user quits, ctx is done or
// frames closes.
func RunTUI(ctx context.Context, cfg config.Config, src Source, frames <-chan *model.FrameCache, quit func()) error {
	m := New(cfg, src, frames, quit)
	m.ctx = ctx
	prog := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		prog.Quit()
	}()
	_, err := prog.Run()
	return err
}
