package procreg

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

const gib = float64(1 << 30)

// procFs wraps a MemMapFs, counting opens and reads per path and failing
// I/O on handles of processes marked as exited, the way procfs returns
// ESRCH once the task is gone.
type procFs struct {
	afero.Fs

	mu     sync.Mutex
	opens  map[string]int
	reads  map[string]int
	exited map[string]bool
}

func newProcFs() *procFs {
	return &procFs{
		Fs:     afero.NewMemMapFs(),
		opens:  make(map[string]int),
		reads:  make(map[string]int),
		exited: make(map[string]bool),
	}
}

func (p *procFs) Open(name string) (afero.File, error) {
	p.mu.Lock()
	p.opens[name]++
	p.mu.Unlock()
	f, err := p.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &procFile{File: f, fs: p, name: name}, nil
}

func (p *procFs) kill(pid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited[pid] = true
}

func (p *procFs) gone(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	parts := strings.Split(strings.TrimPrefix(name, "/proc/"), "/")
	return p.exited[parts[0]]
}

func (p *procFs) count(m map[string]int, name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return m[name]
}

type procFile struct {
	afero.File
	fs   *procFs
	name string
}

func (f *procFile) Read(b []byte) (int, error) {
	if f.fs.gone(f.name) {
		return 0, syscall.ESRCH
	}
	f.fs.mu.Lock()
	f.fs.reads[f.name]++
	f.fs.mu.Unlock()
	return f.File.Read(b)
}

func (f *procFile) Seek(offset int64, whence int) (int64, error) {
	if f.fs.gone(f.name) {
		return 0, syscall.ESRCH
	}
	return f.File.Seek(offset, whence)
}

func statusFile(name string, rssKB int) string {
	s := fmt.Sprintf("Name:\t%s\nUmask:\t0022\nState:\tS (sleeping)\nTgid:\t1\n", name)
	if rssKB >= 0 {
		s += fmt.Sprintf("VmPeak:\t  99999 kB\nVmRSS:\t  %d kB\n", rssKB)
	}
	return s + "Threads:\t1\n"
}

func statFile(pid int, comm string, utime, stime uint64) string {
	return fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 1 0 100 1000 10\n",
		pid, comm, pid, pid, utime, stime)
}

func addProc(t *testing.T, fsys afero.Fs, pid int, name string, rssKB int, utime, stime uint64) {
	t.Helper()
	dir := fmt.Sprintf("/proc/%d", pid)
	require.NoError(t, fsys.MkdirAll(dir, 0o555))
	require.NoError(t, afero.WriteFile(fsys, path.Join(dir, "status"), []byte(statusFile(name, rssKB)), 0o444))
	require.NoError(t, afero.WriteFile(fsys, path.Join(dir, "stat"), []byte(statFile(pid, name, utime, stime)), 0o444))
}

func byPID(ps []model.ProcessSample) map[string]model.ProcessSample {
	out := make(map[string]model.ProcessSample, len(ps))
	for _, p := range ps {
		out[p.PID] = p
	}
	return out
}

func newFixture(t *testing.T) *procFs {
	t.Helper()
	fsys := newProcFs()
	require.NoError(t, fsys.MkdirAll("/proc/self", 0o555))
	require.NoError(t, afero.WriteFile(fsys, "/proc/stat", []byte("cpu  1 1 1 1\n"), 0o444))
	addProc(t, fsys, 1, "systemd", 2048, 10, 5)
	addProc(t, fsys, 42, "my proc", 1024, 60, 40)
	return fsys
}

func TestSampleDisabledTouchesNothing(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")

	ps, err := reg.Sample(1, 1, false, 1000, gib)
	require.NoError(t, err)
	assert.Empty(t, ps)
	assert.Empty(t, fsys.opens)
	assert.Empty(t, fsys.reads)
}

func TestSampleCensus(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")

	ps, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)
	got := byPID(ps)
	require.Len(t, got, 2, "non-numeric entries are not processes")

	p := got["42"]
	assert.Equal(t, "my proc", p.Command)
	assert.InDelta(t, 1.0/1024, p.Mem, 1e-12)
	assert.Equal(t, 0.0, p.CPU, "first census has no history")

	status, stat, hist := reg.Len()
	assert.Equal(t, 2, status)
	assert.Equal(t, 2, stat)
	assert.Equal(t, 2, hist)

	// 50 more process ticks over 200 more total ticks
	require.NoError(t, afero.WriteFile(fsys, "/proc/42/stat", []byte(statFile(42, "my proc", 90, 60)), 0o444))
	ps, err = reg.Sample(2, 1, true, 1200, gib)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, byPID(ps)["42"].CPU, 1e-9)
	assert.Equal(t, 0.0, byPID(ps)["1"].CPU)

	assert.Equal(t, 1, fsys.count(fsys.opens, "/proc/42/status"), "status handle is reused")
	assert.Equal(t, 1, fsys.count(fsys.opens, "/proc/42/stat"), "stat handle is reused")
}

func TestSampleIsWholeMachineShare(t *testing.T) {
	fsys := newProcFs()
	addProc(t, fsys, 7, "spin", 1024, 0, 0)
	reg := New(fsys, "/proc")

	_, err := reg.Sample(1, 1, true, 0, gib)
	require.NoError(t, err)

	// one thread busy for a whole 100-tick interval on a 4-core host
	require.NoError(t, afero.WriteFile(fsys, "/proc/7/stat", []byte(statFile(7, "spin", 100, 0)), 0o444))
	ps, err := reg.Sample(2, 1, true, 400, gib)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.InDelta(t, 25.0, ps[0].CPU, 1e-9)
}

func TestSampleZeroElapsedTicks(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")

	_, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)
	ps, err := reg.Sample(2, 1, true, 1000, gib)
	require.NoError(t, err)
	for _, p := range ps {
		assert.Equal(t, 0.0, p.CPU, "pid %s", p.PID)
	}
}

func TestKernelThreadReadOnce(t *testing.T) {
	fsys := newFixture(t)
	addProc(t, fsys, 7, "kworker/0:1", -1, 0, 0)
	addProc(t, fsys, 8, "ksoftirqd/0", -1, 0, 0)
	addProc(t, fsys, 9, "migration/0", -1, 0, 0)
	reg := New(fsys, "/proc")

	for frame := uint64(1); frame <= 3; frame++ {
		ps, err := reg.Sample(frame, 1, true, 1000*frame, gib)
		require.NoError(t, err)
		got := byPID(ps)
		for _, pid := range []int{7, 8, 9} {
			name := fmt.Sprintf("/proc/%d", pid)
			assert.NotContains(t, got, fmt.Sprint(pid))
			assert.Equal(t, int(frame), fsys.count(fsys.reads, name+"/status"), "one status read per frame for pid %d", pid)
			assert.Zero(t, fsys.count(fsys.opens, name+"/stat"), "stat never opened for pid %d", pid)
		}
	}
}

func TestKernelThreadWithoutFilter(t *testing.T) {
	fsys := newFixture(t)
	addProc(t, fsys, 7, "kworker/0:1", 0, 0, 0)
	reg := New(fsys, "/proc", WithFilter(nil))

	ps, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)
	assert.Contains(t, byPID(ps), "7")
}

func TestExitedProcessIsEvicted(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")

	_, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)

	fsys.kill("42")
	require.NotPanics(t, func() {
		ps, err := reg.Sample(2, 1, true, 1100, gib)
		require.NoError(t, err)
		assert.NotContains(t, byPID(ps), "42")
	})

	status, stat, hist := reg.Len()
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, stat)
	assert.Equal(t, 1, hist)
}

func TestCachedReaderErrorIsRecoverable(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")
	_, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)

	fsys.kill("42")
	rd := reg.status[42]
	require.NotNil(t, rd)
	_, err = rd.ReadExactOrdered(statusFields, KernelThreadFilter)
	require.ErrorIs(t, err, syscall.ESRCH)
}

func TestRetainSweep(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")
	const cadence = 2 // sweep every 10 frames

	_, err := reg.Sample(1, cadence, true, 1000, gib)
	require.NoError(t, err)

	// The directory vanishes but the open handles stay readable, so only
	// the sweep can notice.
	require.NoError(t, fsys.RemoveAll("/proc/42"))

	for frame := uint64(2); frame < 10; frame++ {
		_, err := reg.Sample(frame, cadence, true, 1000+frame, gib)
		require.NoError(t, err)
		status, stat, _ := reg.Len()
		assert.Equal(t, 2, status, "frame %d", frame)
		assert.Equal(t, 2, stat, "frame %d", frame)
	}

	ps, err := reg.Sample(10, cadence, true, 2000, gib)
	require.NoError(t, err)
	assert.NotContains(t, byPID(ps), "42")
	status, stat, hist := reg.Len()
	assert.Equal(t, 1, status)
	assert.Equal(t, 1, stat)
	assert.Equal(t, 1, hist)
}

func TestVanishedBeforeOpenIsSkipped(t *testing.T) {
	fsys := newFixture(t)
	require.NoError(t, fsys.MkdirAll("/proc/77", 0o555))
	reg := New(fsys, "/proc")

	ps, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)
	assert.NotContains(t, byPID(ps), "77")
	status, _, _ := reg.Len()
	assert.Equal(t, 2, status)
}

func TestMalformedStatSkipsProcess(t *testing.T) {
	fsys := newFixture(t)
	require.NoError(t, afero.WriteFile(fsys, "/proc/42/stat", []byte("42 (my proc) S 1\n"), 0o444))
	reg := New(fsys, "/proc")

	ps, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)
	assert.NotContains(t, byPID(ps), "42")
	assert.Contains(t, byPID(ps), "1")
}

func TestMissingRootFails(t *testing.T) {
	reg := New(afero.NewMemMapFs(), "/proc")
	_, err := reg.Sample(1, 1, true, 1000, gib)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClose(t *testing.T) {
	fsys := newFixture(t)
	reg := New(fsys, "/proc")
	_, err := reg.Sample(1, 1, true, 1000, gib)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	status, stat, hist := reg.Len()
	assert.Zero(t, status+stat+hist)
}

func TestParseStatTicks(t *testing.T) {
	ticks, err := ParseStatTicks(statFile(42, "tmux: server", 60, 40))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), ticks)

	_, err = ParseStatTicks("garbage")
	assert.ErrorIs(t, err, ErrMalformedStat)
	_, err = ParseStatTicks("1 (x) S 1 2")
	assert.ErrorIs(t, err, ErrShortStat)
	_, err = ParseStatTicks("1 (x) S 1 1 1 0 -1 0 0 0 0 0 zz 1 0")
	assert.ErrorIs(t, err, ErrMalformedStat)
}

func TestKernelThreadFilter(t *testing.T) {
	cases := []struct {
		num  int
		line string
		keep bool
	}{
		{0, "Name:\tkworker/0:1", false},
		{0, "Name:\tkworker/u16:3-events_unbound", false},
		{0, "Name:\tksoftirqd/3", false},
		{0, "Name:\tmigration/2", false},
		{0, "Name:\tmigrationd", true},
		{0, "Name:\tbash", true},
		{1, "Name:\tkworker/0:1", true},
		{0, "Umask:\t0022", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.keep, KernelThreadFilter(c.num, c.line), "%d %q", c.num, c.line)
	}
}

func TestParsePID(t *testing.T) {
	for _, ok := range []string{"1", "42", "999999"} {
		_, got := parsePID(ok)
		assert.True(t, got, ok)
	}
	for _, bad := range []string{"", "self", "thread-self", "1a", "-1"} {
		_, got := parsePID(bad)
		assert.False(t, got, bad)
	}
}
