package linereader

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const status = "Name:\tbash\nUmask:\t0022\nState:\tS (sleeping)\nVmPeak:\t  10000 kB\nVmRSS:\t    5120 kB\nThreads:\t1\n"

var errBoom = errors.New("boom")

// failAfter yields data once, then fails every later read.
type failAfter struct {
	data string
	done bool
}

func (f *failAfter) Read(p []byte) (int, error) {
	if f.done {
		return 0, errBoom
	}
	f.done = true
	return copy(p, f.data), nil
}

func TestReadN(t *testing.T) {
	t.Run("fewer_lines_than_requested", func(t *testing.T) {
		r := New(strings.NewReader("  a \nb\t\nc\n"))
		lines, err := r.ReadN(5)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, lines)
	})
	t.Run("no_trailing_newline", func(t *testing.T) {
		lines, err := ReadN(strings.NewReader("x\ny"), 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, lines)
	})
	t.Run("bounded", func(t *testing.T) {
		lines, err := ReadN(strings.NewReader("1\n2\n3\n4\n"), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, lines)
	})
	t.Run("empty_source", func(t *testing.T) {
		lines, err := ReadN(strings.NewReader(""), 3)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})
	t.Run("read_error_mid_stream", func(t *testing.T) {
		_, err := ReadN(&failAfter{data: "first\nsecond"}, 5)
		require.ErrorIs(t, err, errBoom)
	})
}

func TestReaderRewinds(t *testing.T) {
	r := New(strings.NewReader("one\ntwo\n"))
	for i := 0; i < 3; i++ {
		lines, err := r.ReadN(1)
		require.NoError(t, err)
		assert.Equal(t, []string{"one"}, lines, "pass %d", i)
	}
}

func TestMatching(t *testing.T) {
	lines, err := Matching(strings.NewReader(status), "VmRSS", "Name")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name:\tbash", "VmRSS:\t    5120 kB"}, lines)

	none, err := Matching(strings.NewReader(status), "Nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExactOrdered(t *testing.T) {
	t.Run("stops_after_last_prefix", func(t *testing.T) {
		lines, err := ExactOrdered(strings.NewReader(status), []string{"Name", "VmRSS"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Name:\tbash", "VmRSS:\t    5120 kB"}, lines)
	})
	t.Run("order_is_enforced", func(t *testing.T) {
		lines, err := ExactOrdered(strings.NewReader(status), []string{"VmRSS", "Name"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"VmRSS:\t    5120 kB"}, lines)
	})
	t.Run("missing_prefix_returns_partial", func(t *testing.T) {
		lines, err := ExactOrdered(strings.NewReader("Name:\tkthreadd\nState:\tS\n"), []string{"Name", "VmRSS"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Name:\tkthreadd"}, lines)
	})
	t.Run("predicate_short_circuits", func(t *testing.T) {
		var seen []int
		keep := func(n int, line string) bool {
			seen = append(seen, n)
			return !strings.HasPrefix(line, "Name:\tkworker")
		}
		lines, err := ExactOrdered(strings.NewReader("Name:\tkworker/0:1\nVmRSS:\t1 kB\n"), []string{"Name", "VmRSS"}, keep)
		require.NoError(t, err)
		assert.Empty(t, lines)
		assert.Equal(t, []int{0}, seen)
	})
	t.Run("read_error", func(t *testing.T) {
		_, err := ExactOrdered(&failAfter{data: "Umask:\t0022\n"}, []string{"Name"}, nil)
		require.ErrorIs(t, err, errBoom)
	})
}

func TestFileHelpers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/proc/stat", []byte("cpu  1 2 3 4\ncpu0 1 2 3 4\nintr 5\nprocs_running 3\n"), 0o444))

	lines, err := ReadFileN(fsys, "/proc/stat", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu  1 2 3 4", "cpu0 1 2 3 4"}, lines)

	lines, err = MatchFile(fsys, "/proc/stat", "cpu", "proc")
	require.NoError(t, err)
	assert.Len(t, lines, 3)

	_, err = MatchFile(fsys, "/proc/missing", "cpu")
	require.Error(t, err)

	r, err := Open(fsys, "/proc/stat")
	require.NoError(t, err)
	defer r.Close()
	lines, err = r.ReadMatching("procs_running")
	require.NoError(t, err)
	assert.Equal(t, []string{"procs_running 3"}, lines)
}
