// Package linereader re-reads small line-oriented pseudo-files such as
// /proc/<pid>/status without reopening them. A Reader wraps an open,
// seekable handle; every read rewinds to offset 0 and drops any buffered
// bytes first, so the kernel regenerates the content on each pass.
package linereader

import (
	"bufio"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// LinePredicate is consulted on every line before prefix matching.
// Returning false stops the scan; whatever was collected so far is
// returned without an error.
type LinePredicate func(lineNum int, line string) bool

// Reader is a rewindable line reader over an open handle.
type Reader struct {
	src io.ReadSeeker
	br  *bufio.Reader
}

// New wraps src. The handle is owned by the Reader and released by Close.
func New(src io.ReadSeeker) *Reader {
	return &Reader{src: src, br: bufio.NewReader(src)}
}

// Open opens path on fsys and wraps it in a Reader.
func Open(fsys afero.Fs, path string) (*Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// Rewind seeks the handle back to offset 0 and discards buffered data.
func (r *Reader) Rewind() error {
	if _, err := r.src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.br.Reset(r.src)
	return nil
}

// Close closes the underlying handle if it is closable.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadN rewinds and returns up to n trimmed lines.
func (r *Reader) ReadN(n int) ([]string, error) {
	if err := r.Rewind(); err != nil {
		return nil, err
	}
	return readN(r.br, n)
}

// ReadMatching rewinds and returns every line starting with one of prefixes.
func (r *Reader) ReadMatching(prefixes ...string) ([]string, error) {
	if err := r.Rewind(); err != nil {
		return nil, err
	}
	return matching(r.br, prefixes)
}

// ReadExactOrdered rewinds and collects one line per prefix, in prefix
// order, stopping as soon as every prefix has matched. keep may be nil.
func (r *Reader) ReadExactOrdered(prefixes []string, keep LinePredicate) ([]string, error) {
	if err := r.Rewind(); err != nil {
		return nil, err
	}
	return exactOrdered(r.br, prefixes, keep)
}

// ReadN returns up to n trimmed lines from the start of rd, stopping early at EOF.
func ReadN(rd io.Reader, n int) ([]string, error) {
	return readN(bufio.NewReader(rd), n)
}

// Matching returns every line of rd that starts with one of prefixes.
// Original line order is preserved.
func Matching(rd io.Reader, prefixes ...string) ([]string, error) {
	return matching(bufio.NewReader(rd), prefixes)
}

// ExactOrdered is the one-shot form of Reader.ReadExactOrdered.
func ExactOrdered(rd io.Reader, prefixes []string, keep LinePredicate) ([]string, error) {
	return exactOrdered(bufio.NewReader(rd), prefixes, keep)
}

// ReadFileN opens path, returns up to n trimmed lines and closes it again.
func ReadFileN(fsys afero.Fs, path string, n int) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadN(f, n)
}

// MatchFile opens path and returns its lines starting with one of prefixes.
func MatchFile(fsys afero.Fs, path string, prefixes ...string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Matching(f, prefixes...)
}

// next returns the next line without its terminator. ok is false at EOF.
func next(br *bufio.Reader) (line string, ok bool, err error) {
	line, err = br.ReadString('\n')
	switch {
	case err == io.EOF:
		if line == "" {
			return "", false, nil
		}
		return line, true, nil
	case err != nil:
		return "", false, err
	}
	return line, true, nil
}

func readN(br *bufio.Reader, n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, ok, err := next(br)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines, nil
}

func matching(br *bufio.Reader, prefixes []string) ([]string, error) {
	var lines []string
	for {
		line, ok, err := next(br)
		if err != nil {
			return nil, err
		}
		if !ok {
			return lines, nil
		}
		if hasAnyPrefix(line, prefixes) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
}

func exactOrdered(br *bufio.Reader, prefixes []string, keep LinePredicate) ([]string, error) {
	lines := make([]string, 0, len(prefixes))
	for num := 0; len(lines) < len(prefixes); num++ {
		line, ok, err := next(br)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if keep != nil && !keep(num, line) {
			break
		}
		if strings.HasPrefix(line, prefixes[len(lines)]) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines, nil
}

func hasAnyPrefix(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
