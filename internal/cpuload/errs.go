package cpuload

import "errors"

var (
	// ErrShortStat indicates /proc/stat had no aggregate cpu line.
	ErrShortStat = errors.New("cpuload: short stat")

	// ErrMalformedStat indicates a cpu line that is not "cpu[N] <ticks>...".
	ErrMalformedStat = errors.New("cpuload: malformed cpu line")
)
