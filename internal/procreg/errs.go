package procreg

import "errors"

var (
	// ErrShortStat indicates /proc/<pid>/stat had fewer fields than expected.
	ErrShortStat = errors.New("procreg: short stat")

	// ErrMalformedStat indicates /proc/<pid>/stat could not be parsed.
	ErrMalformedStat = errors.New("procreg: malformed stat")

	// ErrMalformedStatus indicates a Name/VmRSS line that could not be parsed.
	ErrMalformedStatus = errors.New("procreg: malformed status")
)
