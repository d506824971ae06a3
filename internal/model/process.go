package model

import (
	"regexp"
	"sort"
)

// ProcessSample is one row of the process census.
//
// CPU is a whole-machine share: ticks of the process over ticks of all
// cores since its previous census, so a single busy thread on an N-core
// host reads 100/N. It is not clamped.
type ProcessSample struct {
	PID     string
	Command string
	Mem     float64 // resident bytes / total RAM bytes
	CPU     float64
}

// SortProcesses orders ps in place by key ("cpu" or "mem"), highest first.
// Ties keep PID order.
func SortProcesses(ps []ProcessSample, key string) {
	less := func(a, b ProcessSample) bool { return a.CPU > b.CPU }
	if key == "mem" {
		less = func(a, b ProcessSample) bool { return a.Mem > b.Mem }
	}
	sort.SliceStable(ps, func(i, j int) bool { return less(ps[i], ps[j]) })
}

// FilterProcesses returns the samples whose command matches re. A nil re
// keeps everything.
func FilterProcesses(ps []ProcessSample, re *regexp.Regexp) []ProcessSample {
	if re == nil {
		return ps
	}
	out := make([]ProcessSample, 0, len(ps))
	for _, p := range ps {
		if re.MatchString(p.Command) {
			out = append(out, p)
		}
	}
	return out
}

// TopN returns at most n leading samples.
func TopN(ps []ProcessSample, n int) []ProcessSample {
	if n >= 0 && len(ps) > n {
		return ps[:n]
	}
	return ps
}
