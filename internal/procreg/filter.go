package procreg

import "strings"

var kernelThreadPrefixes = []string{"kworker", "ksoftirqd", "migration/"}

// KernelThreadFilter is a linereader.LinePredicate for status files. It
// rejects line 0 when it names a kworker, ksoftirqd or migration thread,
// so nothing else of such a process is read.
func KernelThreadFilter(lineNum int, line string) bool {
	if lineNum != 0 {
		return true
	}
	name, ok := strings.CutPrefix(line, "Name:\t")
	if !ok {
		return true
	}
	for _, p := range kernelThreadPrefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	return true
}
