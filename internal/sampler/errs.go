package sampler

import "errors"

// ErrMandatorySource wraps startup failures of /proc/meminfo, /proc/stat
// or /proc/cpuinfo. Without them no frame can be built.
var ErrMandatorySource = errors.New("sampler: mandatory source unavailable")
