package probes

import "errors"

var (
	// ErrMalformedMemInfo indicates /proc/meminfo lacked the expected leading lines.
	ErrMalformedMemInfo = errors.New("probes: malformed meminfo")

	// ErrShortNetDev indicates an interface line of /proc/net/dev with too few counters.
	ErrShortNetDev = errors.New("probes: short net/dev line")

	// ErrBatteryStatus indicates a power_supply status that is not a known state.
	ErrBatteryStatus = errors.New("probes: unknown battery status")

	// ErrEmptyRead indicates a single-value pseudo-file that returned nothing.
	ErrEmptyRead = errors.New("probes: empty read")

	// ErrNoSensor indicates that no hardware sensor matched the requested key.
	ErrNoSensor = errors.New("probes: no such sensor")
)
