package probes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// NetDevPath holds cumulative per-interface counters.
const NetDevPath = "/proc/net/dev"

const maxNetDevLines = 1024

// ReadNetDev returns received and transmitted byte counters per interface.
func ReadNetDev(fsys afero.Fs) (map[string]model.NetDevSample, error) {
	lines, err := linereader.ReadFileN(fsys, NetDevPath, maxNetDevLines)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.NetDevSample)
	for i, line := range lines {
		// two header lines
		if i < 2 || line == "" {
			continue
		}
		name, sample, err := parseNetDevLine(line)
		if err != nil {
			return nil, err
		}
		out[name] = sample
	}
	return out, nil
}

// parseNetDevLine handles both "eth0: 1 2 ..." and "eth0:1 2 ...".
func parseNetDevLine(line string) (string, model.NetDevSample, error) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", model.NetDevSample{}, fmt.Errorf("%w: %q", ErrShortNetDev, line)
	}
	fields := strings.Fields(rest)
	if len(fields) < 9 {
		return "", model.NetDevSample{}, fmt.Errorf("%w: %q", ErrShortNetDev, line)
	}
	rx, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return "", model.NetDevSample{}, fmt.Errorf("%s rx: %w", name, err)
	}
	tx, err := strconv.ParseUint(fields[8], 10, 64)
	if err != nil {
		return "", model.NetDevSample{}, fmt.Errorf("%s tx: %w", name, err)
	}
	return strings.TrimSpace(name), model.NetDevSample{RxBytes: rx, TxBytes: tx}, nil
}
