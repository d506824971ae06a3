package probes

import (
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// ThermalDir holds the kernel's thermal zones.
const ThermalDir = "/sys/class/thermal"

// ThermalZone returns the temperature of thermal_zone<zone> in Celsius.
func ThermalZone(fsys afero.Fs, zone int) (float64, error) {
	return readMilliCelsius(fsys, path.Join(ThermalDir, fmt.Sprintf("thermal_zone%d", zone), "temp"))
}

// ThermalZones reads every readable thermal zone, ordered by name.
func ThermalZones(fsys afero.Fs) ([]model.Temp, error) {
	matches, err := afero.Glob(fsys, path.Join(ThermalDir, "thermal_zone*", "temp"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]model.Temp, 0, len(matches))
	for _, m := range matches {
		c, err := readMilliCelsius(fsys, m)
		if err != nil {
			continue
		}
		out = append(out, model.Temp{Zone: path.Base(path.Dir(m)), Celsius: c})
	}
	return out, nil
}

func readMilliCelsius(fsys afero.Fs, p string) (float64, error) {
	lines, err := linereader.ReadFileN(fsys, p, 1)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 || lines[0] == "" {
		return 0, fmt.Errorf("%s: %w", p, ErrEmptyRead)
	}
	milli, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p, err)
	}
	return float64(milli) / 1000, nil
}
