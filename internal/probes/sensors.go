package probes

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// TemperatureFunc lists hardware monitoring readings.
type TemperatureFunc func(ctx context.Context) ([]host.TemperatureStat, error)

// Sensors reads hwmon temperatures through gopsutil.
type Sensors struct {
	read TemperatureFunc
}

// NewSensors returns Sensors backed by read, or by gopsutil when read is nil.
func NewSensors(read TemperatureFunc) *Sensors {
	if read == nil {
		read = host.SensorsTemperaturesWithContext
	}
	return &Sensors{read: read}
}

// All returns every sensor reading ordered by key. gopsutil reports
// unreadable chips as warnings alongside partial results; those are
// ignored as long as something was read.
func (s *Sensors) All(ctx context.Context) ([]model.Temp, error) {
	stats, err := s.read(ctx)
	if err != nil && len(stats) == 0 {
		return nil, err
	}
	out := make([]model.Temp, 0, len(stats))
	for _, st := range stats {
		out = append(out, model.Temp{Zone: st.SensorKey, Celsius: st.Temperature})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Zone < out[j].Zone })
	return out, nil
}

// Get returns the reading of the sensor named key.
func (s *Sensors) Get(ctx context.Context, key string) (float64, error) {
	all, err := s.All(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range all {
		if t.Zone == key {
			return t.Celsius, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSensor, key)
}
