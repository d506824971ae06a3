package probes

import (
	"fmt"
	"path"
	"sync"

	"github.com/spf13/afero"

	"github.com/Dicklesworthstone/hostdeets/internal/linereader"
	"github.com/Dicklesworthstone/hostdeets/internal/model"
)

// PowerSupplyDir is where batteries live, one directory per supply.
const PowerSupplyDir = "/sys/class/power_supply"

type batteryFiles struct {
	capacity *linereader.Reader
	status   *linereader.Reader
}

func (b batteryFiles) close() {
	b.capacity.Close()
	b.status.Close()
}

// Batteries reads capacity and charge state of power supplies, keeping
// one pair of open handles per battery.
type Batteries struct {
	mu    sync.Mutex
	fs    afero.Fs
	files map[string]batteryFiles
}

func NewBatteries(fsys afero.Fs) *Batteries {
	return &Batteries{fs: fsys, files: make(map[string]batteryFiles)}
}

// Read samples one battery. dir is either a bare supply name such as
// "BAT0" or a full sysfs directory.
func (b *Batteries) Read(dir string) (model.Battery, error) {
	if !path.IsAbs(dir) {
		dir = path.Join(PowerSupplyDir, dir)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	files, ok := b.files[dir]
	if !ok {
		var err error
		if files, err = b.open(dir); err != nil {
			return model.Battery{}, err
		}
		b.files[dir] = files
	}

	capacity, err := readOne(files.capacity)
	if err != nil {
		b.evict(dir)
		return model.Battery{}, fmt.Errorf("%s capacity: %w", dir, err)
	}
	status, err := readOne(files.status)
	if err != nil {
		b.evict(dir)
		return model.Battery{}, fmt.Errorf("%s status: %w", dir, err)
	}
	charged, err := ParseBatteryStatus(status)
	if err != nil {
		return model.Battery{}, err
	}
	return model.Battery{Path: dir, Charged: charged, Capacity: capacity}, nil
}

func (b *Batteries) open(dir string) (batteryFiles, error) {
	capacity, err := linereader.Open(b.fs, path.Join(dir, "capacity"))
	if err != nil {
		return batteryFiles{}, err
	}
	status, err := linereader.Open(b.fs, path.Join(dir, "status"))
	if err != nil {
		capacity.Close()
		return batteryFiles{}, err
	}
	return batteryFiles{capacity: capacity, status: status}, nil
}

func (b *Batteries) evict(dir string) {
	if f, ok := b.files[dir]; ok {
		f.close()
		delete(b.files, dir)
	}
}

// Close releases every cached handle.
func (b *Batteries) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for dir := range b.files {
		b.evict(dir)
	}
	return nil
}

// ParseBatteryStatus reports whether a supply is on external power.
func ParseBatteryStatus(s string) (bool, error) {
	switch s {
	case "Charging", "Full", "Not charging", "Unknown":
		return true, nil
	case "Discharging":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrBatteryStatus, s)
}

func readOne(rd *linereader.Reader) (string, error) {
	lines, err := rd.ReadN(1)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || lines[0] == "" {
		return "", ErrEmptyRead
	}
	return lines[0], nil
}
