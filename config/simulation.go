package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

// Simulation is the vehicle template every robot config starts from.
type Simulation struct {
	VDAInterface   string
	VDAVersion     string
	VDAFullVersion string
	Manufacturer   string
	MapID          string
	StateFrequency float64 // state publications per second
	Speed          float64 // distance per tick
	MaxSpeed       float64
	InitialBattery float64
}

func DefaultSimulation() Simulation {
	return Simulation{
		VDAInterface:   "uagv",
		VDAVersion:     "v2",
		VDAFullVersion: "2.0.0",
		Manufacturer:   "SimulatorAGV",
		MapID:          "default",
		StateFrequency: 1,
		Speed:          0.05,
		MaxSpeed:       2.0,
		InitialBattery: 100,
	}
}

type simulationFile struct {
	VDAInterface   string  `toml:"vda_interface"`
	VDAVersion     string  `toml:"vda_version"`
	VDAFullVersion string  `toml:"vda_full_version"`
	Manufacturer   string  `toml:"manufacturer"`
	MapID          string  `toml:"map_id"`
	StateFrequency float64 `toml:"state_frequency"`
	Speed          float64 `toml:"speed"`
	MaxSpeed       float64 `toml:"max_speed"`
	InitialBattery float64 `toml:"initial_battery"`
}

// LoadSimulation reads the template from a TOML file. An empty path or a
// missing file yields the defaults; keys absent from the file keep theirs.
func LoadSimulation(path string) (Simulation, error) {
	sim := DefaultSimulation()
	if strings.TrimSpace(path) == "" {
		return sim, nil
	}

	var raw simulationFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sim, nil
		}
		return Simulation{}, fmt.Errorf("load simulation config: %w", err)
	}

	if meta.IsDefined("vda_interface") {
		sim.VDAInterface = strings.TrimSpace(raw.VDAInterface)
	}
	if meta.IsDefined("vda_version") {
		sim.VDAVersion = strings.TrimSpace(raw.VDAVersion)
	}
	if meta.IsDefined("vda_full_version") {
		sim.VDAFullVersion = strings.TrimSpace(raw.VDAFullVersion)
	}
	if meta.IsDefined("manufacturer") {
		sim.Manufacturer = strings.TrimSpace(raw.Manufacturer)
	}
	if meta.IsDefined("map_id") {
		sim.MapID = strings.TrimSpace(raw.MapID)
	}
	if meta.IsDefined("state_frequency") {
		sim.StateFrequency = raw.StateFrequency
	}
	if meta.IsDefined("speed") {
		sim.Speed = raw.Speed
	}
	if meta.IsDefined("max_speed") {
		sim.MaxSpeed = raw.MaxSpeed
	}
	if meta.IsDefined("initial_battery") {
		sim.InitialBattery = raw.InitialBattery
	}

	if err := ValidateSimulation(sim); err != nil {
		return Simulation{}, fmt.Errorf("simulation config %s: %w", path, err)
	}
	return sim, nil
}

func ValidateSimulation(sim Simulation) error {
	if sim.VDAInterface == "" || sim.VDAVersion == "" {
		return fmt.Errorf("vda_interface and vda_version are required")
	}
	if sim.StateFrequency <= 0 {
		return fmt.Errorf("state_frequency must be greater than 0")
	}
	if sim.Speed < 0 {
		return fmt.Errorf("speed must not be negative")
	}
	if sim.InitialBattery < 0 || sim.InitialBattery > 100 {
		return fmt.Errorf("initial_battery must be between 0 and 100")
	}
	return nil
}
