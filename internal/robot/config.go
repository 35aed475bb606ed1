package robot

import (
	"fmt"
	"log/slog"
	"time"

	"agv-simulator/config"
	"agv-simulator/internal/messaging"
	"agv-simulator/internal/storage"
	"agv-simulator/models"
)

const defaultRobotType = "AMR"

// Config is everything one runtime needs to simulate a robot. It is derived
// from a registry descriptor and the vehicle template.
type Config struct {
	RobotID        string
	SerialNumber   string
	Manufacturer   string
	Type           string
	IP             string
	VDAInterface   string
	VDAVersion     string
	VDAFullVersion string
	MapID          string
	X              float64
	Y              float64
	Theta          float64
	HasPose        bool // the descriptor carried a position
	Battery        float64
	Speed          float64
	MaxSpeed       float64
	StateFrequency float64
	ClientID       string
}

// Topic is the robot's VDA5050 topic prefix.
func (c Config) Topic() messaging.Topic {
	return messaging.Topic{
		Interface:    c.VDAInterface,
		Version:      c.VDAVersion,
		Manufacturer: c.Manufacturer,
		SerialNumber: c.SerialNumber,
	}
}

// PublishInterval is the tick period.
func (c Config) PublishInterval() time.Duration {
	if c.StateFrequency <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / c.StateFrequency)
}

// ClientID is the broker client id of a robot. It is stable so that a
// restarted robot takes over its previous session.
func ClientID(manufacturer, serialNumber string) string {
	return fmt.Sprintf("%s_%s", manufacturer, serialNumber)
}

// Factory turns registry descriptors into configs and runtimes.
type Factory struct {
	Simulation   config.Simulation
	Transports   messaging.TransportFactory
	MQTTUsername string
	MQTTPassword string
	Store        storage.Store
	Logger       *slog.Logger

	// ConnectTimeout bounds how long Start waits for the broker.
	ConnectTimeout time.Duration
}

// Build derives the config of a descriptor. It is a pure function of the
// descriptor and the template.
func (f *Factory) Build(desc models.RobotDescriptor) (Config, error) {
	if err := desc.Validate(); err != nil {
		return Config{}, err
	}
	sim := f.Simulation

	cfg := Config{
		RobotID:        desc.Identity(),
		SerialNumber:   desc.SerialNumber,
		Manufacturer:   desc.Manufacturer,
		Type:           desc.Type,
		IP:             desc.IP,
		VDAInterface:   sim.VDAInterface,
		VDAVersion:     sim.VDAVersion,
		VDAFullVersion: sim.VDAFullVersion,
		MapID:          sim.MapID,
		Battery:        sim.InitialBattery,
		Speed:          sim.Speed,
		MaxSpeed:       sim.MaxSpeed,
		StateFrequency: sim.StateFrequency,
		ClientID:       ClientID(desc.Manufacturer, desc.SerialNumber),
	}
	if cfg.Type == "" {
		cfg.Type = defaultRobotType
	}

	if desc.Battery != nil {
		cfg.Battery = *desc.Battery
	}
	if desc.MaxSpeed != nil {
		cfg.MaxSpeed = *desc.MaxSpeed
	}

	pos := desc.Position
	if s := desc.Config; s != nil {
		if s.Battery != nil {
			cfg.Battery = *s.Battery
		}
		if s.MaxSpeed != nil {
			cfg.MaxSpeed = *s.MaxSpeed
		}
		if s.Speed != nil {
			cfg.Speed = *s.Speed
		}
		if pos == nil && s.InitialPosition != nil {
			pos = s.InitialPosition
		}
		if s.Orientation != nil {
			cfg.Theta = *s.Orientation
		}
	}
	if pos != nil {
		cfg.HasPose = true
		cfg.X, cfg.Y = pos.X, pos.Y
		if pos.Rotate != 0 || desc.Config == nil || desc.Config.Orientation == nil {
			cfg.Theta = pos.Rotate
		}
		if pos.MapID != "" {
			cfg.MapID = pos.MapID
		}
	}

	if cfg.Speed < 0 {
		return Config{}, fmt.Errorf("robot %q: speed must not be negative", cfg.RobotID)
	}
	if cfg.Battery < 0 || cfg.Battery > 100 {
		return Config{}, fmt.Errorf("robot %q: battery must be between 0 and 100", cfg.RobotID)
	}
	return cfg, nil
}

// NewRuntime builds a stopped runtime for desc.
func (f *Factory) NewRuntime(desc models.RobotDescriptor) (*Runtime, error) {
	cfg, err := f.Build(desc)
	if err != nil {
		return nil, err
	}
	return newRuntime(f, cfg, desc), nil
}
