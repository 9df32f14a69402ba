package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"irqcore/core"
)

// PinConfig names one logical pin and its physical location. The logical id
// is the pin's index in BoardConfig.Pins.
type PinConfig struct {
	Name    string `json:"name" yaml:"name"`
	Port    uint8  `json:"port" yaml:"port"`
	Pin     uint8  `json:"pin" yaml:"pin"`
	Trigger string `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

// ExpanderConfig places a PCA9554 on an I2C bus as one router port. Int
// names the pin wired to the chip's INT output; empty means the chip is
// polled.
type ExpanderConfig struct {
	Name string `json:"name" yaml:"name"`
	Bus  string `json:"bus" yaml:"bus"`
	Addr uint16 `json:"addr" yaml:"addr"`
	Port uint8  `json:"port" yaml:"port"`
	Int  string `json:"int,omitempty" yaml:"int,omitempty"`
}

// DefaultDropLogPerSecond is the drop warning cap when the config sets none.
const DefaultDropLogPerSecond = 10

// BoardConfig describes the interrupt layer for one board.
type BoardConfig struct {
	Name       string      `json:"name" yaml:"name"`
	MaxNesting int         `json:"max_nesting" yaml:"max_nesting"`
	Dispatch   string      `json:"dispatch" yaml:"dispatch"`
	QueueSize  int         `json:"queue_size" yaml:"queue_size"`
	Pins       []PinConfig `json:"pins" yaml:"pins"`

	// DropLogPerSecond caps drop warnings; unset means
	// DefaultDropLogPerSecond and 0 disables the cap.
	DropLogPerSecond *int `json:"drop_log_per_second,omitempty" yaml:"drop_log_per_second,omitempty"`

	Expanders []ExpanderConfig `json:"expanders,omitempty" yaml:"expanders,omitempty"`
}

// LoadConfig parses a JSON configuration and applies defaults.
func LoadConfig(jsonData []byte) (*BoardConfig, error) {
	var config BoardConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(&config)

	return &config, config.Validate()
}

// LoadYAML parses a YAML configuration and applies defaults.
func LoadYAML(yamlData []byte) (*BoardConfig, error) {
	var config BoardConfig

	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, config.Validate()
}

// LoadFile reads path, choosing the format from its extension.
func LoadFile(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".json":
		return LoadConfig(data)
	default:
		return nil, fmt.Errorf("config: unknown format for %s", path)
	}
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *BoardConfig) {
	if config.Name == "" {
		config.Name = "board"
	}
	if config.MaxNesting == 0 {
		config.MaxNesting = core.DefaultMaxNesting
	}
	if config.Dispatch == "" {
		config.Dispatch = core.DispatchInline.String()
	}
	if config.QueueSize == 0 {
		config.QueueSize = core.DefaultQueueSize
	}
	if config.DropLogPerSecond == nil {
		rate := DefaultDropLogPerSecond
		config.DropLogPerSecond = &rate
	}

	for i := range config.Expanders {
		if config.Expanders[i].Name == "" {
			config.Expanders[i].Name = fmt.Sprintf("expander%d", i)
		}
	}

	for i := range config.Pins {
		if config.Pins[i].Name == "" {
			config.Pins[i].Name = fmt.Sprintf("pin%d", i)
		}
		if config.Pins[i].Trigger == "" {
			config.Pins[i].Trigger = core.TriggerDisabled.String()
		}
	}
}

// Validate checks the configuration after defaults are applied.
func (c *BoardConfig) Validate() error {
	var errs []error
	if c.MaxNesting < 0 {
		errs = append(errs, errors.New("config: max_nesting must not be negative"))
	}
	if c.DropLogPerSecond != nil && *c.DropLogPerSecond < 0 {
		errs = append(errs, errors.New("config: drop_log_per_second must not be negative"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("config: queue_size must not be negative"))
	}
	if _, err := core.ParseDispatchMode(c.Dispatch); err != nil {
		errs = append(errs, err)
	}

	names := make(map[string]bool, len(c.Pins))
	for i, p := range c.Pins {
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("config: pin %d: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true
		if _, err := core.ParseTrigger(p.Trigger); err != nil {
			errs = append(errs, fmt.Errorf("config: pin %q: trigger %q: %w", p.Name, p.Trigger, err))
		}
	}
	ports := make(map[uint8]bool, len(c.Expanders))
	for i, e := range c.Expanders {
		if ports[e.Port] {
			errs = append(errs, fmt.Errorf("config: expander %d: port %d used twice", i, e.Port))
		}
		ports[e.Port] = true
		if e.Addr == 0 || e.Addr > 0x7f {
			errs = append(errs, fmt.Errorf("config: expander %d: bad address %#x", i, e.Addr))
		}
		if e.Int == "" {
			continue
		}
		if _, ok := c.PinID(e.Int); !ok {
			errs = append(errs, fmt.Errorf("config: expander %d: no pin named %q", i, e.Int))
		}
	}
	if err := c.PinMap().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PinMap returns the logical → physical pin table.
func (c *BoardConfig) PinMap() core.PinMap {
	m := make(core.PinMap, len(c.Pins))
	for i, p := range c.Pins {
		m[i] = core.PinLocation{Port: core.PortID(p.Port), Pin: p.Pin}
	}
	return m
}

// PinID returns the logical id of the pin called name.
func (c *BoardConfig) PinID(name string) (core.PinID, bool) {
	for i, p := range c.Pins {
		if p.Name == name {
			return core.PinID(i), true
		}
	}
	return 0, false
}

// SystemConfig builds a core.SystemConfig for driver.
func (c *BoardConfig) SystemConfig(driver core.PortDriver, logger zerolog.Logger) (core.SystemConfig, error) {
	mode, err := core.ParseDispatchMode(c.Dispatch)
	if err != nil {
		return core.SystemConfig{}, err
	}
	return core.SystemConfig{
		MaxNesting:       c.MaxNesting,
		Driver:           driver,
		Pins:             c.PinMap(),
		Dispatch:         mode,
		QueueSize:        c.QueueSize,
		DropLogPerSecond: c.DropLogRate(),
		Logger:           logger.With().Str("board", c.Name).Logger(),
	}, nil
}

// DropLogRate returns the drop warning cap, 0 meaning uncapped.
func (c *BoardConfig) DropLogRate() int {
	if c.DropLogPerSecond == nil {
		return DefaultDropLogPerSecond
	}
	return *c.DropLogPerSecond
}

// ApplyTriggers configures every pin that has a trigger in the config.
func (c *BoardConfig) ApplyTriggers(r *core.Router) error {
	var errs []error
	for i, p := range c.Pins {
		trig, err := core.ParseTrigger(p.Trigger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !trig.Enabled() {
			continue
		}
		if err := r.Configure(core.PinID(i), trig); err != nil {
			errs = append(errs, fmt.Errorf("config: pin %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}
