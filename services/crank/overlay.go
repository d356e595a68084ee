package crank

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fixedterm/native/fixedterm"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Overlay holds operator overrides for a running crank. Zero fields keep
// the values from the node config.
type Overlay struct {
	Interval        Duration `yaml:"interval"`
	BatchSize       int      `yaml:"batch_size"`
	EventsPerSecond float64  `yaml:"events_per_second"`
	Burst           int      `yaml:"burst"`
	MaxRounds       int      `yaml:"max_rounds"`
	Markets         []string `yaml:"markets"`
}

// LoadOverlay reads a YAML overlay from path and applies it to base.
func LoadOverlay(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read crank overlay: %w", err)
	}
	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return base, fmt.Errorf("decode crank overlay: %w", err)
	}
	return ov.Apply(base)
}

// Apply returns base with the non-zero overlay fields substituted.
func (o Overlay) Apply(base Config) (Config, error) {
	out := base
	if o.Interval.Duration < 0 {
		return base, fmt.Errorf("crank overlay: negative interval")
	}
	if o.Interval.Duration > 0 {
		out.Interval = o.Interval.Duration
	}
	if o.BatchSize < 0 || o.Burst < 0 || o.MaxRounds < 0 || o.EventsPerSecond < 0 {
		return base, fmt.Errorf("crank overlay: negative limits")
	}
	if o.BatchSize > 0 {
		out.BatchSize = o.BatchSize
	}
	if o.EventsPerSecond > 0 {
		out.EventsPerSecond = o.EventsPerSecond
	}
	if o.Burst > 0 {
		out.Burst = o.Burst
	}
	if o.MaxRounds > 0 {
		out.MaxRounds = o.MaxRounds
	}
	if len(o.Markets) > 0 {
		ids := make([]fixedterm.MarketID, 0, len(o.Markets))
		for _, raw := range o.Markets {
			id, err := fixedterm.ParseMarketID(strings.TrimSpace(raw))
			if err != nil {
				return base, fmt.Errorf("crank overlay: %w", err)
			}
			ids = append(ids, id)
		}
		out.Markets = ids
	}
	return out, nil
}
