package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sharedtable.ai/internal/sim/geom"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz       int `yaml:"tick_rate_hz"`
	PropagationTicks int `yaml:"propagation_ticks"`
	SignalBuffer     int `yaml:"signal_buffer"`

	HoldDurationMs int       `yaml:"hold_duration_ms"`
	PanelOffset    geom.Vec3 `yaml:"panel_offset"`

	// ScanOffset places the scan volume's center relative to a peer's desk.
	ScanOffset   geom.Vec3 `yaml:"scan_offset"`
	ScanSize     geom.Vec3 `yaml:"scan_size"`
	RotateOffset bool      `yaml:"rotate_offset"`

	ToolKit ToolKit `yaml:"tool_kit"`

	// Peers are connected at startup, in order.
	Peers []string `yaml:"peers"`
}

type ToolKit struct {
	Enabled bool    `yaml:"enabled"`
	Side    float64 `yaml:"side"`
	Lift    float64 `yaml:"lift"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:  "1.0",
		TickRateHz:       30,
		PropagationTicks: 2,
		SignalBuffer:     64,
		HoldDurationMs:   4000,
		PanelOffset:      geom.V(0, 0.4, 0),
		ScanOffset:       geom.V(0, 0.8, 0),
		ScanSize:         geom.V(1.5, 0.5, 1.0),
		ToolKit:          ToolKit{Enabled: true, Side: 0.15, Lift: 0.05},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 || t.TickRateHz > 240 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.PropagationTicks < 0 {
		return fmt.Errorf("propagation_ticks must be >= 0")
	}
	if t.HoldDurationMs <= 0 {
		return fmt.Errorf("hold_duration_ms must be > 0")
	}
	if t.ScanSize.X <= 0 || t.ScanSize.Y <= 0 || t.ScanSize.Z <= 0 {
		return fmt.Errorf("scan_size must be positive on every axis")
	}
	seen := map[string]bool{}
	for _, p := range t.Peers {
		if p == "" {
			return fmt.Errorf("empty peer name")
		}
		if seen[p] {
			return fmt.Errorf("duplicate peer name: %s", p)
		}
		seen[p] = true
	}
	return nil
}

func (t Tuning) HoldDuration() time.Duration {
	return time.Duration(t.HoldDurationMs) * time.Millisecond
}

// ScanVolume is the migration volume for a desk at origin.
func (t Tuning) ScanVolume(origin geom.Transform) geom.Box {
	return geom.Box{
		Center: geom.Transform{Pos: origin.ToWorld(t.ScanOffset), Rot: origin.Rot},
		Size:   t.ScanSize,
	}
}
