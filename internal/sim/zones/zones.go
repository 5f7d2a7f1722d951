package zones

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sharedtable.ai/internal/sim/geom"
)

// Zone is one deterministically assigned slot. Index is -1 when the lookup
// fell back to the catalog's default anchor.
type Zone struct {
	ID        string
	Index     int
	Transform geom.Transform
}

type Config struct {
	Default    SlotSpec   `yaml:"default"`
	Reception  []SlotSpec `yaml:"reception_zones"`
	Spawns     []SlotSpec `yaml:"spawn_points"`
	Desks      []SlotSpec `yaml:"individual_desks"`
	PaletteHex []string   `yaml:"owner_palette"`
}

type SlotSpec struct {
	ID     string    `yaml:"id"`
	Pos    geom.Vec3 `yaml:"pos"`
	YawDeg float64   `yaml:"yaw_deg"`
}

func (s SlotSpec) Transform() geom.Transform {
	return geom.Transform{Pos: s.Pos, Rot: geom.YawDeg(s.YawDeg)}
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("zones.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("zones.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Default: SlotSpec{ID: "group_table"},
		Reception: []SlotSpec{
			{ID: "tray_1", Pos: geom.V(-0.6, 0.8, 0.4)},
			{ID: "tray_2", Pos: geom.V(0.6, 0.8, 0.4)},
			{ID: "tray_3", Pos: geom.V(0.6, 0.8, -0.4), YawDeg: 180},
			{ID: "tray_4", Pos: geom.V(-0.6, 0.8, -0.4), YawDeg: 180},
		},
		Spawns: []SlotSpec{
			{ID: "spawn_1", Pos: geom.V(-0.6, 0, 1.2)},
			{ID: "spawn_2", Pos: geom.V(0.6, 0, 1.2)},
			{ID: "spawn_3", Pos: geom.V(0.6, 0, -1.2), YawDeg: 180},
			{ID: "spawn_4", Pos: geom.V(-0.6, 0, -1.2), YawDeg: 180},
		},
		Desks: []SlotSpec{
			{ID: "desk_1", Pos: geom.V(100, 0, 0)},
			{ID: "desk_2", Pos: geom.V(110, 0, 0)},
			{ID: "desk_3", Pos: geom.V(120, 0, 0)},
			{ID: "desk_4", Pos: geom.V(130, 0, 0)},
		},
		PaletteHex: []string{"#00FFFF", "#FF00FF", "#00FF00", "#FFFF00"},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Default.ID) == "" {
		c.Default.ID = "default"
	}
	name := func(list []SlotSpec, prefix string) {
		for i := range list {
			if strings.TrimSpace(list[i].ID) == "" {
				list[i].ID = fmt.Sprintf("%s_%d", prefix, i+1)
			}
		}
	}
	name(c.Reception, "reception")
	name(c.Spawns, "spawn")
	name(c.Desks, "desk")
	if len(c.PaletteHex) == 0 {
		c.PaletteHex = defaults().PaletteHex
	}
}

// Validate rejects malformed entries. Empty slot lists are allowed: lookups
// fall back to the default anchor.
func (c Config) Validate() error {
	c.Normalize()
	seen := map[string]bool{c.Default.ID: true}
	for _, list := range [][]SlotSpec{c.Reception, c.Spawns, c.Desks} {
		for _, s := range list {
			if seen[s.ID] {
				return fmt.Errorf("duplicate slot id: %s", s.ID)
			}
			seen[s.ID] = true
		}
	}
	for _, h := range c.PaletteHex {
		if _, err := parseHex(h); err != nil {
			return err
		}
	}
	return nil
}

// Catalog is the immutable, resolved form of Config.
type Catalog struct {
	def       Zone
	reception []Zone
	spawns    []Zone
	desks     []Zone
	palette   []Color
}

func NewCatalog(cfg Config) (*Catalog, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Catalog{
		def:       Zone{ID: cfg.Default.ID, Index: -1, Transform: cfg.Default.Transform()},
		reception: build(cfg.Reception),
		spawns:    build(cfg.Spawns),
		desks:     build(cfg.Desks),
	}
	for _, h := range cfg.PaletteHex {
		col, _ := parseHex(h)
		c.palette = append(c.palette, col)
	}
	return c, nil
}

func build(list []SlotSpec) []Zone {
	out := make([]Zone, 0, len(list))
	for i, s := range list {
		out = append(out, Zone{ID: s.ID, Index: i, Transform: s.Transform()})
	}
	return out
}

// ReceptionFor returns the tray on the group table where migrated content
// from peer lands. ok is false when no trays are configured.
func (c *Catalog) ReceptionFor(peer int) (Zone, bool) { return c.pick(c.reception, peer) }

// SpawnFor returns where peer stands at the group table.
func (c *Catalog) SpawnFor(peer int) (Zone, bool) { return c.pick(c.spawns, peer) }

// DeskFor returns peer's private desk.
func (c *Catalog) DeskFor(peer int) (Zone, bool) { return c.pick(c.desks, peer) }

func (c *Catalog) Default() Zone { return c.def }

func (c *Catalog) Counts() (reception, spawns, desks int) {
	return len(c.reception), len(c.spawns), len(c.desks)
}

func (c *Catalog) pick(list []Zone, peer int) (Zone, bool) {
	if c == nil {
		return Zone{Index: -1, Transform: geom.At(geom.Vec3{})}, false
	}
	if len(list) == 0 {
		return c.def, false
	}
	return list[Slot(peer, len(list))], true
}

// Slot maps peer onto [0, n). It is periodic in n for every integer peer.
func Slot(peer, n int) int {
	if n <= 0 {
		return -1
	}
	i := peer % n
	if i < 0 {
		i += n
	}
	return i
}
