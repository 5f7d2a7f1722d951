package scene

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sharedtable.ai/internal/sim/geom"
)

// File is the on-disk desk layout every peer starts with.
type File struct {
	Entities []EntitySpec `yaml:"entities"`
}

// EntitySpec positions are relative to the desk the layout is built on.
// References (parent, start, end) use names.
type EntitySpec struct {
	Name     string      `yaml:"name"`
	Parent   string      `yaml:"parent,omitempty"`
	Class    string      `yaml:"class"`
	Content  string      `yaml:"content,omitempty"`
	Pos      geom.Vec3   `yaml:"pos"`
	YawDeg   float64     `yaml:"yaw_deg"`
	Text     string      `yaml:"text,omitempty"`
	Source   string      `yaml:"source,omitempty"`
	Start    string      `yaml:"start,omitempty"`
	End      string      `yaml:"end,omitempty"`
	Surfaces []geom.Vec3 `yaml:"surfaces,omitempty"`
}

func LoadFile(path string) (File, error) {
	var f File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("scene.yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("scene.yaml: %w", err)
	}
	return f, nil
}

func (f File) Validate() error {
	seen := map[string]bool{}
	for i, e := range f.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("entity %d: missing name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate entity name: %s", name)
		}
		seen[name] = true
		if _, err := ParseClass(e.Class); err != nil {
			return fmt.Errorf("entity %s: %w", name, err)
		}
		if _, err := ParseContentKind(e.Content); err != nil {
			return fmt.Errorf("entity %s: %w", name, err)
		}
	}
	for _, e := range f.Entities {
		for _, ref := range []string{e.Parent, e.Start, e.End} {
			if ref != "" && !seen[ref] {
				return fmt.Errorf("entity %s: unknown reference %q", e.Name, ref)
			}
		}
	}
	return nil
}

// Build instantiates f into s, with every position taken relative to origin.
// It returns the handle assigned to each name.
func (f File) Build(s *Scene, origin geom.Transform) (map[string]Handle, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	handles := make(map[string]Handle, len(f.Entities))
	for _, spec := range f.Entities {
		class, _ := ParseClass(spec.Class)
		content, _ := ParseContentKind(spec.Content)
		h := s.Add(Entity{
			Name:    spec.Name,
			Class:   class,
			Content: content,
			Transform: geom.Transform{
				Pos: origin.ToWorld(spec.Pos),
				Rot: origin.Rot.Mul(geom.YawDeg(spec.YawDeg)),
			},
			Text:     spec.Text,
			Source:   spec.Source,
			Surfaces: spec.Surfaces,
		})
		handles[spec.Name] = h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range f.Entities {
		e := s.entities[handles[spec.Name]]
		e.Parent = handles[spec.Parent]
		e.Start = handles[spec.Start]
		e.End = handles[spec.End]
	}
	return handles, nil
}
