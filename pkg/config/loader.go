package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/gantry-io/gantry/pkg/engine"
)

// Load reads, validates, and converts one manifest file.
func Load(path string) (*Manifest, []engine.Resource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("reading manifest %s", path), err)
	}
	return Parse(raw, path)
}

// LoadDir loads every .yaml/.yml manifest in dir, in lexical file order, and
// merges their resources into one set. The merged stack takes its name from
// the first manifest.
func LoadDir(dir string) (*Manifest, []engine.Resource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("reading manifest directory %s", dir), err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, nil, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("no manifests found in %s", dir), nil)
	}

	var merged *Manifest
	var resources []engine.Resource
	for _, p := range paths {
		m, res, err := Load(p)
		if err != nil {
			return nil, nil, err
		}
		if merged == nil {
			merged = m
		} else {
			merged.Resources = append(merged.Resources, m.Resources...)
		}
		resources = append(resources, res...)
	}
	return merged, resources, nil
}

// Parse decodes manifest bytes. The source name is used in error messages
// only.
func Parse(raw []byte, source string) (*Manifest, []engine.Resource, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, nil, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("parsing manifest %s", source), err)
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	resources, err := m.ToResources()
	if err != nil {
		return nil, nil, err
	}
	return &m, resources, nil
}

// ToResources converts the manifest declarations into engine resources,
// preserving declaration order and materializing reference expressions.
func (m *Manifest) ToResources() ([]engine.Resource, error) {
	resources := make([]engine.Resource, 0, len(m.Resources))
	for _, mr := range m.Resources {
		res := engine.Resource{
			ID:       engine.ResourceID{Kind: mr.Kind, Name: mr.Name},
			Location: mr.Location,
		}

		if mr.Parent != "" {
			parent, err := ParseID(mr.Parent)
			if err != nil {
				return nil, err
			}
			res.Parent = &parent
		}

		for _, dep := range mr.DependsOn {
			id, err := ParseID(dep)
			if err != nil {
				return nil, err
			}
			res.DependsOn = append(res.DependsOn, id)
		}

		if len(mr.Properties) > 0 {
			res.Properties = make(map[string]engine.PropertyValue, len(mr.Properties))
			for k, v := range mr.Properties {
				pv, err := toPropertyValue(v)
				if err != nil {
					return nil, err
				}
				res.Properties[k] = pv
			}
		}

		resources = append(resources, res)
	}
	return resources, nil
}

func toPropertyValue(v any) (engine.PropertyValue, error) {
	s, ok := v.(string)
	if !ok || !isReference(s) {
		return engine.PropertyValue{Literal: v}, nil
	}
	ref, err := ParseReference(s)
	if err != nil {
		return engine.PropertyValue{}, err
	}
	return engine.PropertyValue{Ref: &ref}, nil
}
