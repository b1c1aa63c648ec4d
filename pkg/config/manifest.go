package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gantry-io/gantry/pkg/engine"
)

// Manifest is the top-level YAML document.
type Manifest struct {
	// Name identifies the stack. Used for run records and log context.
	Name string `yaml:"name" validate:"required"`

	// Resources are the declared resources, in declaration order.
	Resources []ManifestResource `yaml:"resources" validate:"dive"`
}

// ManifestResource is one resource declaration as written in YAML.
type ManifestResource struct {
	Kind     string `yaml:"kind" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
	Location string `yaml:"location"`

	// Parent is the identity of the containing resource, "kind/name".
	Parent string `yaml:"parent"`

	// DependsOn lists explicit dependency identities, "kind/name".
	DependsOn []string `yaml:"dependsOn"`

	// Properties is the desired configuration. String values of the exact
	// form ${kind/name.property} are references.
	Properties map[string]any `yaml:"properties"`
}

var validate = validator.New()

// Validate checks structural completeness of the manifest.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("invalid manifest: %s", err), err)
	}
	return nil
}

// ParseID parses a "kind/name" identity string.
func ParseID(s string) (engine.ResourceID, error) {
	kind, name, ok := strings.Cut(s, "/")
	if !ok || kind == "" || name == "" {
		return engine.ResourceID{}, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("invalid resource identity %q, want kind/name", s), nil)
	}
	return engine.ResourceID{Kind: kind, Name: name}, nil
}

// ParseReference parses a ${kind/name.property} expression.
func ParseReference(s string) (engine.Reference, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
	kind, rest, ok := strings.Cut(inner, "/")
	if !ok {
		return engine.Reference{}, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("invalid reference %q, want ${kind/name.property}", s), nil)
	}
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 || dot == len(rest)-1 || kind == "" {
		return engine.Reference{}, engine.NewPermanentError(engine.ErrCodeValidation,
			fmt.Sprintf("invalid reference %q, want ${kind/name.property}", s), nil)
	}
	return engine.Reference{
		Target:   engine.ResourceID{Kind: kind, Name: rest[:dot]},
		Property: rest[dot+1:],
	}, nil
}

// isReference reports whether a property string is a reference expression.
func isReference(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}
