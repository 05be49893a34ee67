// Package config loads resource declarations from YAML documents, CUE
// configurations, and Starlark generator scripts, and converts them into
// engine resources.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// Declaration is one resource entry as written by the operator.
type Declaration struct {
	// Kind is the resource kind.
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=package service repository file firewall-rule"`

	// ID is the resource identifier.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Desired is the kind-specific desired state.
	Desired map[string]interface{} `yaml:"desired" json:"desired" validate:"required"`

	// DependsOn lists resources that must converge first, either as
	// bare identifiers or kind/id references.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Document is a parsed declaration file.
type Document struct {
	// Resources in declaration order.
	Resources []Declaration `yaml:"resources" json:"resources" validate:"required,min=1,dive"`

	// Variables are free-form values exposed to Starlark generators.
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Source is the file the document was loaded from.
	Source string `yaml:"-" json:"-"`

	// ParsedAt is when the document was loaded.
	ParsedAt time.Time `yaml:"-" json:"-"`
}

// ToResources converts the document into engine resources, preserving
// declaration order.
func (d *Document) ToResources() ([]engine.Resource, error) {
	resources := make([]engine.Resource, 0, len(d.Resources))
	for i, decl := range d.Resources {
		desired, err := json.Marshal(decl.Desired)
		if err != nil {
			return nil, fmt.Errorf("resource %d (%s/%s): encoding desired state: %w",
				i, decl.Kind, decl.ID, err)
		}
		resources = append(resources, engine.Resource{
			Kind:      engine.Kind(decl.Kind),
			ID:        decl.ID,
			Desired:   desired,
			DependsOn: decl.DependsOn,
		})
	}
	return resources, nil
}
