package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// Loader reads declaration files. The format is chosen by extension:
// .yaml/.yml documents, .cue configurations, and .star generator scripts.
type Loader struct {
	validator *validator.Validate
	cue       *CUEParser
	starlark  *StarlarkEvaluator
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
		cue:       NewCUEParser(),
		starlark:  NewStarlarkEvaluator(30 * time.Second),
	}
}

// Load reads every given file, validates the declarations, and returns
// the combined resource list in declaration order, files in argument
// order. Problems in any file do not stop the others from being checked;
// everything found is aggregated into one ValidationError.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]engine.Resource, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no declaration files given")
	}

	var resources []engine.Resource
	var violations []engine.Violation
	for _, path := range paths {
		doc, err := l.loadFile(ctx, path)
		if err != nil {
			violations = append(violations, engine.Violation{Message: err.Error()})
			continue
		}
		if vs := l.validateDocument(path, doc); len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		rs, err := doc.ToResources()
		if err != nil {
			violations = append(violations, engine.Violation{Message: fmt.Sprintf("%s: %v", path, err)})
			continue
		}
		resources = append(resources, rs...)
	}
	if len(violations) > 0 {
		return nil, engine.NewValidationError(violations)
	}
	return resources, nil
}

// validateDocument turns struct-validation failures into violations, one
// per offending field.
func (l *Loader) validateDocument(path string, doc *Document) []engine.Violation {
	err := l.validator.Struct(doc)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []engine.Violation{{Message: fmt.Sprintf("%s: %v", path, err)}}
	}
	out := make([]engine.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Document.")
		out = append(out, engine.Violation{
			Message: fmt.Sprintf("%s: %s violates the %q constraint", path, field, fe.Tag()),
		})
	}
	return out
}

func (l *Loader) loadFile(ctx context.Context, path string) (*Document, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return l.loadYAML(path)
	case ".cue":
		return l.cue.ParseFile(path)
	case ".star":
		return l.starlark.GenerateFile(ctx, path)
	default:
		return nil, fmt.Errorf("%s: unsupported declaration format %q", path, filepath.Ext(path))
	}
}

func (l *Loader) loadYAML(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	doc.Source = path
	doc.ParsedAt = time.Now()
	return &doc, nil
}
