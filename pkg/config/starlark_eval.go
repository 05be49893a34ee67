package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator runs declaration generator scripts. A script builds a
// global list named "resources"; each entry is a dict with the same shape
// as a YAML declaration. Generators are useful where the declaration set
// is data-driven, e.g. expanding a package list into one resource each.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates an evaluator with the given script timeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// GenerateFile runs a generator script file and returns its declarations.
func (se *StarlarkEvaluator) GenerateFile(ctx context.Context, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := se.Generate(ctx, string(content), path)
	if err != nil {
		return nil, err
	}
	doc.Source = path
	return doc, nil
}

// Generate runs generator source and returns its declarations. The script
// runs on its own goroutine bounded by the evaluator timeout; Starlark has
// no preemption, so a runaway script is abandoned rather than interrupted.
func (se *StarlarkEvaluator) Generate(ctx context.Context, source, filename string) (*Document, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	type result struct {
		globals starlark.StringDict
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		thread := &starlark.Thread{
			Name:  "alpenglow",
			Print: func(_ *starlark.Thread, _ string) {},
		}
		predeclared := starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		}
		globals, err := starlark.ExecFile(thread, filename, source, predeclared)
		resultCh <- result{globals: globals, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("%s: generator timed out after %v", filename, se.timeout)
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", filename, res.err)
		}
		return se.extractDocument(res.globals, filename)
	}
}

func (se *StarlarkEvaluator) extractDocument(globals starlark.StringDict, filename string) (*Document, error) {
	resourcesVal, ok := globals["resources"]
	if !ok {
		return nil, fmt.Errorf("%s: generator did not define a \"resources\" list", filename)
	}
	raw, err := fromStarlarkValue(resourcesVal)
	if err != nil {
		return nil, fmt.Errorf("%s: converting resources: %w", filename, err)
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: \"resources\" must be a list, got %T", filename, raw)
	}

	doc := &Document{ParsedAt: time.Now()}
	for i, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: resource %d must be a dict, got %T", filename, i, entry)
		}
		decl, err := declarationFromMap(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: resource %d: %w", filename, i, err)
		}
		doc.Resources = append(doc.Resources, decl)
	}

	if varsVal, ok := globals["variables"]; ok {
		raw, err := fromStarlarkValue(varsVal)
		if err != nil {
			return nil, fmt.Errorf("%s: converting variables: %w", filename, err)
		}
		if vars, ok := raw.(map[string]interface{}); ok {
			doc.Variables = vars
		}
	}
	return doc, nil
}

func declarationFromMap(fields map[string]interface{}) (Declaration, error) {
	decl := Declaration{}

	kind, ok := fields["kind"].(string)
	if !ok {
		return decl, fmt.Errorf("missing or non-string kind")
	}
	decl.Kind = kind

	id, ok := fields["id"].(string)
	if !ok {
		return decl, fmt.Errorf("missing or non-string id")
	}
	decl.ID = id

	desired, ok := fields["desired"].(map[string]interface{})
	if !ok {
		return decl, fmt.Errorf("missing or non-dict desired state")
	}
	decl.Desired = desired

	if depsRaw, ok := fields["depends_on"]; ok {
		deps, ok := depsRaw.([]interface{})
		if !ok {
			return decl, fmt.Errorf("depends_on must be a list")
		}
		for _, d := range deps {
			ref, ok := d.(string)
			if !ok {
				return decl, fmt.Errorf("depends_on entries must be strings")
			}
			decl.DependsOn = append(decl.DependsOn, ref)
		}
	}
	return decl, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
