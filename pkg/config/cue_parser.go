package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// declarationSchema constrains CUE declaration documents. Unifying input
// against it rejects unknown kinds and malformed entries before anything
// reaches the engine.
const declarationSchema = `
#Resource: {
	kind:        "package" | "service" | "repository" | "file" | "firewall-rule"
	id:          string & !=""
	desired:     {...}
	depends_on?: [...string]
}

resources: [...#Resource]
variables?: {...}
`

// CUEParser parses declaration documents written in CUE.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// ParseFile compiles a CUE file, unifies it with the declaration schema,
// and decodes the result.
func (cp *CUEParser) ParseFile(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := cp.Parse(string(content), path)
	if err != nil {
		return nil, err
	}
	doc.Source = path
	return doc, nil
}

// Parse compiles CUE source and decodes the declaration document.
func (cp *CUEParser) Parse(source, filename string) (*Document, error) {
	schema := cp.ctx.CompileString(declarationSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling declaration schema: %w", err)
	}

	val := cp.ctx.CompileString(source, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("%s: %s", filename, cueErrorDetails(err))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s: %s", filename, cueErrorDetails(err))
	}

	doc := &Document{ParsedAt: time.Now()}
	resourcesVal := unified.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return nil, fmt.Errorf("%s: missing \"resources\" list", filename)
	}
	if err := resourcesVal.Decode(&doc.Resources); err != nil {
		return nil, fmt.Errorf("%s: decoding resources: %s", filename, cueErrorDetails(err))
	}

	variablesVal := unified.LookupPath(cue.ParsePath("variables"))
	if variablesVal.Exists() {
		if err := variablesVal.Decode(&doc.Variables); err != nil {
			return nil, fmt.Errorf("%s: decoding variables: %s", filename, cueErrorDetails(err))
		}
	}
	return doc, nil
}

// cueErrorDetails flattens CUE's error list into one message per line.
func cueErrorDetails(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}
