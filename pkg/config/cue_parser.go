package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser loads CUE model files. Every file is unified with the
// registry's #Model schema before decoding.
type CUEParser struct {
	registry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser over registry. A nil registry gets
// the built-in schemas.
func NewCUEParser(registry *SchemaRegistry) *CUEParser {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &CUEParser{registry: registry}
}

// ParseFile loads a single CUE file. The model may sit at the top level or
// under a "model" field.
func (cp *CUEParser) ParseFile(path string) (*ModelSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return cp.ParseString(path, string(content))
}

// ParseString compiles src, which is named filename in positions.
func (cp *CUEParser) ParseString(filename, src string) (*ModelSpec, error) {
	val := cp.registry.Context().CompileString(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return cp.extractModel(val, filename)
}

// ParseDirectory loads a directory as one CUE package, so a model can be
// split across files.
func (cp *CUEParser) ParseDirectory(dir string) (*ModelSpec, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, ValidationErrors{{File: dir, Message: "no CUE files found", Severity: "error"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, convertCUEErrors(inst.Err)
	}

	val := cp.registry.Context().BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return cp.extractModel(val, dir)
}

func (cp *CUEParser) extractModel(val cue.Value, source string) (*ModelSpec, error) {
	if nested := val.LookupPath(cue.ParsePath("model")); nested.Exists() {
		val = nested
	}

	unified, err := cp.registry.Unify(SchemaModel, val)
	if err != nil {
		return nil, convertCUEErrors(err).withFile(source)
	}

	var spec ModelSpec
	if err := unified.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &spec, nil
}

// ExportJSON renders spec as CUE-compatible JSON, which CUE reads directly.
func ExportJSON(spec *ModelSpec) ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}

// convertCUEErrors converts CUE errors to ValidationErrors with positions.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error(), Severity: "error"})
	}
	return out
}
