package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/pds"
)

// Format is a model file format.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "starlark"
	FormatPDS      Format = "pds"
)

// FormatFor picks the format from a path's extension. Directories are read
// as CUE packages.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".star", ".bzl":
		return FormatStarlark, nil
	case ".pds":
		return FormatPDS, nil
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return FormatCUE, nil
	}
	return "", fmt.Errorf("unsupported model file %s (want .yaml, .yml, .cue, .star or .pds)", path)
}

// Loader reads model files of every supported format.
type Loader struct {
	registry *SchemaRegistry
	cue      *CUEParser
	star     *StarlarkEvaluator
	pds      *PDSParser
	vars     map[string]interface{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSchemaRegistry shares a registry, e.g. one with extra schemas.
func WithSchemaRegistry(sr *SchemaRegistry) LoaderOption {
	return func(l *Loader) { l.registry = sr }
}

// WithStarlarkTimeout bounds Starlark model scripts.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.star = NewStarlarkEvaluator(d) }
}

// WithVars predeclares globals for Starlark model scripts.
func WithVars(vars map[string]interface{}) LoaderOption {
	return func(l *Loader) { l.vars = vars }
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{star: NewStarlarkEvaluator(0)}
	for _, opt := range opts {
		opt(l)
	}
	if l.registry == nil {
		l.registry = NewSchemaRegistry()
	}
	l.cue = NewCUEParser(l.registry)

	p, err := NewPDSParser()
	if err != nil {
		return nil, err
	}
	l.pds = p
	return l, nil
}

// LoadSpec reads the model at path without building it.
func (l *Loader) LoadSpec(ctx context.Context, path string) (*ModelSpec, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, engine.NewValidationError("unsupported model file", err)
	}

	if format == FormatCUE {
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			return wrapLoadErr(path)(l.cue.ParseDirectory(path))
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to read model", err)
	}
	return l.ParseSpec(ctx, format, path, src)
}

// ParseSpec parses src in the given format; path names the source in
// errors and provides the default model name.
func (l *Loader) ParseSpec(ctx context.Context, format Format, path string, src []byte) (*ModelSpec, error) {
	switch format {
	case FormatYAML:
		return wrapLoadErr(path)(parseYAML(path, src))
	case FormatCUE:
		return wrapLoadErr(path)(l.cue.ParseString(path, string(src)))
	case FormatStarlark:
		return wrapLoadErr(path)(l.star.Evaluate(ctx, path, string(src), l.vars))
	case FormatPDS:
		return wrapLoadErr(path)(l.pds.ParseString(path, string(src)))
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("unknown model format %q", format), nil)
	}
}

// Load reads and builds the model at path.
func (l *Loader) Load(ctx context.Context, path string) (*Model, error) {
	spec, err := l.LoadSpec(ctx, path)
	if err != nil {
		return nil, err
	}
	pda, queries, err := spec.Build()
	if err != nil {
		var ve ValidationErrors
		if errors.As(err, &ve) {
			ve.withFile(path)
		}
		return nil, err
	}
	return &Model{Spec: spec, PDA: pda, Queries: queries, Source: path}, nil
}

// Model is a loaded, built model file.
type Model struct {
	Spec    *ModelSpec
	PDA     *pds.PDA
	Queries []engine.Query
	Source  string
}

// Query returns the named query.
func (m *Model) Query(name string) (engine.Query, bool) {
	for _, q := range m.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return engine.Query{}, false
}

// Load reads and builds the model at path with a default loader.
func Load(ctx context.Context, path string) (*Model, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, path)
}

func parseYAML(path string, src []byte) (*ModelSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)

	spec := &ModelSpec{}
	if err := dec.Decode(spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidationErrors{{Message: "empty model file", Severity: "error"}}
		}
		var te *yaml.TypeError
		if errors.As(err, &te) {
			out := make(ValidationErrors, 0, len(te.Errors))
			for _, msg := range te.Errors {
				out = append(out, ValidationError{Message: msg, Severity: "error"})
			}
			return nil, out
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if spec.Name == "" {
		spec.Name = modelNameFromPath(path)
	}
	return spec, nil
}

// WriteYAML encodes spec as a YAML model file.
func WriteYAML(w io.Writer, spec *ModelSpec) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(spec); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return enc.Close()
}

// wrapLoadErr attaches path to parse errors and classifies them as
// validation errors.
func wrapLoadErr(path string) func(*ModelSpec, error) (*ModelSpec, error) {
	return func(spec *ModelSpec, err error) (*ModelSpec, error) {
		if err == nil {
			return spec, nil
		}
		var ve ValidationErrors
		if errors.As(err, &ve) {
			ve.withFile(path)
		}
		return nil, engine.NewValidationError(fmt.Sprintf("failed to load model %s", path), err)
	}
}
