package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Schema names known to every registry.
const (
	SchemaModel    = "Model"
	SchemaSettings = "Settings"
)

// SchemaRegistry manages CUE schemas for validation. Each schema source
// declares a definition named after the schema, e.g. #Model.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaModel, builtinModelSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaSettings, builtinSettingsSchema); err != nil {
		panic(err)
	}
	return sr
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles schema and registers its #name definition.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath("#" + name))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare #%s", name, name)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateModel validates a model spec against #Model.
func (sr *SchemaRegistry) ValidateModel(ctx context.Context, spec *ModelSpec) error {
	return sr.ValidateAgainstSchema(ctx, SchemaModel, spec)
}

// ValidateSettings validates settings against #Settings.
func (sr *SchemaRegistry) ValidateSettings(ctx context.Context, s *Settings) error {
	return sr.ValidateAgainstSchema(ctx, SchemaSettings, s)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinModelSchema = `
#Ident: string & =~"^[a-zA-Z_][a-zA-Z0-9_.']*$"

#Rule: {
	from:      #Ident
	label:     #Ident | "*"
	to:        #Ident
	op:        "pop" | "swap" | "push"
	op_label?: #Ident
}

#Query: {
	name:        string & !=""
	direction?:  "forward" | "backward" | "post" | "pre" | "post*" | "pre*"
	from:        #Ident
	from_stack?: [...#Ident]
	to:          #Ident
	to_stack?:   [...#Ident]
	expect?:     "reachable" | "unreachable"
	witness?:    bool
}

// Model is a pushdown system with named states and labels.
#Model: {
	name:   string & !=""
	states: [#Ident, ...#Ident]
	labels: [#Ident, ...#Ident]
	rules?: [...#Rule]
	queries?: [...#Query]
}
`

const builtinSettingsSchema = `
// Settings are the CLI defaults from pdreach.toml.
#Settings: {
	database?:      string
	max_parallel?:  int & >=0
	query_timeout?: string
	policy_dirs?:   [...string]
	max_witness?:   int & >=0
}
`
