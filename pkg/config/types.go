package config

import (
	"fmt"
	"strings"
)

// WildcardLabel in a rule's label position expands to one rule per label.
const WildcardLabel = "*"

// ModelSpec is a pushdown model as written in a model file, with states,
// labels and rules referenced by name.
type ModelSpec struct {
	// Name identifies the model in reports and run history.
	Name string `json:"name" yaml:"name" validate:"required"`

	// States are the control states, in id order.
	States []string `json:"states" yaml:"states" validate:"required,min=1,unique,dive,required"`

	// Labels are the stack alphabet, in id order.
	Labels []string `json:"labels" yaml:"labels" validate:"required,min=1,unique,dive,required,ne=*"`

	Rules []RuleSpec `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`

	Queries []QuerySpec `json:"queries,omitempty" yaml:"queries,omitempty" validate:"dive"`
}

// RuleSpec is one transition rule by names.
type RuleSpec struct {
	From  string `json:"from" yaml:"from" validate:"required"`
	Label string `json:"label" yaml:"label" validate:"required"`
	To    string `json:"to" yaml:"to" validate:"required"`

	// Op is pop, swap or push.
	Op string `json:"op" yaml:"op" validate:"required,oneof=pop swap push"`

	// OpLabel is the label written by swap or pushed by push.
	OpLabel string `json:"op_label,omitempty" yaml:"op_label,omitempty" validate:"required_unless=Op pop"`
}

// String renders the rule the way the .pds format writes it.
func (r RuleSpec) String() string {
	if r.Op == "pop" {
		return fmt.Sprintf("rule %s %s -> %s pop", r.From, r.Label, r.To)
	}
	return fmt.Sprintf("rule %s %s -> %s %s %s", r.From, r.Label, r.To, r.Op, r.OpLabel)
}

// QuerySpec is a reachability question by names.
type QuerySpec struct {
	Name string `json:"name" yaml:"name" validate:"required"`

	// Direction is forward (post*) or backward (pre*); forward if empty.
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty" validate:"omitempty,oneof=forward backward post pre post* pre*"`

	From      string   `json:"from" yaml:"from" validate:"required"`
	FromStack []string `json:"from_stack,omitempty" yaml:"from_stack,omitempty"`
	To        string   `json:"to" yaml:"to" validate:"required"`
	ToStack   []string `json:"to_stack,omitempty" yaml:"to_stack,omitempty"`

	// Expect is reachable or unreachable, if the author knows the answer.
	Expect string `json:"expect,omitempty" yaml:"expect,omitempty" validate:"omitempty,oneof=reachable unreachable"`

	Witness bool `json:"witness,omitempty" yaml:"witness,omitempty"`
}

// ValidationError is one problem found in a model file.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "rules[2].op".
	Path string `json:"path,omitempty"`

	Message string `json:"message"`

	// Severity is error or warning.
	Severity string `json:"severity" validate:"required,oneof=error warning"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		loc += e.Path + ": "
	}
	return loc + e.Message
}

// ValidationErrors collects every problem found in one model.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// withFile sets File on every error that lacks one.
func (ve ValidationErrors) withFile(path string) ValidationErrors {
	for i := range ve {
		if ve[i].File == "" {
			ve[i].File = path
		}
	}
	return ve
}
