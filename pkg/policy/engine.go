package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// Engine evaluates Rego policies against batch reports.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	limits   Limits
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger

	noBuiltins bool
}

// compiledPolicy represents a prepared Rego policy.
type compiledPolicy struct {
	policy   Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry sets the telemetry used for logs, violation metrics and
// events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		if tel != nil {
			e.tel = tel
		}
	}
}

// WithLimits sets the thresholds passed to policies as input.limits.
func WithLimits(limits Limits) Option {
	return func(e *Engine) {
		e.limits = limits
	}
}

// WithoutBuiltins starts the engine with no policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.noBuiltins = true
	}
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		tel:      telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.tel.Logger.NewComponentLogger("policy-engine")

	if e.noBuiltins {
		return e, nil
	}
	for _, p := range BuiltinPolicies() {
		cp, err := compile(context.Background(), p)
		if err != nil {
			return nil, engine.NewInternalError(fmt.Sprintf("failed to compile built-in policy %s", p.Name), err)
		}
		e.policies[p.Name] = cp
	}
	e.logger.Debugf("Loaded %d built-in policies", len(e.policies))
	return e, nil
}

// Limits returns the engine's input limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Evaluate runs every enabled policy against report.
func (e *Engine) Evaluate(ctx context.Context, report *engine.Report) (*Result, error) {
	res, err := e.EvaluateInput(ctx, NewInput(report, e.limits))
	if err != nil {
		return nil, err
	}

	for _, v := range res.Violations {
		e.tel.Metrics.RecordPolicyViolation(v.Policy)
		if err := e.tel.Events.PublishPolicyViolation(report.RunID, v.Policy, v.Message); err != nil {
			e.logger.WithError(err).Debug("Dropped policy event")
		}
	}
	return res, nil
}

// EvaluateInput runs every enabled policy against an arbitrary input
// document, such as a report read back from JSON.
func (e *Engine) EvaluateInput(ctx context.Context, input interface{}) (*Result, error) {
	start := time.Now()

	doc, err := toDocument(input)
	if err != nil {
		return nil, engine.NewPolicyError("failed to encode policy input", err)
	}

	e.mu.RLock()
	policies := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			policies = append(policies, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(policies, func(i, j int) bool { return policies[i].policy.Name < policies[j].policy.Name })

	res := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(policies)),
		EvaluatedAt:       start.UTC(),
	}
	for _, cp := range policies {
		if err := ctx.Err(); err != nil {
			return nil, engine.NewTimeoutError("policy evaluation cancelled", err)
		}
		res.EvaluatedPolicies = append(res.EvaluatedPolicies, cp.policy.Name)

		violations, err := evaluatePolicy(ctx, cp, doc)
		if err != nil {
			e.logger.WithError(err).WithField("policy", cp.policy.Name).Error("Policy evaluation failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		res.Violations = append(res.Violations, violations...)
	}

	sort.SliceStable(res.Violations, func(i, j int) bool {
		a, b := res.Violations[i], res.Violations[j]
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.Query != b.Query {
			return a.Query < b.Query
		}
		return a.Message < b.Message
	})
	for _, v := range res.Violations {
		if v.Severity.Blocking() {
			res.Allowed = false
			break
		}
	}
	res.Duration = time.Since(start)

	e.logger.WithField("violations", len(res.Violations)).
		WithField("policies", len(res.EvaluatedPolicies)).
		Debugf("Policy evaluation completed in %s", res.Duration)
	return res, nil
}

// toDocument converts input to the plain JSON value tree Rego evaluates.
func toDocument(input interface{}) (interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// evaluatePolicy evaluates a single compiled policy.
func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input interface{}) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range rs {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("deny must be a set, got %T", result.Expressions[0].Value)
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// newViolation creates a Violation from one deny element.
func newViolation(p Policy, value interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch d := value.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		for key, val := range d {
			switch key {
			case "message":
				v.Message = fmt.Sprint(val)
			case "query":
				v.Query = fmt.Sprint(val)
			case "severity":
				if s := Severity(fmt.Sprint(val)); s.Valid() {
					v.Severity = s
				}
			default:
				if v.Details == nil {
					v.Details = make(map[string]interface{})
				}
				v.Details[key] = val
			}
		}
	default:
		v.Message = fmt.Sprintf("%v", value)
	}
	return v
}

// compile parses and prepares p's deny query.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   p,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// LoadPolicy compiles p and adds it, replacing any policy with the same
// name.
func (e *Engine) LoadPolicy(ctx context.Context, p Policy) error {
	if p.Name == "" {
		return engine.NewValidationError("policy name is required", nil)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if !p.Severity.Valid() {
		return engine.NewValidationError(fmt.Sprintf("policy %s has unknown severity %q", p.Name, p.Severity), nil)
	}

	cp, err := compile(ctx, p)
	if err != nil {
		return engine.NewPolicyError(fmt.Sprintf("failed to compile policy %s", p.Name), err)
	}

	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()

	e.logger.WithField("policy", p.Name).Debug("Policy compiled successfully")
	return nil
}

// LoadPolicies loads policy files and directories and adds every policy
// they hold.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewPolicyError("failed to load policies", err)
	}
	for _, p := range policies {
		if err := e.LoadPolicy(ctx, p); err != nil {
			return err
		}
	}
	e.logger.Infof("Loaded %d policies", len(policies))
	return nil
}

// ReplacePolicies swaps every non-builtin policy for policies. Nothing
// changes unless all of them compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		if p.Severity == "" {
			p.Severity = SeverityWarning
		}
		cp, err := compile(ctx, p)
		if err != nil {
			return engine.NewPolicyError(fmt.Sprintf("failed to compile policy %s", p.Name), err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}
	return nil
}

// Watch reloads the policies under paths whenever they change, until ctx
// is done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
	if err != nil {
		return nil, engine.NewPolicyError("failed to watch policies", err)
	}
	return loader, nil
}

// RemovePolicy removes a policy by name.
func (e *Engine) RemovePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.policies[name]; !exists {
		return notFound(name)
	}
	delete(e.policies, name)
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, notFound(name)
	}
	p := cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return notFound(name)
	}
	cp.policy.Enabled = enabled
	e.logger.WithField("policy", name).WithField("enabled", enabled).Debug("Policy toggled")
	return nil
}

func notFound(name string) error {
	return engine.NewPolicyError(fmt.Sprintf("policy not found: %s", name), nil).WithCode(engine.ErrCodeNotFound)
}
