package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// DefaultRule is the set rule read from every policy package.
const DefaultRule = "deny"

// Engine admits or rejects work units with Rego policies.
type Engine struct {
	mu       sync.RWMutex
	rule     string
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	loader   *Loader
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
// Every policy is queried at data.<package>.<rule>.
func NewEngine(rule string, logger zerolog.Logger) (*Engine, error) {
	if rule == "" {
		rule = DefaultRule
	}
	logger = logger.With().Str("component", "policy-engine").Logger()

	e := &Engine{
		rule:     rule,
		policies: make(map[string]*compiledPolicy),
		logger:   logger,
		loader:   NewLoader(logger),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		cp, err := e.compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.policies[builtins[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// Load reads policy files from the given paths and replaces every previously
// loaded file policy. Nothing changes if any policy fails to compile.
func (e *Engine) Load(ctx context.Context, paths []string) error {
	e.loader.ClearCache()
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.Replace(ctx, policies)
}

// Replace compiles the given policies and swaps them in for the current file
// policies. Built-in policies are kept unless a file policy reuses the name.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name: %s", p.Name)
		}
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.policies)+len(compiled))
	for name, cp := range e.policies {
		if cp.policy.Source == "" {
			next[name] = cp
		}
	}
	for name, cp := range compiled {
		next[name] = cp
	}
	e.policies = next

	e.logger.Info().
		Int("count", len(compiled)).
		Int("total", len(next)).
		Msg("Policies loaded")

	return nil
}

// compile parses a policy and prepares its rule query.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + "." + e.rule

	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled")

	return &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: time.Now(),
	}, nil
}

// EvaluateUnits evaluates every enabled policy against every unit. Units are
// evaluated in order and policies by name, so results are deterministic.
func (e *Engine) EvaluateUnits(ctx context.Context, units []engine.WorkUnit, source string) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := e.enabled()
	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(active)),
	}
	for _, cp := range active {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)
	}

	batch := BatchContext{Source: source, Units: len(units)}

	for i := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input := newInput(&units[i], batch)
		for _, cp := range active {
			violations, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("unit", units[i].Label).
					Msg("Policy evaluation failed")
				result.Warnings = append(result.Warnings, Violation{
					Policy:   cp.policy.Name,
					Unit:     units[i].Index,
					Label:    units[i].Label,
					Message:  fmt.Sprintf("evaluation failed: %v", err),
					Severity: SeverityWarning,
				})
				continue
			}

			for _, v := range violations {
				if v.Severity.Blocks() {
					result.Allowed = false
					result.Violations = append(result.Violations, v)
				} else {
					result.Warnings = append(result.Warnings, v)
				}
			}
		}
	}

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("source", source).
		Int("units", len(units)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// Check evaluates the units and returns an input error carrying the blocking
// violations when the upload is not allowed. The result is returned either way.
func (e *Engine) Check(ctx context.Context, units []engine.WorkUnit, source string) (*Result, error) {
	result, err := e.EvaluateUnits(ctx, units, source)
	if err != nil {
		return nil, engine.Classify(err)
	}
	if result.Allowed {
		return result, nil
	}

	first := result.Violations[0]
	msg := fmt.Sprintf("upload rejected by policy %s: %s", first.Policy, first.Message)
	if n := len(result.Violations); n > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
	}
	return result, engine.NewInputError(msg, nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithDetail("violations", result.Violations)
}

// evaluatePolicy evaluates a single compiled policy against one input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			return nil, errors.New("rule " + e.rule + " is not a set")
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from one deny result, either a plain
// message or an object with message and severity.
func createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Unit:     input.Unit.Index,
		Label:    input.Unit.Label,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// newInput builds the policy input for a unit. Absent values are dropped so
// the document is valid JSON.
func newInput(unit *engine.WorkUnit, batch BatchContext) *Input {
	u := *unit
	u.Variables = unit.Variables.Compact()
	u.Stages = make([]engine.Stage, len(unit.Stages))
	for i, s := range unit.Stages {
		s.Variables = s.Variables.Compact()
		u.Stages[i] = s
	}
	return &Input{Unit: &u, Batch: batch}
}

// enabled returns the enabled policies sorted by name. Callers hold e.mu.
func (e *Engine) enabled() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].policy.Name < out[j].policy.Name
	})
	return out
}

// Watch reloads file policies whenever a file under paths changes, until ctx
// is done. A reload that fails to compile keeps the previous policies.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.Replace(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})

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
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}
