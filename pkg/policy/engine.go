package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Options configures the policy engine.
type Options struct {
	// Query is the Rego reference evaluated for findings.
	Query string

	// RegoVersion selects the syntax of policy modules ("v1" or "v0").
	RegoVersion string

	// CompileTimeout bounds module compilation.
	CompileTimeout time.Duration

	// EvalTimeout bounds a single evaluation.
	EvalTimeout time.Duration
}

// DefaultOptions returns the standard engine options.
func DefaultOptions() Options {
	return Options{
		Query:          DefaultQuery,
		RegoVersion:    "v1",
		CompileTimeout: 30 * time.Second,
		EvalTimeout:    30 * time.Second,
	}
}

// Engine implements engine.PolicyEvaluator on top of the embedded OPA library.
type Engine struct {
	mu         sync.RWMutex
	logger     zerolog.Logger
	opts       Options
	policies   []Policy
	query      rego.PreparedEvalQuery
	ready      bool
	compiledAt time.Time
}

var _ engine.PolicyEvaluator = (*Engine)(nil)

// NewEngine creates a new policy engine with no policies loaded.
func NewEngine(logger zerolog.Logger, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Query == "" {
		opts.Query = defaults.Query
	}
	if opts.RegoVersion == "" {
		opts.RegoVersion = defaults.RegoVersion
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = defaults.CompileTimeout
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = defaults.EvalTimeout
	}

	return &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
		opts:   opts,
	}
}

// LoadBuiltin compiles the built-in policy set, protecting criticalTypes
// or the defaults when none are given.
func (e *Engine) LoadBuiltin(ctx context.Context, criticalTypes []string) error {
	if err := e.SetPolicies(ctx, GetBuiltinPolicies(criticalTypes)); err != nil {
		return err
	}
	e.logger.Debug().Int("critical_types", len(criticalTypes)).Msg("Built-in policies loaded")
	return nil
}

// LoadPolicies reads and compiles every .rego file under paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewPolicyCompileError("failed to load policies", err)
	}
	if len(policies) == 0 {
		return engine.NewPolicyCompileError(fmt.Sprintf("no .rego files found in %v", paths), nil)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies compiles policies and replaces the active set.
// On failure the previous set stays active.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	query, err := e.compile(ctx, policies)
	if err != nil {
		return err
	}

	sorted := append([]Policy(nil), policies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	e.mu.Lock()
	e.policies = sorted
	e.query = query
	e.ready = true
	e.compiledAt = time.Now()
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(policies)).
		Str("query", e.opts.Query).
		Msg("Policies compiled successfully")

	return nil
}

// compile parses and compiles modules, then prepares the findings query.
func (e *Engine) compile(ctx context.Context, policies []Policy) (rego.PreparedEvalQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CompileTimeout)
	defer cancel()

	version, err := parseRegoVersion(e.opts.RegoVersion)
	if err != nil {
		return rego.PreparedEvalQuery{}, engine.NewPolicyCompileError("invalid rego version", err)
	}

	modules := make(map[string]string, len(policies))
	for i := range policies {
		key := policies[i].Source
		if key == "" {
			key = policies[i].Name + ".rego"
		}
		modules[key] = policies[i].Rego
	}

	type compileResult struct {
		compiler *ast.Compiler
		err      error
	}
	done := make(chan compileResult, 1)
	go func() {
		c, err := ast.CompileModulesWithOpt(modules, ast.CompileOpts{
			ParserOptions: ast.ParserOptions{RegoVersion: version},
		})
		done <- compileResult{compiler: c, err: err}
	}()

	var compiler *ast.Compiler
	select {
	case <-ctx.Done():
		return rego.PreparedEvalQuery{}, engine.NewPolicyCompileError("policy compilation timed out", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return rego.PreparedEvalQuery{}, engine.NewPolicyCompileError("policy compilation failed", res.err)
		}
		compiler = res.compiler
	}

	query, err := rego.New(
		rego.Compiler(compiler),
		rego.Query(e.opts.Query),
		rego.SetRegoVersion(version),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, engine.NewPolicyCompileError("failed to prepare query", err)
	}

	return query, nil
}

// EvaluatePlan builds the input document for a plan and evaluates it.
func (e *Engine) EvaluatePlan(ctx context.Context, req engine.PolicyRequest) (*engine.PolicyResult, error) {
	return e.Evaluate(ctx, BuildInput(req))
}

// Evaluate runs the prepared query against input and normalizes the findings.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*engine.PolicyResult, error) {
	startTime := time.Now()

	e.mu.RLock()
	query, ready := e.query, e.ready
	e.mu.RUnlock()

	if !ready {
		return nil, engine.NewPolicyCompileError("no policies loaded", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.EvalTimeout)
	defer cancel()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, engine.NewPolicyEvalError("policy evaluation failed", err)
	}

	result, err := normalize(results)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("deny", len(result.Deny)).
		Int("warn", len(result.Warn)).
		Int("info", len(result.Info)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// ListPolicies returns the active policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]Policy(nil), e.policies...)
}

// CompiledAt returns when the active set was compiled.
func (e *Engine) CompiledAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.compiledAt
}

// normalize reads deny, warn and info from the first expression of the first result.
// An undefined query yields an empty result.
func normalize(results rego.ResultSet) (*engine.PolicyResult, error) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		r := engine.NewPolicyResult(nil, nil, nil)
		return &r, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, engine.NewPolicyEvalError(
			fmt.Sprintf("unexpected policy output type %T", results[0].Expressions[0].Value), nil)
	}

	r := engine.NewPolicyResult(
		findings(doc[string(SeverityDeny)]),
		findings(doc[string(SeverityWarn)]),
		findings(doc[string(SeverityInfo)]),
	)
	return &r, nil
}

// findings converts a rule value into messages. Rules may produce strings
// or objects carrying a "msg" or "message" field.
func findings(v interface{}) []string {
	var items []interface{}
	switch t := v.(type) {
	case nil:
		return []string{}
	case []interface{}:
		items = t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			items = append(items, t[k])
		}
	default:
		items = []interface{}{t}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, message(item))
	}
	return out
}

func message(item interface{}) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["msg"].(string); ok {
			return msg
		}
		if msg, ok := v["message"].(string); ok {
			return msg
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseRegoVersion(v string) (ast.RegoVersion, error) {
	switch v {
	case "", "v1":
		return ast.RegoV1, nil
	case "v0":
		return ast.RegoV0, nil
	default:
		return ast.RegoUndefined, fmt.Errorf("unsupported rego version %q", v)
	}
}
