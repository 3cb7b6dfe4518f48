// Package spec defines the validated, immutable input specification that
// drives a workflow run (spec.md §3 Specification).
package spec

// PatternType names one of the seven supported execution patterns.
type PatternType string

const (
	PatternChain               PatternType = "chain"
	PatternWorkflow            PatternType = "workflow"
	PatternParallel            PatternType = "parallel"
	PatternRouting             PatternType = "routing"
	PatternEvaluatorOptimizer  PatternType = "evaluator_optimizer"
	PatternOrchestratorWorkers PatternType = "orchestrator_workers"
	PatternGraph               PatternType = "graph"
)

// Backoff names the retry backoff schedule used by the retry/budget
// wrapper for every agent built from this spec.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffExponential Backoff = "exponential"
	BackoffJittered    Backoff = "jittered"
)

// Budgets bounds a run's resource consumption.
type Budgets struct {
	MaxSteps      int     `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxDurationS  float64 `json:"max_duration_s,omitempty" yaml:"max_duration_s,omitempty"`
}

// Runtime is the effective provider/model/inference/retry configuration
// shared by every agent built from this spec, unless overridden per agent.
type Runtime struct {
	Provider    string  `json:"provider" yaml:"provider"`
	ModelID     string  `json:"model_id" yaml:"model_id"`
	Region      string  `json:"region,omitempty" yaml:"region,omitempty"`
	Host        string  `json:"host,omitempty" yaml:"host,omitempty"`
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// MaxParallel bounds the workflow-wide concurrency semaphore. Defaults
	// to 4 when zero (spec.md §3).
	MaxParallel int      `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Budgets     *Budgets `json:"budgets,omitempty" yaml:"budgets,omitempty"`
	// Retries is the number of additional attempts beyond the first.
	// Defaults to 2 when unset.
	Retries int     `json:"retries,omitempty" yaml:"retries,omitempty"`
	Backoff Backoff `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

// EffectiveMaxParallel returns Runtime.MaxParallel or its spec-mandated
// default of 4.
func (r Runtime) EffectiveMaxParallel() int {
	if r.MaxParallel > 0 {
		return r.MaxParallel
	}
	return 4
}

// EffectiveRetries returns Runtime.Retries or its spec-mandated default of 2.
func (r Runtime) EffectiveRetries() int {
	if r.Retries > 0 {
		return r.Retries
	}
	return 2
}

// AgentOverrides narrows Runtime to the fields an individual agent may
// override; zero values mean "inherit from the spec's Runtime".
type AgentOverrides struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	ModelID     string  `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// AgentSpec describes one entry in the spec's agents mapping.
type AgentSpec struct {
	Prompt    string         `json:"prompt" yaml:"prompt"`
	Tools     []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Overrides AgentOverrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Retrieval lists the JIT retrieval tool names injected into agent
// construction (spec.md §6 Tool contract).
type Retrieval struct {
	JITTools []string `json:"jit_tools,omitempty" yaml:"jit_tools,omitempty"`
}

// ContextPolicy influences agent construction: compaction behavior,
// free-form notes injected into rendered prompts, and JIT tool injection.
type ContextPolicy struct {
	Compaction map[string]any `json:"compaction,omitempty" yaml:"compaction,omitempty"`
	Notes      []string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	Retrieval  Retrieval      `json:"retrieval,omitempty" yaml:"retrieval,omitempty"`
}

// Specification is the full validated, immutable input to a workflow run.
type Specification struct {
	Name          string             `json:"name" yaml:"name"`
	PatternType   PatternType        `json:"pattern_type" yaml:"pattern_type"`
	Runtime       Runtime            `json:"runtime" yaml:"runtime"`
	Agents        map[string]AgentSpec `json:"agents" yaml:"agents"`
	PatternConfig map[string]any     `json:"pattern" yaml:"pattern"`
	Inputs        Inputs             `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	ContextPolicy *ContextPolicy     `json:"context_policy,omitempty" yaml:"context_policy,omitempty"`
	// RawText is the exact bytes the spec was loaded from, used to compute
	// SpecHash. The session stores keep only that hash; no spec snapshot
	// is written alongside a session. Specification loading/validation
	// itself is out of scope (spec.md §1 Non-goals); callers set RawText
	// when constructing a Specification from a parsed document.
	RawText string `json:"-" yaml:"-"`
}

// Inputs carries the variable values supplied for a run.
type Inputs struct {
	Values map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
}
