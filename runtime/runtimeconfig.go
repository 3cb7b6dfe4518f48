package runtime

import (
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/spec"
)

// effectiveRuntimeConfig projects a spec's top-level Runtime, narrowed by a
// single agent's AgentOverrides, into the normalized model.RuntimeConfig
// used to key the model-client pool (spec.md §3 RuntimeConfig, §4.4 Agent
// cache "overrides"). A zero-valued override field means "inherit from the
// spec's Runtime".
func effectiveRuntimeConfig(r spec.Runtime, o spec.AgentOverrides) model.RuntimeConfig {
	cfg := model.RuntimeConfig{
		Provider:    r.Provider,
		ModelID:     r.ModelID,
		Region:      r.Region,
		Host:        r.Host,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
	}
	if o.Provider != "" {
		cfg.Provider = o.Provider
	}
	if o.ModelID != "" {
		cfg.ModelID = o.ModelID
	}
	if o.Temperature != 0 {
		cfg.Temperature = o.Temperature
	}
	if o.TopP != 0 {
		cfg.TopP = o.TopP
	}
	if o.MaxTokens != 0 {
		cfg.MaxTokens = o.MaxTokens
	}
	return cfg
}
