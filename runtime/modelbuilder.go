package runtime

import (
	"fmt"
	"os"

	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/model/anthropic"
	"github.com/thomasrohde/strandsflow/model/mock"
	"github.com/thomasrohde/strandsflow/model/openai"
)

// DefaultModelBuilder dispatches on cfg.Provider to construct a model.Client
// from environment-sourced credentials, the shape spec.md's Runtime.Provider
// field names (spec.md §3). Supported providers: "anthropic", "openai", and
// "mock" (a deterministic in-process client for tests and demos). "bedrock"
// requires AWS credential/region resolution beyond what a provider name
// alone carries, so it is not wired into the zero-configuration default;
// callers targeting Bedrock supply their own modelpool.Builder via
// Options.ModelBuilder, constructing model/bedrock.Client from their own
// aws.Config.
func DefaultModelBuilder(cfg model.RuntimeConfig) (model.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		return anthropic.NewFromAPIKey(apiKey, cfg.ModelID)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		return openai.NewFromAPIKey(apiKey, cfg.ModelID)
	case "mock":
		return mock.NewSequence("mock response"), nil
	default:
		return nil, fmt.Errorf("runtime: no default model builder for provider %q (supply Options.ModelBuilder)", cfg.Provider)
	}
}
