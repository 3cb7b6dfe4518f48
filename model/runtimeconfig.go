package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RuntimeConfig is the normalized, hashable projection of the effective
// provider, model, host/region, and inference parameters used to key the
// model-client pool (spec.md §3, §4.3). Equal keys must return the same
// model client.
type RuntimeConfig struct {
	Provider    string
	ModelID     string
	Region      string
	Host        string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Key returns a stable, value-equal cache key for the pool. Two
// RuntimeConfig values that are == also have identical Key output; Key
// additionally lets callers use RuntimeConfig as a map key even though it
// does not itself need to be comparable beyond struct equality (all fields
// are already comparable, so RuntimeConfig can be used directly as a map
// key — Key exists for logging/diagnostics that need a flat string
// identity; the pool keys on the struct itself and the Redis-backed lock
// keys on session ID).
func (c RuntimeConfig) Key() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.4f|%.4f|%d",
		c.Provider, c.ModelID, c.Region, c.Host, c.Temperature, c.TopP, c.MaxTokens)
	return hex.EncodeToString(h.Sum(nil))
}
