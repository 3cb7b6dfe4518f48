// Command strandsflow is a minimal CLI driver: it loads a JSON
// specification file and an optional JSON variables file named on argv,
// runs it to completion, pause, or failure, and prints the Result as JSON
// to stdout. Session checkpoints land under the local filesystem store's
// default root. Grounded on the teacher's cmd/demo for the "construct
// runtime, register agents, execute" shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/thomasrohde/strandsflow/runtime"
	"github.com/thomasrohde/strandsflow/session/local"
	"github.com/thomasrohde/strandsflow/spec"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: strandsflow <spec.json> [variables.json]")
		return int(runtime.ExitRuntime)
	}

	s, err := loadSpec(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "strandsflow:", err)
		return int(runtime.ExitIO)
	}

	var variables map[string]any
	if len(args) >= 2 {
		variables, err = loadVariables(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "strandsflow:", err)
			return int(runtime.ExitIO)
		}
	}

	store, err := local.New("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "strandsflow:", err)
		return int(runtime.ExitIO)
	}

	result, err := runtime.Execute(context.Background(), s, variables, runtime.Options{Store: store})
	if result == nil {
		fmt.Fprintln(os.Stderr, "strandsflow:", err)
		return int(runtime.ExitUnknown)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	if err != nil && result.Err == nil {
		fmt.Fprintln(os.Stderr, "strandsflow:", err)
	}
	return int(result.ExitCode)
}

func loadSpec(path string) (*spec.Specification, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file %q: %w", path, err)
	}
	var s spec.Specification
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode spec file %q: %w", path, err)
	}
	s.RawText = string(raw)
	return &s, nil
}

func loadVariables(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variables file %q: %w", path, err)
	}
	var vars map[string]any
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("decode variables file %q: %w", path, err)
	}
	return vars, nil
}
