package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// JIT retrieval tools (grep/head/tail/search) are injected by the agent
// builder when context_policy.retrieval.jit_tools names them. They accept
// absolute paths only, reject symlinks and binary files, and never modify
// anything on disk. Grounded on the read-tool's file-safety checks
// (binary sniffing, absolute-path requirement), generalized to grep/head/
// tail/search rather than a single whole-file read.
const maxJITBytes = 8000

func requireSafePath(path string) (os.FileInfo, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("tools: path %q must be absolute", path)
	}
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("tools: stat %q: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("tools: %q is a symlink, refusing to follow", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("tools: %q is a directory", path)
	}
	if isBinaryFile(path) {
		return nil, fmt.Errorf("tools: %q appears to be a binary file", path)
	}
	return info, nil
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, maxJITBytes)
	n, _ := f.Read(buf)
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}

// NewHeadTool returns the JIT "head" handle: the first N lines of an
// absolute file path (default 100).
func NewHeadTool() Handle {
	return &NativeFunc{
		NameValue:        "head",
		DescriptionValue: "Read the first N lines of a file given an absolute path.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":  map[string]any{"type": "string"},
				"lines": map[string]any{"type": "integer"},
			},
			"required": []string{"path"},
		},
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			path, _ := input["path"].(string)
			if _, err := requireSafePath(path); err != nil {
				return nil, err
			}
			limit := intArg(input, "lines", 100)
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("tools: open %q: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			var sb strings.Builder
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			n := 0
			for scanner.Scan() && n < limit {
				sb.WriteString(scanner.Text())
				sb.WriteByte('\n')
				n++
			}
			return sb.String(), nil
		},
	}
}

// NewTailTool returns the JIT "tail" handle: the last N lines of an
// absolute file path (default 100).
func NewTailTool() Handle {
	return &NativeFunc{
		NameValue:        "tail",
		DescriptionValue: "Read the last N lines of a file given an absolute path.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":  map[string]any{"type": "string"},
				"lines": map[string]any{"type": "integer"},
			},
			"required": []string{"path"},
		},
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			path, _ := input["path"].(string)
			if _, err := requireSafePath(path); err != nil {
				return nil, err
			}
			limit := intArg(input, "lines", 100)
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("tools: open %q: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			ring := make([]string, 0, limit)
			for scanner.Scan() {
				if len(ring) == limit {
					ring = ring[1:]
				}
				ring = append(ring, scanner.Text())
			}
			return strings.Join(ring, "\n") + "\n", nil
		},
	}
}

// NewGrepTool returns the JIT "grep" handle: lines in an absolute file path
// matching a regular expression, each prefixed with its 1-based line number.
func NewGrepTool() Handle {
	return &NativeFunc{
		NameValue:        "grep",
		DescriptionValue: "Search a file given an absolute path for lines matching a regular expression.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"pattern": map[string]any{"type": "string"},
			},
			"required": []string{"path", "pattern"},
		},
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			path, _ := input["path"].(string)
			if _, err := requireSafePath(path); err != nil {
				return nil, err
			}
			pattern, _ := input["pattern"].(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("tools: invalid grep pattern: %w", err)
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("tools: open %q: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			var sb strings.Builder
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			lineNum := 0
			for scanner.Scan() {
				lineNum++
				line := scanner.Text()
				if re.MatchString(line) {
					fmt.Fprintf(&sb, "%d:%s\n", lineNum, line)
				}
			}
			return sb.String(), nil
		},
	}
}

// NewSearchTool returns the JIT "search" handle: walks an absolute
// directory path and returns files whose name matches a glob pattern,
// skipping symlinks.
func NewSearchTool() Handle {
	return &NativeFunc{
		NameValue:        "search",
		DescriptionValue: "Find files under an absolute directory path matching a glob pattern.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"pattern": map[string]any{"type": "string"},
			},
			"required": []string{"path", "pattern"},
		},
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			root, _ := input["path"].(string)
			if !filepath.IsAbs(root) {
				return nil, fmt.Errorf("tools: path %q must be absolute", root)
			}
			pattern, _ := input["pattern"].(string)

			var matches []string
			err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return nil
				}
				if info.Mode()&os.ModeSymlink != 0 {
					if info.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if info.IsDir() {
					return nil
				}
				ok, matchErr := filepath.Match(pattern, filepath.Base(p))
				if matchErr == nil && ok {
					matches = append(matches, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("tools: search %q: %w", root, err)
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func intArg(input map[string]any, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// BuildJIT resolves the names listed in context_policy.retrieval.jit_tools
// to their concrete Handles. Unknown names are skipped rather than erroring,
// since the policy may list names added in a later spec revision.
func BuildJIT(names []string) []Handle {
	handles := make([]Handle, 0, len(names))
	for _, name := range names {
		switch name {
		case "grep":
			handles = append(handles, NewGrepTool())
		case "head":
			handles = append(handles, NewHeadTool())
		case "tail":
			handles = append(handles, NewTailTool())
		case "search":
			handles = append(handles, NewSearchTool())
		}
	}
	return handles
}
