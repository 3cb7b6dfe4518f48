package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestHeadToolReturnsFirstNLines(t *testing.T) {
	path := writeTempFile(t, "one\ntwo\nthree\nfour\n")
	out, err := NewHeadTool().Invoke(context.Background(), map[string]any{
		"path": path, "lines": float64(2),
	})
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", out)
}

func TestTailToolReturnsLastNLines(t *testing.T) {
	path := writeTempFile(t, "one\ntwo\nthree\nfour\n")
	out, err := NewTailTool().Invoke(context.Background(), map[string]any{
		"path": path, "lines": float64(2),
	})
	require.NoError(t, err)
	require.Equal(t, "three\nfour\n", out)
}

func TestGrepToolMatchesPattern(t *testing.T) {
	path := writeTempFile(t, "alpha\nbeta\ngamma\nbetabeta\n")
	out, err := NewGrepTool().Invoke(context.Background(), map[string]any{
		"path": path, "pattern": "^beta",
	})
	require.NoError(t, err)
	require.Equal(t, "2:beta\n4:betabeta\n", out)
}

func TestSearchToolFindsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))

	out, err := NewSearchTool().Invoke(context.Background(), map[string]any{
		"path": dir, "pattern": "*.go",
	})
	require.NoError(t, err)
	require.Contains(t, out, "a.go")
	require.NotContains(t, out, "b.txt")
}

func TestJITToolsRejectRelativePaths(t *testing.T) {
	_, err := NewHeadTool().Invoke(context.Background(), map[string]any{"path": "relative.txt"})
	require.Error(t, err)
}

func TestJITToolsRejectSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("data\n"), 0o644))
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	_, err := NewHeadTool().Invoke(context.Background(), map[string]any{"path": link})
	require.Error(t, err)
}

func TestJITToolsRejectBinaryFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.dat")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 'h', 'i'}, 0o644))

	_, err := NewGrepTool().Invoke(context.Background(), map[string]any{"path": path, "pattern": "hi"})
	require.Error(t, err)
}

func TestBuildJITSkipsUnknownNames(t *testing.T) {
	handles := BuildJIT([]string{"grep", "nonexistent", "tail"})
	require.Len(t, handles, 2)
	require.Equal(t, "grep", handles[0].Name())
	require.Equal(t, "tail", handles[1].Name())
}
