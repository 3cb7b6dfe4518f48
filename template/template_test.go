package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderPlainSubstitution(t *testing.T) {
	ctx := map[string]any{"topic": "birds"}
	out, err := Render("intro for {{ topic }}", ctx, Strict)
	require.NoError(t, err)
	require.Equal(t, "intro for birds", out)
}

func TestRenderIndexedAndDottedAccess(t *testing.T) {
	ctx := map[string]any{
		"steps": []any{map[string]any{"response": "step0"}},
		"tasks": map[string]any{"extract": map[string]any{"response": "extracted"}},
	}
	out, err := Render("{{ steps[0].response }} / {{ tasks.extract.response }}", ctx, Strict)
	require.NoError(t, err)
	require.Equal(t, "step0 / extracted", out)
}

func TestRenderStrictMissingVariableFails(t *testing.T) {
	_, err := Render("{{ missing.response }}", map[string]any{}, Strict)
	require.Error(t, err)
	var templateErr *TemplateError
	require.ErrorAs(t, err, &templateErr)
}

func TestRenderPermissiveMissingVariableIsEmpty(t *testing.T) {
	out, err := Render("{{ missing.response }}", map[string]any{}, Permissive)
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestRenderUnterminatedExpressionFails(t *testing.T) {
	_, err := Render("hello {{ topic", map[string]any{"topic": "x"}, Strict)
	require.Error(t, err)
}

func TestFilters(t *testing.T) {
	ctx := map[string]any{"name": "Ada", "count": "3"}
	out, err := Render("{{ name | upper }}", ctx, Strict)
	require.NoError(t, err)
	require.Equal(t, "ADA", out)

	out, err = Render("{{ name | lower }}", ctx, Strict)
	require.NoError(t, err)
	require.Equal(t, "ada", out)

	out, err = Render(`{{ missing | default "anon" }}`, ctx, Permissive)
	require.NoError(t, err)
	require.Equal(t, "anon", out)

	out, err = Render("{{ count | int }}", ctx, Strict)
	require.NoError(t, err)
	require.Equal(t, "3", out)
}

func TestTruthyElseIsUnconditional(t *testing.T) {
	ok, err := Truthy("else", map[string]any{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTruthyRendersCondition(t *testing.T) {
	ctx := map[string]any{"nodes": map[string]any{"review": map[string]any{"response": "approved"}}}
	ok, err := Truthy("{{ nodes.review.response }}", ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Truthy("{{ nodes.missing.response }}", ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
