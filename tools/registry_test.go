package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryResolveOrdersByRequestedNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&NativeFunc{NameValue: "a"})
	r.Register(&NativeFunc{NameValue: "b"})

	handles, err := r.Resolve([]string{"b", "a"})
	require.NoError(t, err)
	require.Equal(t, "b", handles[0].Name())
	require.Equal(t, "a", handles[1].Name())
}

func TestRegistryResolveUnknownToolErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve([]string{"missing"})
	require.Error(t, err)
}

func TestNativeFuncInvokesUnderlyingFn(t *testing.T) {
	called := false
	n := &NativeFunc{
		NameValue: "echo",
		Fn: func(_ context.Context, input map[string]any) (any, error) {
			called = true
			return input["x"], nil
		},
	}
	out, err := n.Invoke(context.Background(), map[string]any{"x": "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", out)
	require.True(t, called)
}
