package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/model/mock"
	"github.com/thomasrohde/strandsflow/telemetry"
)

func TestInvokeAppendsHistory(t *testing.T) {
	client := mock.NewSequence("first reply", "second reply")
	a := New("writer", client, model.RuntimeConfig{ModelID: "test-model"}, "you are a writer", nil, hooks.NewBus(telemetry.NoopLogger()), nil)

	resp, err := a.Invoke(context.Background(), "write a haiku")
	require.NoError(t, err)
	require.Equal(t, "first reply", resp.Text)

	resp2, err := a.Invoke(context.Background(), "write another")
	require.NoError(t, err)
	require.Equal(t, "second reply", resp2.Text)

	history := a.History()
	require.Len(t, history, 4)
	require.Equal(t, model.RoleUser, history[0].Role)
	require.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestRestoreHistorySeedsConversation(t *testing.T) {
	client := mock.NewSequence("ok")
	a := New("writer", client, model.RuntimeConfig{}, "", nil, hooks.NewBus(telemetry.NoopLogger()), nil)
	a.RestoreHistory([]model.Message{{Role: model.RoleUser, Text: "earlier"}})
	require.Len(t, a.History(), 1)
}

func TestFindToolReturnsNilWhenUnbound(t *testing.T) {
	a := New("writer", mock.NewSequence("ok"), model.RuntimeConfig{}, "", nil, hooks.NewBus(telemetry.NoopLogger()), nil)
	require.Nil(t, a.FindTool("grep"))
}
