package cli

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/ArcadeAgent/internal/agent"
	"github.com/wwwzy/ArcadeAgent/internal/checkpoint"
	"github.com/wwwzy/ArcadeAgent/internal/config"
)

func withConfig(t *testing.T, c config.Config) {
	t.Helper()
	prev := cfg
	cfg = &c
	t.Cleanup(func() { cfg = prev })
}

func TestNewApp_MemoryBackend(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.InMemory = true
	c.Storage.EnableWAL = false
	c.Checkpoint.Backend = checkpoint.BackendMemory
	withConfig(t, c)

	ctx := context.Background()
	a, err := newApp(ctx, zerolog.Nop(), false)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.checkpoints.(*checkpoint.MemoryStore)
	assert.True(t, ok)
	assert.Nil(t, a.runner)

	n, err := a.store.CountCheckpoints(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	collector, err := a.retentionCollector()
	require.NoError(t, err)
	report, err := collector.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, report.Checkpoints)
}

func TestNewApp_SQLiteBackendPersistsThreads(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.Path = t.TempDir() + "/agent.db"
	withConfig(t, c)

	ctx := context.Background()
	a, err := newApp(ctx, zerolog.Nop(), false)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.checkpoints.(*checkpoint.SQLiteStore)
	require.True(t, ok)

	require.NoError(t, a.checkpoints.Save(ctx, &checkpoint.Record{
		ThreadID: "t-1",
		Status:   agent.StatusFinished,
		LastNode: agent.NodeChatModel,
		State:    []byte(`{"messages":[]}`),
	}))
	recs, err := a.checkpoints.List(ctx, checkpoint.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "t-1", recs[0].ThreadID)
}

func TestNewApp_AgentRequiresCredentials(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.InMemory = true
	c.Storage.EnableWAL = false
	withConfig(t, c)

	_, err := newApp(context.Background(), zerolog.Nop(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ark.api_key")
}

func TestNewApp_UnknownBackend(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.InMemory = true
	c.Storage.EnableWAL = false
	c.Checkpoint.Backend = "etcd"
	withConfig(t, c)

	_, err := newApp(context.Background(), zerolog.Nop(), false)
	assert.Error(t, err)
}

func TestFirstLineAndFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "List emails.", firstLine("  List emails.\nMore detail"))
	long := firstLine(string(make([]byte, 100)))
	assert.LessOrEqual(t, len(long), 80)
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}
