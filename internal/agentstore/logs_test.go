package agentstore

import (
	"testing"
	"time"

	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStoreAppendAndList(t *testing.T) {
	ls := NewLogStore(t.TempDir())

	require.NoError(t, ls.Append(domain.AgentLogEvent{ID: "1", AgentID: "a1", Timestamp: time.Now(), Level: domain.LogInfo, Message: "started"}))
	require.NoError(t, ls.Append(domain.AgentLogEvent{ID: "2", AgentID: "a1", Timestamp: time.Now(), Level: domain.LogAction, Message: "approved"}))

	events, err := ls.List("a1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Message)
	assert.Equal(t, "approved", events[1].Message)
}

func TestLogStoreClearTruncates(t *testing.T) {
	ls := NewLogStore(t.TempDir())
	require.NoError(t, ls.Append(domain.AgentLogEvent{ID: "1", AgentID: "a1", Timestamp: time.Now(), Level: domain.LogInfo, Message: "x"}))

	require.NoError(t, ls.Clear("a1"))

	events, err := ls.List("a1")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, ls.Append(domain.AgentLogEvent{ID: "2", AgentID: "a1", Timestamp: time.Now(), Level: domain.LogInfo, Message: "y"}))
	events, err = ls.List("a1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "y", events[0].Message)
}

func TestLogStoreListMissingAgentReturnsEmpty(t *testing.T) {
	ls := NewLogStore(t.TempDir())
	events, err := ls.List("nope")
	require.NoError(t, err)
	assert.Empty(t, events)
}
