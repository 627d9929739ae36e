package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/audit"
	"github.com/Mindburn-Labs/datakeep/pkg/auth"
)

func TestLogger_RecordsEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	ctx := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "user-1"})
	err := logger.Record(ctx, audit.EventMutation, "dataset.invalidate", "ds-42", map[string]any{"reason": "superseded"})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "user-1", event.ActorID)
	assert.Equal(t, audit.EventMutation, event.Type)
	assert.Equal(t, "dataset.invalidate", event.Action)
	assert.Equal(t, "ds-42", event.DatasetID)
	assert.Equal(t, "superseded", event.Metadata["reason"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestLogger_SystemActorWithoutPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	require.NoError(t, logger.Record(context.Background(), audit.EventSystem, "server.start", "", nil))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(buf.String(), "AUDIT: ")), &event))
	assert.Equal(t, "system", event.ActorID)
}

func TestNopLogger(t *testing.T) {
	assert.NoError(t, audit.Nop().Record(context.Background(), audit.EventAccess, "dataset.read", "ds-1", nil))
}
