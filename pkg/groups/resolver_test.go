package groups_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/groups"
)

func TestStaticResolver(t *testing.T) {
	r := groups.NewStaticResolver()
	ctx := context.Background()

	got, err := r.GroupsOf(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)

	r.Assign("alice", "optics", "lab-42")
	got, err = r.GroupsOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"optics", "lab-42"}, got)

	// Reassignment replaces, not appends.
	r.Assign("alice", "optics")
	got, _ = r.GroupsOf(ctx, "alice")
	assert.Equal(t, []string{"optics"}, got)

	// Callers must not be able to mutate the table through the result.
	got[0] = "tampered"
	again, _ := r.GroupsOf(ctx, "alice")
	assert.Equal(t, []string{"optics"}, again)
}
