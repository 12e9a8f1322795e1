package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-photoshare/internal/model"
)

func TestMemoryAuditRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAuditRepository(3)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Log(ctx, model.AuditEntry{
			ID:         fmt.Sprintf("e%d", i),
			Type:       "session.started",
			SubjectID:  "alice",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Log(ctx, model.AuditEntry{ID: "other", SubjectID: "bob"}))

	entries, err := repo.ListForSubject(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e3", entries[0].ID)
	assert.Equal(t, "e2", entries[1].ID)

	entries, err = repo.ListForSubject(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
