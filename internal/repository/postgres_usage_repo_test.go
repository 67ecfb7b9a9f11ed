package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hirescout/internal/model"
)

func TestPostgresUsageRepo_InsertAndListWithProfile(t *testing.T) {
	db := openTestDB(t)
	profiles := NewPostgresProfileRepo(db)
	usage := NewPostgresUsageRepo(db)
	ctx := context.Background()

	userID := uuid.NewString()
	p := model.NewProfile(model.Identity{ID: userID, Email: "ann@example.com"}, "Ann", model.RoleUser, 5, time.Now())
	require.NoError(t, profiles.InsertProfile(ctx, &p))

	base := time.Now().UTC()
	first := &model.UsageEvent{UserID: userID, Action: model.ActionSignUp, Details: map[string]any{"name": "Ann"}, CreatedAt: base}
	second := &model.UsageEvent{UserID: userID, Action: model.ActionSignIn, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, usage.InsertUsage(ctx, first))
	require.NoError(t, usage.InsertUsage(ctx, second))
	assert.NotEmpty(t, first.ID)

	events, err := usage.ListRecentUsage(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ActionSignIn, events[0].Action, "新しい順に並ぶこと")
	assert.Equal(t, "Ann", events[1].ProfileName)
	assert.Equal(t, "ann@example.com", events[1].ProfileEmail)
	assert.Equal(t, "Ann", events[1].Details["name"])
	assert.Empty(t, events[0].Details)

	limited, err := usage.ListRecentUsage(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPostgresUsageRepo_DeleteUsageBefore(t *testing.T) {
	db := openTestDB(t)
	profiles := NewPostgresProfileRepo(db)
	usage := NewPostgresUsageRepo(db)
	ctx := context.Background()

	userID := uuid.NewString()
	p := model.NewProfile(model.Identity{ID: userID, Email: "ann@example.com"}, "Ann", model.RoleUser, 5, time.Now())
	require.NoError(t, profiles.InsertProfile(ctx, &p))

	now := time.Now().UTC()
	require.NoError(t, usage.InsertUsage(ctx, &model.UsageEvent{UserID: userID, Action: model.ActionSignIn, CreatedAt: now.AddDate(0, 0, -200)}))
	require.NoError(t, usage.InsertUsage(ctx, &model.UsageEvent{UserID: userID, Action: model.ActionSignIn, CreatedAt: now}))

	deleted, err := usage.DeleteUsageBefore(ctx, now.AddDate(0, 0, -180))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = usage.DeleteUsageBefore(ctx, now.AddDate(0, 0, -180))
	require.NoError(t, err)
	assert.Zero(t, deleted, "削除対象がない場合も成功すること")
}
