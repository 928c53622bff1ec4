package services

import (
	"context"
	"testing"
	"time"

	"civicwatch-be/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRetroClusterSingleCanonicalSurvives(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-time.Hour)
	oldest := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	mid := seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), t0.Add(time.Minute))
	newest := seedIssue(store, models.RoadDamage, 77.1000, 28.7002, primitive.NewObjectID(), t0.Add(2*time.Minute))

	merged, err := engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	// The oldest record stays canonical; the newer two point at it.
	got, err := store.Get(context.Background(), oldest.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MergedInto)
	assert.ElementsMatch(t, []primitive.ObjectID{mid.ID, newest.ID}, got.Duplicates)
	assert.Equal(t, 3, got.Votes)

	for _, id := range []primitive.ObjectID{mid.ID, newest.ID} {
		dup, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, dup.MergedInto)
		assert.Equal(t, oldest.ID, *dup.MergedInto)
	}
}

func TestRetroClusterIsIdempotent(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-time.Hour)
	seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), t0.Add(time.Minute))

	merged, err := engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	merged, err = engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
}

func TestRetroClusterRespectsCategory(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-time.Hour)
	a := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	b := seedIssue(store, models.WaterSupply, 77.1000, 28.7000, primitive.NewObjectID(), t0.Add(time.Minute))

	merged, err := engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	for _, id := range []primitive.ObjectID{a.ID, b.ID} {
		got, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, got.MergedInto)
	}
}

func TestRetroClusterRespectsRadius(t *testing.T) {
	engine, store, _ := newTestEngine()

	// Roughly 200 m apart in latitude: outside the default 100 m radius.
	t0 := time.Now().Add(-time.Hour)
	seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	seedIssue(store, models.RoadDamage, 77.1000, 28.7018, primitive.NewObjectID(), t0.Add(time.Minute))

	merged, err := engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	// A wider explicit radius catches the pair.
	merged, err = engine.RetroCluster(context.Background(), 24, 300, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
}

func TestRetroClusterIgnoresOldIssues(t *testing.T) {
	engine, store, _ := newTestEngine()

	seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), time.Now().Add(-48*time.Hour))
	seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), time.Now().Add(-time.Minute))

	merged, err := engine.RetroCluster(context.Background(), 24, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
}

func TestRetroClusterStopsOnCancelledContext(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-time.Hour)
	seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), t0.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	merged, err := engine.RetroCluster(ctx, 24, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, merged)
}
