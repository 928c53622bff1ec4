package services

import (
	"context"
	"math"
	"testing"
	"time"

	"civicwatch-be/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIntakeMergesNearbyReport(t *testing.T) {
	engine, store, notifier := newTestEngine()
	user1 := primitive.NewObjectID()
	user2 := primitive.NewObjectID()

	a := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, user1, time.Now().Add(-time.Minute))

	b := models.NewIssue("pothole", "same pothole again", models.RoadDamage, 77.1001, 28.7001, "MG Road", nil, user2)
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)

	require.NotNil(t, res.MergedInto)
	assert.Equal(t, a.ID, *res.MergedInto)
	require.NotNil(t, res.Issue.MergedInto)
	assert.Equal(t, a.ID, *res.Issue.MergedInto)

	canonical, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, canonical.Votes)
	assert.Equal(t, []primitive.ObjectID{b.ID}, canonical.Duplicates)

	assert.Contains(t, notifier.broadcastTypes(), EventIssueMerged)
	assert.Contains(t, notifier.broadcastTypes(), EventNewIssue)
}

func TestIntakeStandsCanonicalWhenNoMatch(t *testing.T) {
	engine, store, notifier := newTestEngine()

	seedIssue(store, models.RoadDamage, 78.5000, 29.9000, primitive.NewObjectID(), time.Now().Add(-time.Minute))

	b := models.NewIssue("pothole", "a new pothole", models.RoadDamage, 77.1000, 28.7000, "MG Road", nil, primitive.NewObjectID())
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)

	assert.Nil(t, res.MergedInto)
	assert.Nil(t, res.Issue.MergedInto)
	assert.Equal(t, models.PriorityLow, res.Issue.Priority)
	assert.Empty(t, res.Issue.PriorityReasons)
	assert.Contains(t, notifier.broadcastTypes(), EventNewIssue)
}

func TestIntakeIgnoresOtherCategory(t *testing.T) {
	engine, store, _ := newTestEngine()

	seedIssue(store, models.WaterSupply, 77.1000, 28.7000, primitive.NewObjectID(), time.Now().Add(-time.Minute))

	b := models.NewIssue("pothole", "a pothole", models.RoadDamage, 77.1001, 28.7001, "MG Road", nil, primitive.NewObjectID())
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, res.MergedInto)
}

func TestIntakeRejectsInvalidLocation(t *testing.T) {
	engine, store, _ := newTestEngine()

	b := models.NewIssue("pothole", "bad location", models.RoadDamage, 77.1, math.NaN(), "MG Road", nil, primitive.NewObjectID())
	_, err := engine.Intake(context.Background(), b)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = store.Get(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrIssueNotFound)
}

func TestIntakeFailsOpenWhenSearchBreaks(t *testing.T) {
	engine, store, _ := newTestEngine()

	seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), time.Now().Add(-time.Minute))
	store.failNear = true
	store.failBox = true

	// Both search tiers down: the report must still land, as canonical.
	b := models.NewIssue("pothole", "same pothole", models.RoadDamage, 77.1001, 28.7001, "MG Road", nil, primitive.NewObjectID())
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, res.MergedInto)

	got, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MergedInto)
	assert.Contains(t, got.PriorityReasons, "cluster-error")
}

func TestIntakeUsesFallbackTier(t *testing.T) {
	engine, store, _ := newTestEngine()

	a := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), time.Now().Add(-time.Minute))
	store.emptyNear = true

	b := models.NewIssue("pothole", "same pothole", models.RoadDamage, 77.1001, 28.7001, "MG Road", nil, primitive.NewObjectID())
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)
	require.NotNil(t, res.MergedInto)
	assert.Equal(t, a.ID, *res.MergedInto)
}

func TestIntakePrefersOldestCandidate(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-time.Hour)
	oldest := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	seedIssue(store, models.RoadDamage, 77.1001, 28.7000, primitive.NewObjectID(), t0.Add(time.Minute))

	b := models.NewIssue("pothole", "third report", models.RoadDamage, 77.1000, 28.7001, "MG Road", nil, primitive.NewObjectID())
	res, err := engine.Intake(context.Background(), b)
	require.NoError(t, err)
	require.NotNil(t, res.MergedInto)
	assert.Equal(t, oldest.ID, *res.MergedInto)
}

func TestToggleVoteCastsAndRetracts(t *testing.T) {
	engine, store, _ := newTestEngine()
	voter := primitive.NewObjectID()
	a := seedIssue(store, models.RoadDamage, 77.1, 28.7, primitive.NewObjectID(), time.Now())

	updated, voted, err := engine.ToggleVote(context.Background(), a.ID, voter)
	require.NoError(t, err)
	assert.True(t, voted)
	assert.Equal(t, 2, updated.Votes)
	assert.Equal(t, models.PriorityMedium, updated.Priority)

	updated, voted, err = engine.ToggleVote(context.Background(), a.ID, voter)
	require.NoError(t, err)
	assert.False(t, voted)
	assert.Equal(t, 1, updated.Votes)
	assert.False(t, updated.HasVoter(voter))
	assert.Equal(t, models.PriorityLow, updated.Priority)
}

func TestToggleVoteOnDuplicateLandsOnCanonical(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-10 * time.Minute)
	a := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	b := seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), t0.Add(time.Minute))
	_, err := engine.Merge(context.Background(), b.ID, a.ID)
	require.NoError(t, err)

	updated, voted, err := engine.ToggleVote(context.Background(), b.ID, primitive.NewObjectID())
	require.NoError(t, err)
	assert.True(t, voted)
	assert.Equal(t, a.ID, updated.ID)
	assert.Equal(t, 3, updated.Votes)
}

func TestToggleVotePriorityChangeBroadcasts(t *testing.T) {
	engine, store, notifier := newTestEngine()
	a := seedIssue(store, models.RoadDamage, 77.1, 28.7, primitive.NewObjectID(), time.Now())

	_, _, err := engine.ToggleVote(context.Background(), a.ID, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Contains(t, notifier.broadcastTypes(), EventPriorityUpdated)
}

func TestResolveCanonicalDirectAndOneHop(t *testing.T) {
	engine, store, _ := newTestEngine()

	t0 := time.Now().Add(-10 * time.Minute)
	a := seedIssue(store, models.RoadDamage, 77.1000, 28.7000, primitive.NewObjectID(), t0)
	b := seedIssue(store, models.RoadDamage, 77.1001, 28.7001, primitive.NewObjectID(), t0.Add(time.Minute))
	_, err := engine.Merge(context.Background(), b.ID, a.ID)
	require.NoError(t, err)

	got, err := engine.ResolveCanonical(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = engine.ResolveCanonical(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestResolveCanonicalMissingTarget(t *testing.T) {
	engine, store, _ := newTestEngine()

	ghost := primitive.NewObjectID()
	orphan := models.NewIssue("orphan", "dangling pointer", models.RoadDamage, 77.1, 28.7, "somewhere", nil, primitive.NewObjectID())
	orphan.MergedInto = &ghost
	require.NoError(t, store.Insert(context.Background(), orphan))

	_, err := engine.ResolveCanonical(context.Background(), orphan.ID)
	assert.ErrorIs(t, err, ErrCanonicalNotFound)
}

func TestMutateIssueRetriesOnVersionConflict(t *testing.T) {
	engine, store, _ := newTestEngine()
	a := seedIssue(store, models.RoadDamage, 77.1, 28.7, primitive.NewObjectID(), time.Now())

	// A competing writer bumps the version between our read and write once;
	// the mutation must retry with a fresh read and land.
	raced := false
	updated, err := engine.mutateIssue(context.Background(), a.ID, func(iss *models.Issue) error {
		if !raced {
			raced = true
			other, err := store.Get(context.Background(), a.ID)
			if err != nil {
				return err
			}
			other.Title = "competing write"
			if err := store.Replace(context.Background(), other); err != nil {
				return err
			}
		}
		iss.Votes++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Votes)
	assert.Equal(t, "competing write", updated.Title)
}
