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

// mergedPair seeds a canonical issue and a duplicate merged into it, returning
// both plus the two reporter ids.
func mergedPair(t *testing.T, engine *Engine, store *memStore) (canonical, dup *models.Issue, original, joined primitive.ObjectID) {
	t.Helper()
	original = primitive.NewObjectID()
	joined = primitive.NewObjectID()

	t0 := time.Now().Add(-10 * time.Minute)
	a := seedIssue(store, models.GarbageCollection, 77.1000, 28.7000, original, t0)
	b := seedIssue(store, models.GarbageCollection, 77.1001, 28.7001, joined, t0.Add(time.Minute))

	res, err := engine.Merge(context.Background(), b.ID, a.ID)
	require.NoError(t, err)
	return res.Canonical, res.Duplicate, original, joined
}

func TestRecordConsentRequiresReporter(t *testing.T) {
	engine, store, _ := newTestEngine()
	canonical, _, _, _ := mergedPair(t, engine, store)

	_, err := engine.RecordConsent(context.Background(), canonical.ID, primitive.NewObjectID(), true)
	assert.ErrorIs(t, err, ErrNotAReporter)
}

func TestRecordConsentGatesChat(t *testing.T) {
	engine, store, notifier := newTestEngine()
	canonical, _, _, joined := mergedPair(t, engine, store)

	// Undecided consent denies participation.
	assert.False(t, CanParticipateInChat(canonical, joined, models.RoleCitizen))

	accepted, err := engine.RecordConsent(context.Background(), canonical.ID, joined, true)
	require.NoError(t, err)
	assert.True(t, CanParticipateInChat(accepted, joined, models.RoleCitizen))

	declined, err := engine.RecordConsent(context.Background(), canonical.ID, joined, false)
	require.NoError(t, err)
	assert.False(t, CanParticipateInChat(declined, joined, models.RoleCitizen))

	require.NotEmpty(t, notifier.userEvents[joined])
}

func TestRecordConsentReversible(t *testing.T) {
	engine, store, _ := newTestEngine()
	canonical, _, _, joined := mergedPair(t, engine, store)

	updated, err := engine.RecordConsent(context.Background(), canonical.ID, joined, false)
	require.NoError(t, err)
	rep := updated.FindReporter(joined)
	require.NotNil(t, rep)
	require.NotNil(t, rep.Consent)
	assert.False(t, *rep.Consent)

	updated, err = engine.RecordConsent(context.Background(), canonical.ID, joined, true)
	require.NoError(t, err)
	rep = updated.FindReporter(joined)
	require.NotNil(t, rep.Consent)
	assert.True(t, *rep.Consent)
}

func TestRecordConsentOriginalReporterStaysGranted(t *testing.T) {
	engine, store, _ := newTestEngine()
	canonical, _, original, _ := mergedPair(t, engine, store)

	updated, err := engine.RecordConsent(context.Background(), canonical.ID, original, false)
	require.NoError(t, err)

	rep := updated.FindReporter(original)
	require.NotNil(t, rep)
	require.NotNil(t, rep.Consent)
	assert.True(t, *rep.Consent)
	assert.True(t, CanParticipateInChat(updated, original, models.RoleCitizen))
}

func TestRecordConsentViaDuplicateIDResolvesCanonical(t *testing.T) {
	engine, store, _ := newTestEngine()
	canonical, dup, _, joined := mergedPair(t, engine, store)

	updated, err := engine.RecordConsent(context.Background(), dup.ID, joined, true)
	require.NoError(t, err)
	assert.Equal(t, canonical.ID, updated.ID)

	rep := updated.FindReporter(joined)
	require.NotNil(t, rep)
	require.NotNil(t, rep.Consent)
	assert.True(t, *rep.Consent)
}

func TestCanParticipateInChatRoles(t *testing.T) {
	engine, store, _ := newTestEngine()
	canonical, _, original, joined := mergedPair(t, engine, store)

	// Government staff always may; the original reporter always may; a joined
	// reporter without an accepted consent may not; strangers never may.
	assert.True(t, CanParticipateInChat(canonical, primitive.NewObjectID(), models.RoleGovernment))
	assert.True(t, CanParticipateInChat(canonical, original, models.RoleCitizen))
	assert.False(t, CanParticipateInChat(canonical, joined, models.RoleCitizen))
	assert.False(t, CanParticipateInChat(canonical, primitive.NewObjectID(), models.RoleCitizen))
}
