package services

import (
	"context"
	"errors"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrIssueNotFound means no issue exists for the given id.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrVersionConflict means a versioned replace lost a race with a
	// concurrent writer; the caller should re-read and retry.
	ErrVersionConflict = errors.New("issue version conflict")

	// ErrInvalidLocation means the coordinates are missing or not a pair of
	// finite numbers. Rejected at the boundary, before any clustering runs.
	ErrInvalidLocation = errors.New("invalid location: coordinates must be a [longitude, latitude] pair of finite numbers")

	// ErrNotAReporter means consent was recorded for a user with no reporter
	// entry on the canonical issue.
	ErrNotAReporter = errors.New("user is not a reporter on this issue")

	// ErrCanonicalNotFound means a mergedInto pointer resolves to a missing
	// record. This is a data-integrity fault, not a soft miss.
	ErrCanonicalNotFound = errors.New("canonical issue referenced by mergedInto does not exist")

	// ErrAlreadyMerged means the issue was already merged into a different
	// canonical record.
	ErrAlreadyMerged = errors.New("issue is already merged into another canonical issue")

	// ErrSelfMerge means an issue was asked to merge into itself.
	ErrSelfMerge = errors.New("cannot merge an issue into itself")

	// ErrMergeIntoDuplicate means the chosen merge target is itself a
	// duplicate; callers must resolve to canonical first.
	ErrMergeIntoDuplicate = errors.New("merge target is not canonical")
)

// IssueStore is the storage collaborator the engine runs on. The Mongo
// implementation backs production; tests use an in-memory fake.
//
// All spatial queries return canonical issues only (mergedInto unset),
// filtered to one category, ordered by creation time ascending so the oldest
// candidate wins ties.
type IssueStore interface {
	Insert(ctx context.Context, issue *models.Issue) error
	Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)

	// Replace writes the issue back if its stored version still matches
	// issue.Version, bumping the version on success. Returns
	// ErrVersionConflict when a concurrent writer got there first.
	Replace(ctx context.Context, issue *models.Issue) error

	// FindCanonicalNear uses the spatial index to find canonical issues of
	// the category within radiusMeters of the point.
	FindCanonicalNear(ctx context.Context, category models.IssueCategory, lng, lat, radiusMeters float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error)

	// FindCanonicalInBox is the index-free fallback: a coordinate range
	// pre-filter whose results the caller must distance-check exactly.
	FindCanonicalInBox(ctx context.Context, category models.IssueCategory, minLng, maxLng, minLat, maxLat float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error)

	// FindCanonicalSince loads canonical issues created at or after cutoff,
	// optionally filtered by category, capped and ordered by creation
	// ascending. Feeds the retroactive clusterer.
	FindCanonicalSince(ctx context.Context, cutoff time.Time, category *models.IssueCategory, cap int64) ([]models.Issue, error)

	// SyncDuplicateStatus mirrors a canonical status change onto all listed
	// duplicates in one batch, appending the synced history entry to each.
	SyncDuplicateStatus(ctx context.Context, duplicateIDs []primitive.ObjectID, status models.IssueStatus, entry models.StatusHistoryEntry) error
}
