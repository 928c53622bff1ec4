package services

import (
	"context"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// boxCandidateCap bounds how many bounding-box candidates get an exact
// distance check in the fallback tier.
const boxCandidateCap = 10

// FindCanonicalMatch looks for the canonical issue a new report should merge
// into: same category, within radiusMeters of the point, oldest first.
//
// Two tiers: the primary spatial-index query, then a bounding-box pre-filter
// plus exact haversine check. The fallback exists because a box-only search
// both over- and under-matches away from the equator, while an index-only
// search can silently return empty on a deployment whose 2dsphere index is
// absent or mis-provisioned. It is a correctness safety net, not an
// optimization.
//
// Returns (nil, nil) when neither tier finds a match; an error only when both
// tiers failed outright.
func (e *Engine) FindCanonicalMatch(ctx context.Context, category models.IssueCategory, lng, lat, radiusMeters float64, exclude *primitive.ObjectID) (*models.Issue, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	primary, primaryErr := e.store.FindCanonicalNear(qctx, category, lng, lat, radiusMeters, 1, exclude)
	if primaryErr == nil && len(primary) > 0 {
		return &primary[0], nil
	}

	minLng, maxLng, minLat, maxLat := boundingBox(lng, lat, radiusMeters)

	qctx2, cancel2 := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel2()

	candidates, boxErr := e.store.FindCanonicalInBox(qctx2, category, minLng, maxLng, minLat, maxLat, boxCandidateCap, exclude)
	if boxErr != nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, boxErr
	}

	for idx := range candidates {
		c := &candidates[idx]
		if !c.Location.Valid() {
			continue
		}
		if HaversineMeters(lng, lat, c.Location.Longitude(), c.Location.Latitude()) <= radiusMeters {
			return c, nil
		}
	}
	return nil, nil
}

// countNearbyCanonical counts canonical issues of the category within
// radiusMeters of the point, excluding the issue itself. Same two-tier
// strategy as FindCanonicalMatch, counting rather than selecting. An error is
// returned only when no tier produced a usable answer; the priority engine
// turns that into a cluster-error reason rather than an escalation.
func (e *Engine) countNearbyCanonical(ctx context.Context, category models.IssueCategory, lng, lat, radiusMeters float64, exclude primitive.ObjectID) (int, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	primary, primaryErr := e.store.FindCanonicalNear(qctx, category, lng, lat, radiusMeters, boxCandidateCap, &exclude)
	if primaryErr == nil && len(primary) > 0 {
		return len(primary), nil
	}

	minLng, maxLng, minLat, maxLat := boundingBox(lng, lat, radiusMeters)

	qctx2, cancel2 := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel2()

	candidates, boxErr := e.store.FindCanonicalInBox(qctx2, category, minLng, maxLng, minLat, maxLat, boxCandidateCap, &exclude)
	if boxErr != nil {
		if primaryErr != nil {
			return 0, primaryErr
		}
		// The primary tier answered zero and only the fallback broke; trust
		// the primary answer.
		return 0, nil
	}

	count := 0
	for idx := range candidates {
		c := &candidates[idx]
		if !c.Location.Valid() {
			continue
		}
		if HaversineMeters(lng, lat, c.Location.Longitude(), c.Location.Latitude()) <= radiusMeters {
			count++
		}
	}
	return count, nil
}
