package services

import (
	"context"
	"errors"
	"log"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RetroCluster sweeps canonical issues created in the last sinceHours and
// merges duplicate pairs that creation-time dedup missed: two reports racing
// past each other is an accepted eventual-consistency trade-off, and this is
// the reconciliation side of it.
//
// The scan is O(n²) over a capped window: an offline administrative tool, not
// a hot path. Issues load oldest-first, so the newer of each matching pair
// merges into the older and the oldest record of a cluster stays canonical.
// The scan checks ctx between pairs; a cancelled run leaves already-applied
// merges intact, merely incomplete.
//
// Returns the number of pairs merged.
func (e *Engine) RetroCluster(ctx context.Context, sinceHours int, radiusMeters float64, category *models.IssueCategory) (int, error) {
	if radiusMeters <= 0 {
		radiusMeters = e.cfg.ClusterRadiusMeters
	}
	cutoff := time.Now().Add(-time.Duration(sinceHours) * time.Hour)

	issues, err := e.store.FindCanonicalSince(ctx, cutoff, category, e.cfg.RetroScanCap)
	if err != nil {
		return 0, err
	}

	mergedAway := map[primitive.ObjectID]bool{}
	merged := 0

	for i := range issues {
		if mergedAway[issues[i].ID] {
			continue
		}
		if !issues[i].Location.Valid() {
			continue
		}
		for j := i + 1; j < len(issues); j++ {
			if err := ctx.Err(); err != nil {
				return merged, err
			}
			if mergedAway[issues[j].ID] {
				continue
			}
			if issues[j].Category != issues[i].Category {
				continue
			}
			if !issues[j].Location.Valid() {
				continue
			}

			dist := HaversineMeters(
				issues[i].Location.Longitude(), issues[i].Location.Latitude(),
				issues[j].Location.Longitude(), issues[j].Location.Latitude(),
			)
			if dist > radiusMeters {
				continue
			}

			res, err := e.Merge(ctx, issues[j].ID, issues[i].ID)
			if err != nil {
				// Raced with a concurrent merge; the pair is no longer ours.
				if errors.Is(err, ErrAlreadyMerged) {
					mergedAway[issues[j].ID] = true
					continue
				}
				if errors.Is(err, ErrMergeIntoDuplicate) {
					mergedAway[issues[i].ID] = true
					break
				}
				log.Printf("retrocluster: merge %s into %s failed: %v", issues[j].ID.Hex(), issues[i].ID.Hex(), err)
				continue
			}
			mergedAway[issues[j].ID] = true
			if res.Merged {
				merged++
			}
		}
	}
	return merged, nil
}
