package services

import (
	"context"
	"fmt"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	Canonical *models.Issue `json:"canonical"`
	Duplicate *models.Issue `json:"duplicate"`

	// Merged is false when the pair was already merged and the call was a
	// no-op.
	Merged bool `json:"merged"`
}

// Merge consolidates duplicateID into canonicalID: the duplicate's reporter
// joins the canonical roster (consent undecided), counts as one vote of crowd
// interest, the duplicate is linked for provenance, the thumbnail is
// backfilled if the canonical has none, and the canonical priority is
// recomputed. The duplicate's reporter is asked for consent to join the
// shared discussion; the merge itself never auto-grants it.
//
// Re-merging the same pair is a no-op. Merging an issue into itself, into a
// duplicate, or re-merging an issue that already went elsewhere are rejected.
func (e *Engine) Merge(ctx context.Context, duplicateID, canonicalID primitive.ObjectID) (*MergeResult, error) {
	if duplicateID == canonicalID {
		return nil, ErrSelfMerge
	}

	dup, err := e.store.Get(ctx, duplicateID)
	if err != nil {
		return nil, err
	}
	if dup.MergedInto != nil {
		if *dup.MergedInto == canonicalID {
			canonical, err := e.store.Get(ctx, canonicalID)
			if err != nil {
				return nil, err
			}
			return &MergeResult{Canonical: canonical, Duplicate: dup, Merged: false}, nil
		}
		return nil, ErrAlreadyMerged
	}

	canonical, err := e.mutateIssue(ctx, canonicalID, func(iss *models.Issue) error {
		if iss.MergedInto != nil {
			return ErrMergeIntoDuplicate
		}
		now := time.Now()

		if iss.FindReporter(dup.ReportedBy) == nil {
			iss.Reporters = append(iss.Reporters, models.Reporter{
				User:     dup.ReportedBy,
				JoinedAt: now,
			})
		}

		// A duplicate report counts as implicit support, once per user.
		if !iss.HasVoter(dup.ReportedBy) {
			iss.Voters = append(iss.Voters, dup.ReportedBy)
			iss.Votes++
		}

		if !iss.HasDuplicate(dup.ID) {
			iss.Duplicates = append(iss.Duplicates, dup.ID)
		}

		if iss.ThumbnailImage == nil && len(dup.Images) > 0 {
			img := dup.Images[0]
			iss.ThumbnailImage = &img
		}

		priority, reasons := e.ComputePriority(ctx, iss)
		iss.Priority = priority
		iss.PriorityReasons = reasons

		iss.Notifications = append(iss.Notifications, models.Notification{
			Type:      EventConsentRequest,
			User:      dup.ReportedBy,
			Message:   fmt.Sprintf("Your report was merged into an existing issue (%q). Do you want to join its discussion?", iss.Title),
			CreatedAt: now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	dup, err = e.mutateIssue(ctx, duplicateID, func(iss *models.Issue) error {
		if iss.MergedInto != nil {
			if *iss.MergedInto == canonicalID {
				return nil
			}
			return ErrAlreadyMerged
		}
		iss.MergedInto = &canonicalID
		return nil
	})
	if err != nil {
		return nil, err
	}

	reporterIDs := make([]string, 0, len(canonical.Reporters))
	for _, r := range canonical.Reporters {
		reporterIDs = append(reporterIDs, r.User.Hex())
	}

	e.notifier.NotifyUser(ctx, dup.ReportedBy, NewEvent(EventConsentRequest, canonical.ID, map[string]interface{}{
		"duplicate": dup.ID.Hex(),
	}))
	e.notifier.Broadcast(ctx, NewEvent(EventIssueMerged, canonical.ID, map[string]interface{}{
		"duplicate": dup.ID.Hex(),
		"reporters": reporterIDs,
	}))

	return &MergeResult{Canonical: canonical, Duplicate: dup, Merged: true}, nil
}
