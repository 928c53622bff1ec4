package services

import (
	"context"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UpdateStatus transitions the canonical issue behind id to status, appending
// a history entry, then mirrors the status onto every linked duplicate in one
// batch with a history entry tagged as synced from the canonical. Duplicates
// never originate their own status changes: a request addressed to a
// duplicate id is applied to its canonical.
//
// A same-status request is a no-op. If the duplicate sync fails the canonical
// update stands and the error surfaces; the duplicates catch up on the next
// transition.
func (e *Engine) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.IssueStatus, updatedBy primitive.ObjectID, comment string) (*models.Issue, error) {
	canonical, err := e.ResolveCanonical(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	updated, err := e.mutateIssue(ctx, canonical.ID, func(iss *models.Issue) error {
		if iss.Status == status {
			return nil
		}
		changed = true
		iss.Status = status
		iss.StatusHistory = append(iss.StatusHistory, models.StatusHistoryEntry{
			Status:    status,
			UpdatedBy: updatedBy,
			Comment:   comment,
			Timestamp: time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	if len(updated.Duplicates) > 0 {
		entry := models.StatusHistoryEntry{
			Status:     status,
			UpdatedBy:  updatedBy,
			SyncedFrom: &updated.ID,
			Timestamp:  time.Now(),
		}
		if err := e.store.SyncDuplicateStatus(ctx, updated.Duplicates, status, entry); err != nil {
			return updated, err
		}
	}

	e.notifier.Broadcast(ctx, NewEvent(EventStatusUpdated, updated.ID, map[string]interface{}{
		"status":     string(status),
		"duplicates": len(updated.Duplicates),
	}))
	return updated, nil
}
