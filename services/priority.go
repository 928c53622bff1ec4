package services

import (
	"context"
	"fmt"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// bumpPriority escalates one level. Idempotent at Urgent.
func bumpPriority(p models.IssuePriority) models.IssuePriority {
	switch p {
	case models.PriorityLow:
		return models.PriorityMedium
	case models.PriorityMedium:
		return models.PriorityHigh
	case models.PriorityHigh:
		return models.PriorityUrgent
	default:
		return models.PriorityUrgent
	}
}

// ComputePriority derives a priority level and its reason tags for an issue
// under automatic control. When PriorityAuto is false the current priority is
// returned untouched with no reasons: a manual override is sticky.
//
// The baseline comes from vote count; low carries no reason tag on purpose
// (its absence is itself meaningful). Cluster density of other canonical
// issues of the same category within the configured radius then bumps the
// baseline exactly one level per invocation, never more, even when both vote
// and cluster evidence are strong. A failed cluster query appends
// "cluster-error" and leaves the vote baseline standing: escalation fails
// closed on uncertain evidence.
func (e *Engine) ComputePriority(ctx context.Context, issue *models.Issue) (models.IssuePriority, []string) {
	if !issue.PriorityAuto {
		return issue.Priority, nil
	}

	var reasons []string
	priority := models.PriorityLow
	switch {
	case issue.Votes >= e.cfg.VoteHighThreshold:
		priority = models.PriorityHigh
		reasons = append(reasons, fmt.Sprintf("votes>=%d", e.cfg.VoteHighThreshold))
	case issue.Votes >= e.cfg.VoteMediumThreshold:
		priority = models.PriorityMedium
		reasons = append(reasons, fmt.Sprintf("votes>=%d", e.cfg.VoteMediumThreshold))
	}

	if issue.Location.Valid() {
		others, err := e.countNearbyCanonical(ctx, issue.Category,
			issue.Location.Longitude(), issue.Location.Latitude(),
			e.cfg.ClusterRadiusMeters, issue.ID)
		switch {
		case err != nil:
			reasons = append(reasons, "cluster-error")
		case others >= e.cfg.ClusterMinOthers:
			bumped := bumpPriority(priority)
			// N includes the issue itself.
			reasons = append(reasons, fmt.Sprintf("cluster(%d issues within %dm)", others+1, int(e.cfg.ClusterRadiusMeters)))
			if bumped != priority {
				reasons = append(reasons, "cluster-bump")
			}
			priority = bumped
		}
	}

	return priority, reasons
}

// OverridePriority pins the canonical issue behind id to a manual priority
// and freezes automatic recomputation until ResumeAutoPriority.
func (e *Engine) OverridePriority(ctx context.Context, id primitive.ObjectID, priority models.IssuePriority) (*models.Issue, error) {
	canonical, err := e.ResolveCanonical(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := e.mutateIssue(ctx, canonical.ID, func(iss *models.Issue) error {
		iss.Priority = priority
		iss.PriorityAuto = false
		iss.PriorityReasons = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Broadcast(ctx, NewEvent(EventPriorityUpdated, updated.ID, map[string]interface{}{
		"priority": string(updated.Priority),
		"manual":   true,
	}))
	return updated, nil
}

// ResumeAutoPriority hands priority control back to the engine and recomputes
// immediately.
func (e *Engine) ResumeAutoPriority(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	canonical, err := e.ResolveCanonical(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := e.mutateIssue(ctx, canonical.ID, func(iss *models.Issue) error {
		iss.PriorityAuto = true
		priority, reasons := e.ComputePriority(ctx, iss)
		iss.Priority = priority
		iss.PriorityReasons = reasons
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Broadcast(ctx, NewEvent(EventPriorityUpdated, updated.ID, map[string]interface{}{
		"priority": string(updated.Priority),
		"reasons":  updated.PriorityReasons,
	}))
	return updated, nil
}
