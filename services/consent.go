package services

import (
	"context"
	"fmt"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordConsent sets the consent decision for a reporter on the canonical
// issue behind id (a duplicate id resolves to its canonical first). A
// decision is reversible: accepted may later become declined and vice versa.
// The original reporter's consent stays pinned to granted; they anchor the
// roster by construction. Fails with ErrNotAReporter when the user has no
// reporter entry, without mutating anything.
func (e *Engine) RecordConsent(ctx context.Context, id, user primitive.ObjectID, accept bool) (*models.Issue, error) {
	canonical, err := e.ResolveCanonical(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := e.mutateIssue(ctx, canonical.ID, func(iss *models.Issue) error {
		rep := iss.FindReporter(user)
		if rep == nil {
			return ErrNotAReporter
		}
		if user != iss.ReportedBy {
			rep.Consent = &accept
		}

		state := "declined"
		if accept {
			state = "accepted"
		}
		iss.Notifications = append(iss.Notifications, models.Notification{
			Type:      EventConsentUpdated,
			User:      user,
			Message:   fmt.Sprintf("You have %s participation in the discussion for %q.", state, iss.Title),
			CreatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.NotifyUser(ctx, user, NewEvent(EventConsentUpdated, updated.ID, map[string]interface{}{
		"consent": accept,
	}))
	return updated, nil
}

// CanParticipateInChat is the authorization rule for posting in a canonical
// issue's discussion: government staff, the original reporter, or a reporter
// who explicitly accepted. Undecided (nil) and declined consent both deny.
func CanParticipateInChat(issue *models.Issue, user primitive.ObjectID, role models.UserRole) bool {
	if role == models.RoleGovernment {
		return true
	}
	if user == issue.ReportedBy {
		return true
	}
	rep := issue.FindReporter(user)
	return rep != nil && rep.Consent != nil && *rep.Consent
}
