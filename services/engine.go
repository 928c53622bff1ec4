package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"civicwatch-be/config"
	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// mutateRetries bounds optimistic-concurrency retries on a version conflict.
const mutateRetries = 3

// Engine is the issue deduplication, merge, and priority engine. Every
// mutating operation on a canonical issue goes through mutateIssue, which
// combines a per-issue lock with a versioned replace so racing writers
// (two merges, a merge and a vote) never silently lose an update.
type Engine struct {
	store    IssueStore
	notifier Notifier
	cfg      config.EngineConfig

	mu    sync.Mutex
	locks map[primitive.ObjectID]*sync.Mutex
}

func NewEngine(store IssueStore, notifier Notifier, cfg config.EngineConfig) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		locks:    map[primitive.ObjectID]*sync.Mutex{},
	}
}

// Config exposes the engine tunables (used by handlers for reporting).
func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

func (e *Engine) lockFor(id primitive.ObjectID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// mutateIssue applies fn to the issue as a single atomic read-modify-write.
// fn may return an error to abort without writing. On a version conflict the
// whole read-apply-write cycle retries with a fresh read.
func (e *Engine) mutateIssue(ctx context.Context, id primitive.ObjectID, fn func(*models.Issue) error) (*models.Issue, error) {
	l := e.lockFor(id)
	l.Lock()
	defer l.Unlock()

	var lastErr error
	for attempt := 0; attempt < mutateRetries; attempt++ {
		issue, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(issue); err != nil {
			return nil, err
		}
		err = e.store.Replace(ctx, issue)
		if err == nil {
			return issue, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ResolveCanonical follows a duplicate's mergedInto pointer to its canonical
// record. The contract is a single hop: merge chains are forbidden by
// invariant, and if a stale pointer lands on a record that was itself merged
// after our read, we log and return it rather than chasing further. The
// retroactive clusterer is the repair path for such anomalies.
func (e *Engine) ResolveCanonical(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	issue, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.MergedInto == nil {
		return issue, nil
	}

	canonical, err := e.store.Get(ctx, *issue.MergedInto)
	if errors.Is(err, ErrIssueNotFound) {
		return nil, ErrCanonicalNotFound
	}
	if err != nil {
		return nil, err
	}
	if canonical.MergedInto != nil {
		log.Printf("issue %s: mergedInto target %s is itself merged; returning it without chasing", id.Hex(), canonical.ID.Hex())
	}
	return canonical, nil
}

// IntakeResult describes what happened to a newly submitted issue.
type IntakeResult struct {
	Issue      *models.Issue       `json:"issue"`
	MergedInto *primitive.ObjectID `json:"mergedInto,omitempty"`
}

// Intake persists a new issue and runs it through deduplication: if a
// canonical issue of the same category exists within the cluster radius, the
// new issue is merged into it; otherwise it stands as canonical and gets an
// initial priority. Dedup and priority failures are non-fatal: the issue is
// already persisted, so we log and return it in its pre-existing state.
func (e *Engine) Intake(ctx context.Context, issue *models.Issue) (*IntakeResult, error) {
	if !issue.Location.Valid() {
		return nil, ErrInvalidLocation
	}

	if err := e.store.Insert(ctx, issue); err != nil {
		return nil, err
	}

	match, err := e.FindCanonicalMatch(ctx, issue.Category, issue.Location.Longitude(), issue.Location.Latitude(), e.cfg.ClusterRadiusMeters, &issue.ID)
	if err != nil {
		// Fail open: both search tiers exhausted, treat as no match.
		log.Printf("issue %s: candidate search failed, keeping canonical: %v", issue.ID.Hex(), err)
		match = nil
	}

	if match != nil {
		res, err := e.Merge(ctx, issue.ID, match.ID)
		if err != nil {
			log.Printf("issue %s: merge into %s failed, keeping canonical: %v", issue.ID.Hex(), match.ID.Hex(), err)
		} else {
			e.notifier.Broadcast(ctx, NewEvent(EventNewIssue, issue.ID, map[string]interface{}{
				"mergedInto": match.ID.Hex(),
			}))
			return &IntakeResult{Issue: res.Duplicate, MergedInto: &match.ID}, nil
		}
	}

	updated, err := e.mutateIssue(ctx, issue.ID, func(iss *models.Issue) error {
		priority, reasons := e.ComputePriority(ctx, iss)
		iss.Priority = priority
		iss.PriorityReasons = reasons
		return nil
	})
	if err != nil {
		log.Printf("issue %s: initial priority computation failed: %v", issue.ID.Hex(), err)
		updated = issue
	}

	e.notifier.Broadcast(ctx, NewEvent(EventNewIssue, updated.ID, map[string]interface{}{
		"category": string(updated.Category),
		"priority": string(updated.Priority),
	}))
	return &IntakeResult{Issue: updated}, nil
}

// ToggleVote casts or retracts a vote on the canonical record behind id
// (votes addressed to a duplicate land on its canonical). Returns the updated
// canonical issue and whether the user now holds a vote. Priority is
// recomputed in the same atomic mutation; a resulting level change is
// broadcast.
func (e *Engine) ToggleVote(ctx context.Context, id, user primitive.ObjectID) (*models.Issue, bool, error) {
	canonical, err := e.ResolveCanonical(ctx, id)
	if err != nil {
		return nil, false, err
	}

	var voted bool
	var before models.IssuePriority
	updated, err := e.mutateIssue(ctx, canonical.ID, func(iss *models.Issue) error {
		before = iss.Priority
		if iss.HasVoter(user) {
			voters := iss.Voters[:0]
			for _, v := range iss.Voters {
				if v != user {
					voters = append(voters, v)
				}
			}
			iss.Voters = voters
			if iss.Votes > 0 {
				iss.Votes--
			}
			voted = false
		} else {
			iss.Voters = append(iss.Voters, user)
			iss.Votes++
			voted = true
		}

		priority, reasons := e.ComputePriority(ctx, iss)
		iss.Priority = priority
		iss.PriorityReasons = reasons
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if updated.Priority != before {
		e.notifier.Broadcast(ctx, NewEvent(EventPriorityUpdated, updated.ID, map[string]interface{}{
			"priority": string(updated.Priority),
			"reasons":  updated.PriorityReasons,
		}))
	}
	return updated, voted, nil
}
