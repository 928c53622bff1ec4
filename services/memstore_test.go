package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"civicwatch-be/config"
	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errSpatialQuery = errors.New("spatial query failed")

// memStore is an in-memory IssueStore used by the engine tests. The failure
// toggles simulate the two spatial-query pathologies the finder must survive:
// an erroring primary tier and a silently empty one.
type memStore struct {
	mu     sync.Mutex
	issues map[primitive.ObjectID]*models.Issue

	failNear  bool // primary tier errors
	emptyNear bool // primary tier silently returns nothing
	failBox   bool // fallback tier errors
}

func newMemStore() *memStore {
	return &memStore{issues: map[primitive.ObjectID]*models.Issue{}}
}

func cloneIssue(i *models.Issue) *models.Issue {
	c := *i
	c.Location.Coordinates = append([]float64(nil), i.Location.Coordinates...)
	c.Voters = append([]primitive.ObjectID(nil), i.Voters...)
	c.Duplicates = append([]primitive.ObjectID(nil), i.Duplicates...)
	c.Reporters = append([]models.Reporter(nil), i.Reporters...)
	c.Images = append([]string(nil), i.Images...)
	c.PriorityReasons = append([]string(nil), i.PriorityReasons...)
	c.StatusHistory = append([]models.StatusHistoryEntry(nil), i.StatusHistory...)
	c.Notifications = append([]models.Notification(nil), i.Notifications...)
	return &c
}

func (s *memStore) Insert(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.Version == 0 {
		issue.Version = 1
	}
	s.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (s *memStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[id]
	if !ok {
		return nil, ErrIssueNotFound
	}
	return cloneIssue(issue), nil
}

func (s *memStore) Replace(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.issues[issue.ID]
	if !ok {
		return ErrIssueNotFound
	}
	if stored.Version != issue.Version {
		return ErrVersionConflict
	}
	issue.Version++
	issue.UpdatedAt = time.Now()
	s.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (s *memStore) canonicalSorted(category *models.IssueCategory, exclude *primitive.ObjectID) []*models.Issue {
	var out []*models.Issue
	for _, issue := range s.issues {
		if issue.MergedInto != nil {
			continue
		}
		if category != nil && issue.Category != *category {
			continue
		}
		if exclude != nil && issue.ID == *exclude {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memStore) FindCanonicalNear(ctx context.Context, category models.IssueCategory, lng, lat, radiusMeters float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNear {
		return nil, errSpatialQuery
	}
	if s.emptyNear {
		return nil, nil
	}

	var out []models.Issue
	for _, issue := range s.canonicalSorted(&category, exclude) {
		if !issue.Location.Valid() {
			continue
		}
		if HaversineMeters(lng, lat, issue.Location.Longitude(), issue.Location.Latitude()) <= radiusMeters {
			out = append(out, *cloneIssue(issue))
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) FindCanonicalInBox(ctx context.Context, category models.IssueCategory, minLng, maxLng, minLat, maxLat float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBox {
		return nil, errSpatialQuery
	}

	var out []models.Issue
	for _, issue := range s.canonicalSorted(&category, exclude) {
		if !issue.Location.Valid() {
			continue
		}
		lng, lat := issue.Location.Longitude(), issue.Location.Latitude()
		if lng < minLng || lng > maxLng || lat < minLat || lat > maxLat {
			continue
		}
		out = append(out, *cloneIssue(issue))
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) FindCanonicalSince(ctx context.Context, cutoff time.Time, category *models.IssueCategory, cap int64) ([]models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Issue
	for _, issue := range s.canonicalSorted(category, nil) {
		if issue.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *cloneIssue(issue))
		if int64(len(out)) >= cap {
			break
		}
	}
	return out, nil
}

func (s *memStore) SyncDuplicateStatus(ctx context.Context, duplicateIDs []primitive.ObjectID, status models.IssueStatus, entry models.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range duplicateIDs {
		issue, ok := s.issues[id]
		if !ok {
			continue
		}
		issue.Status = status
		issue.StatusHistory = append(issue.StatusHistory, entry)
		issue.Version++
	}
	return nil
}

// recordingNotifier captures events so tests can assert on emission without
// a Redis instance.
type recordingNotifier struct {
	mu         sync.Mutex
	broadcasts []Event
	userEvents map[primitive.ObjectID][]Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{userEvents: map[primitive.ObjectID][]Event{}}
}

func (n *recordingNotifier) Broadcast(ctx context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
}

func (n *recordingNotifier) NotifyUser(ctx context.Context, user primitive.ObjectID, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userEvents[user] = append(n.userEvents[user], event)
}

func (n *recordingNotifier) broadcastTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var types []string
	for _, e := range n.broadcasts {
		types = append(types, e.Type)
	}
	return types
}

func newTestEngine() (*Engine, *memStore, *recordingNotifier) {
	store := newMemStore()
	notifier := newRecordingNotifier()
	return NewEngine(store, notifier, config.DefaultEngineConfig()), store, notifier
}

// seedIssue creates and stores a canonical issue at the given point with a
// fixed creation time.
func seedIssue(store *memStore, category models.IssueCategory, lng, lat float64, reportedBy primitive.ObjectID, createdAt time.Time) *models.Issue {
	issue := models.NewIssue("test issue", "a test issue", category, lng, lat, "somewhere", nil, reportedBy)
	issue.CreatedAt = createdAt
	_ = store.Insert(context.Background(), issue)
	return issue
}
