package models

import (
	"context"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IssueCategory enum
type IssueCategory string

const (
	RoadDamage        IssueCategory = "Road Damage"
	WaterSupply       IssueCategory = "Water Supply"
	SewageDrainage    IssueCategory = "Sewage & Drainage"
	GarbageCollection IssueCategory = "Garbage Collection"
	StreetLighting    IssueCategory = "Street Lighting"
	Electricity       IssueCategory = "Electricity"
	PublicSafety      IssueCategory = "Public Safety"
	ParksTrees        IssueCategory = "Parks & Trees"
	StrayAnimals      IssueCategory = "Stray Animals"
	Noise             IssueCategory = "Noise"
	Other             IssueCategory = "Other"
)

// Categories lists every valid issue category.
var Categories = []IssueCategory{
	RoadDamage, WaterSupply, SewageDrainage, GarbageCollection,
	StreetLighting, Electricity, PublicSafety, ParksTrees,
	StrayAnimals, Noise, Other,
}

// ValidCategory reports whether s is one of the fixed categories.
func ValidCategory(s string) bool {
	for _, c := range Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// IssueStatus enum
type IssueStatus string

const (
	Pending      IssueStatus = "Pending"
	Acknowledged IssueStatus = "Acknowledged"
	Assigned     IssueStatus = "Assigned"
	InProgress   IssueStatus = "In Progress"
	Resolved     IssueStatus = "Resolved"
	Rejected     IssueStatus = "Rejected"
	Closed       IssueStatus = "Closed"
)

// ValidStatus reports whether s is one of the issue statuses.
func ValidStatus(s string) bool {
	switch IssueStatus(s) {
	case Pending, Acknowledged, Assigned, InProgress, Resolved, Rejected, Closed:
		return true
	}
	return false
}

// IssuePriority enum
type IssuePriority string

const (
	PriorityLow    IssuePriority = "Low"
	PriorityMedium IssuePriority = "Medium"
	PriorityHigh   IssuePriority = "High"
	PriorityUrgent IssuePriority = "Urgent"
)

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

// NewGeoPoint builds a GeoJSON point from a longitude/latitude pair.
func NewGeoPoint(lng, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

// Valid reports whether the point has exactly two finite coordinates.
func (p GeoPoint) Valid() bool {
	if len(p.Coordinates) != 2 {
		return false
	}
	for _, c := range p.Coordinates {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (p GeoPoint) Longitude() float64 { return p.Coordinates[0] }
func (p GeoPoint) Latitude() float64  { return p.Coordinates[1] }

// Reporter associates a user with a canonical issue. Consent is nil until the
// user accepts or declines joining the shared discussion.
type Reporter struct {
	User     primitive.ObjectID `bson:"user" json:"user"`
	Consent  *bool              `bson:"consent" json:"consent"`
	JoinedAt time.Time          `bson:"joinedAt" json:"joinedAt"`
}

// StatusHistoryEntry is an append-only record of a status transition.
// SyncedFrom is set when the entry was mirrored from a canonical issue onto
// one of its duplicates.
type StatusHistoryEntry struct {
	Status     IssueStatus         `bson:"status" json:"status"`
	UpdatedBy  primitive.ObjectID  `bson:"updatedBy" json:"updatedBy"`
	Comment    string              `bson:"comment,omitempty" json:"comment,omitempty"`
	SyncedFrom *primitive.ObjectID `bson:"syncedFrom,omitempty" json:"syncedFrom,omitempty"`
	Timestamp  time.Time           `bson:"timestamp" json:"timestamp"`
}

// Notification is a per-user-visible record of an issue event.
type Notification struct {
	Type      string             `bson:"type" json:"type"`
	User      primitive.ObjectID `bson:"user" json:"user"`
	Message   string             `bson:"message" json:"message"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Issue represents a civic issue reported by a user.
//
// An issue without MergedInto is canonical: the single authoritative record
// for a real-world incident. Setting MergedInto marks it a duplicate of a
// canonical issue; that transition happens at most once and never reverses.
// MergedInto always points at a canonical issue, never at another duplicate.
type Issue struct {
	ID              primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title           string               `bson:"title" json:"title"`
	Description     string               `bson:"description" json:"description"`
	Category        IssueCategory        `bson:"category" json:"category"`
	Location        GeoPoint             `bson:"location" json:"location"`
	Address         string               `bson:"address" json:"address"`
	Status          IssueStatus          `bson:"status" json:"status"`
	Votes           int                  `bson:"votes" json:"votes"`
	Voters          []primitive.ObjectID `bson:"voters" json:"voters"`
	Priority        IssuePriority        `bson:"priority" json:"priority"`
	PriorityAuto    bool                 `bson:"priorityAuto" json:"priorityAuto"`
	PriorityReasons []string             `bson:"priorityReasons" json:"priorityReasons"`
	MergedInto      *primitive.ObjectID  `bson:"mergedInto,omitempty" json:"mergedInto,omitempty"`
	Duplicates      []primitive.ObjectID `bson:"duplicates" json:"duplicates"`
	Reporters       []Reporter           `bson:"reporters" json:"reporters"`
	ReportedBy      primitive.ObjectID   `bson:"reportedBy" json:"reportedBy"`
	Images          []string             `bson:"images" json:"images"`
	ThumbnailImage  *string              `bson:"thumbnailImage,omitempty" json:"thumbnailImage,omitempty"`
	StatusHistory   []StatusHistoryEntry `bson:"statusHistory" json:"statusHistory"`
	Notifications   []Notification       `bson:"notifications" json:"notifications"`
	Version         int64                `bson:"version" json:"-"`
	CreatedAt       time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// NewIssue builds a fresh canonical issue. The creator is always reporters[0]
// with consent already granted; their implicit vote is counted in Votes but
// they are not added to Voters.
func NewIssue(title, description string, category IssueCategory, lng, lat float64, address string, images []string, reportedBy primitive.ObjectID) *Issue {
	now := time.Now()
	consent := true
	return &Issue{
		ID:           primitive.NewObjectID(),
		Title:        title,
		Description:  description,
		Category:     category,
		Location:     NewGeoPoint(lng, lat),
		Address:      address,
		Status:       Pending,
		Votes:        1,
		Voters:       []primitive.ObjectID{},
		Priority:     PriorityLow,
		PriorityAuto: true,
		Duplicates:   []primitive.ObjectID{},
		Reporters: []Reporter{{
			User:     reportedBy,
			Consent:  &consent,
			JoinedAt: now,
		}},
		ReportedBy: reportedBy,
		Images:     images,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsCanonical reports whether the issue is the authoritative record rather
// than a duplicate of another issue.
func (i *Issue) IsCanonical() bool {
	return i.MergedInto == nil
}

// FindReporter returns the reporter entry for the given user, or nil.
func (i *Issue) FindReporter(user primitive.ObjectID) *Reporter {
	for idx := range i.Reporters {
		if i.Reporters[idx].User == user {
			return &i.Reporters[idx]
		}
	}
	return nil
}

// HasVoter reports whether the given user is in the voter set.
func (i *Issue) HasVoter(user primitive.ObjectID) bool {
	for _, v := range i.Voters {
		if v == user {
			return true
		}
	}
	return false
}

// HasDuplicate reports whether id is already in the duplicates list.
func (i *Issue) HasDuplicate(id primitive.ObjectID) bool {
	for _, d := range i.Duplicates {
		if d == id {
			return true
		}
	}
	return false
}

// EnsureIssueIndexes creates the indexes the dedup engine relies on: a
// 2dsphere index for radius queries and a compound index for the
// category + creation-order scans.
func EnsureIssueIndexes(collection *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "location", Value: "2dsphere"}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "mergedInto", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
