package services

import (
	"context"
	"time"

	"civicwatch-be/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// earthRadiusMeters is the WGS84 equatorial radius. MongoDB's $centerSphere
// takes radians, so radius queries divide by this.
const earthRadiusMeters = 6378137.0

// MongoIssueStore implements IssueStore on a MongoDB collection with a
// 2dsphere index on the location field.
type MongoIssueStore struct {
	col *mongo.Collection
}

func NewMongoIssueStore(col *mongo.Collection) *MongoIssueStore {
	return &MongoIssueStore{col: col}
}

// canonicalFilter matches issues that have not been merged away.
func canonicalFilter() bson.M {
	return bson.M{"mergedInto": bson.M{"$exists": false}}
}

func (s *MongoIssueStore) Insert(ctx context.Context, issue *models.Issue) error {
	if issue.Version == 0 {
		issue.Version = 1
	}
	_, err := s.col.InsertOne(ctx, issue)
	return err
}

func (s *MongoIssueStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&issue)
	if err == mongo.ErrNoDocuments {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *MongoIssueStore) Replace(ctx context.Context, issue *models.Issue) error {
	prev := issue.Version
	issue.Version = prev + 1
	issue.UpdatedAt = time.Now()

	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": issue.ID, "version": prev}, issue)
	if err != nil {
		issue.Version = prev
		return err
	}
	if res.MatchedCount == 0 {
		issue.Version = prev
		// Distinguish a lost race from a missing document.
		count, cerr := s.col.CountDocuments(ctx, bson.M{"_id": issue.ID})
		if cerr == nil && count == 0 {
			return ErrIssueNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *MongoIssueStore) FindCanonicalNear(ctx context.Context, category models.IssueCategory, lng, lat, radiusMeters float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error) {
	// $geoWithin + $centerSphere instead of $nearSphere: it composes with an
	// explicit createdAt sort, which is what makes the oldest candidate win.
	filter := canonicalFilter()
	filter["category"] = category
	filter["location"] = bson.M{
		"$geoWithin": bson.M{
			"$centerSphere": []interface{}{
				[]float64{lng, lat},
				radiusMeters / earthRadiusMeters,
			},
		},
	}
	if exclude != nil {
		filter["_id"] = bson.M{"$ne": *exclude}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *MongoIssueStore) FindCanonicalInBox(ctx context.Context, category models.IssueCategory, minLng, maxLng, minLat, maxLat float64, limit int64, exclude *primitive.ObjectID) ([]models.Issue, error) {
	// Raw coordinate range filter; works with no spatial index at all.
	filter := canonicalFilter()
	filter["category"] = category
	filter["location.coordinates.0"] = bson.M{"$gte": minLng, "$lte": maxLng}
	filter["location.coordinates.1"] = bson.M{"$gte": minLat, "$lte": maxLat}
	if exclude != nil {
		filter["_id"] = bson.M{"$ne": *exclude}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(limit)

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *MongoIssueStore) FindCanonicalSince(ctx context.Context, cutoff time.Time, category *models.IssueCategory, cap int64) ([]models.Issue, error) {
	filter := canonicalFilter()
	filter["createdAt"] = bson.M{"$gte": cutoff}
	if category != nil {
		filter["category"] = *category
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(cap)

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *MongoIssueStore) SyncDuplicateStatus(ctx context.Context, duplicateIDs []primitive.ObjectID, status models.IssueStatus, entry models.StatusHistoryEntry) error {
	if len(duplicateIDs) == 0 {
		return nil
	}
	_, err := s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": duplicateIDs}},
		bson.M{
			"$set":  bson.M{"status": status, "updatedAt": time.Now()},
			"$push": bson.M{"statusHistory": entry},
			"$inc":  bson.M{"version": 1},
		},
	)
	return err
}

// MigrateLegacyReporters converts issues whose reporters field is still a raw
// array of user ids into structured reporter entries. One-time offline
// migration; the original reporter comes out with consent granted, everyone
// else undecided. Returns the number of issues rewritten.
func (s *MongoIssueStore) MigrateLegacyReporters(ctx context.Context) (int64, error) {
	type legacyIssue struct {
		ID         primitive.ObjectID   `bson:"_id"`
		ReportedBy primitive.ObjectID   `bson:"reportedBy"`
		Reporters  []primitive.ObjectID `bson:"reporters"`
	}

	cursor, err := s.col.Find(ctx, bson.M{"reporters.0": bson.M{"$type": "objectId"}})
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var legacy []legacyIssue
	if err := cursor.All(ctx, &legacy); err != nil {
		return 0, err
	}

	var migrated int64
	for _, li := range legacy {
		now := time.Now()
		reporters := make([]models.Reporter, 0, len(li.Reporters))
		seen := map[primitive.ObjectID]bool{}
		for _, user := range li.Reporters {
			if seen[user] {
				continue
			}
			seen[user] = true
			entry := models.Reporter{User: user, JoinedAt: now}
			if user == li.ReportedBy {
				consent := true
				entry.Consent = &consent
			}
			reporters = append(reporters, entry)
		}
		if !seen[li.ReportedBy] {
			consent := true
			reporters = append([]models.Reporter{{User: li.ReportedBy, Consent: &consent, JoinedAt: now}}, reporters...)
		}

		_, err := s.col.UpdateOne(ctx,
			bson.M{"_id": li.ID},
			bson.M{
				"$set": bson.M{"reporters": reporters, "updatedAt": now},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}
