package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/1morr/anidown/internal/domain"
)

func historyIDIndex() bson.D {
	return bson.D{{Key: "historyId", Value: 1}}
}

type rssHistoryDoc struct {
	ID             string `bson:"_id"`
	RSSURL         string `bson:"rssUrl"`
	TriggeredBy    string `bson:"triggeredBy"`
	StartedAt      int64  `bson:"startedAt"`
	Status         string `bson:"status"`
	ItemsFound     int    `bson:"itemsFound"`
	ItemsAttempted int    `bson:"itemsAttempted"`
	ItemsProcessed int    `bson:"itemsProcessed"`
}

type rssHistoryDetailDoc struct {
	HistoryID string `bson:"historyId"`
	ItemTitle string `bson:"itemTitle"`
	Outcome   string `bson:"outcome"`
	Reason    string `bson:"reason"`
}

// RSSHistoryRepository implements ports.RSSHistoryRepository against the
// rss_processing_history and rss_processing_detail collections.
type RSSHistoryRepository struct {
	history *mongo.Collection
	detail  *mongo.Collection
	now     func() time.Time
}

func NewRSSHistoryRepository(db *mongo.Database) *RSSHistoryRepository {
	return &RSSHistoryRepository{
		history: db.Collection(CollRSSHistory),
		detail:  db.Collection(CollRSSDetail),
		now:     time.Now,
	}
}

func (r *RSSHistoryRepository) CreateHistory(ctx context.Context, h domain.RSSHistory) (string, error) {
	id := h.ID
	if id == "" {
		id = uuid.New().String()
	}
	doc := rssHistoryDoc{
		ID:             id,
		RSSURL:         h.RSSURL,
		TriggeredBy:    string(h.TriggeredBy),
		StartedAt:      r.now().UTC().Unix(),
		Status:         string(h.Status),
		ItemsFound:     h.ItemsFound,
		ItemsAttempted: h.ItemsAttempted,
		ItemsProcessed: h.ItemsProcessed,
	}
	if _, err := r.history.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (r *RSSHistoryRepository) UpdateHistoryStatus(ctx context.Context, id string, status domain.RSSHistoryStatus, itemsProcessed int) error {
	_, err := r.history.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":         string(status),
		"itemsProcessed": itemsProcessed,
	}})
	return err
}

func (r *RSSHistoryRepository) IncrementProcessed(ctx context.Context, id string) error {
	_, err := r.history.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"itemsProcessed": 1}})
	return err
}

func (r *RSSHistoryRepository) AddDetail(ctx context.Context, d domain.RSSHistoryDetail) error {
	doc := rssHistoryDetailDoc{
		HistoryID: d.HistoryID,
		ItemTitle: d.ItemTitle,
		Outcome:   string(d.Outcome),
		Reason:    d.Reason,
	}
	_, err := r.detail.InsertOne(ctx, doc)
	return err
}
