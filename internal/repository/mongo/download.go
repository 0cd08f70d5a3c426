package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
)

type downloadDoc struct {
	ID                string `bson:"_id"` // hashID
	OriginalFilename  string `bson:"originalFilename"`
	AnimeID           string `bson:"animeId,omitempty"`
	Status            string `bson:"status"`
	DownloadDirectory string `bson:"downloadDirectory,omitempty"`
	CreatedAt         int64  `bson:"createdAt"`
	CompletedAt       int64  `bson:"completedAt,omitempty"`
	Deleted           bool   `bson:"deleted"`
}

// DownloadRepository implements ports.DownloadRepository against the
// download_status collection, keyed directly by torrent hash so existence
// and dedup checks are a single point lookup.
type DownloadRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewDownloadRepository(db *mongo.Database) *DownloadRepository {
	return &DownloadRepository{collection: db.Collection(CollDownloadStatus), now: time.Now}
}

func (r *DownloadRepository) ExistsLiveOrDeleted(ctx context.Context, hashID string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": hashID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DownloadRepository) Create(ctx context.Context, rec domain.DownloadRecord) error {
	doc := downloadDoc{
		ID:                rec.HashID,
		OriginalFilename:  rec.OriginalFilename,
		Status:            string(rec.Status),
		DownloadDirectory: rec.DownloadDirectory,
		CreatedAt:         r.now().UTC().Unix(),
	}
	if rec.AnimeID != nil {
		doc.AnimeID = *rec.AnimeID
	}
	_, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.New(apperr.KindDuplicate, "download record already exists", apperr.Ctx{"hash_id": rec.HashID})
	}
	return err
}

func (r *DownloadRepository) Get(ctx context.Context, hashID string) (domain.DownloadRecord, bool, error) {
	var doc downloadDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": hashID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.DownloadRecord{}, false, nil
		}
		return domain.DownloadRecord{}, false, err
	}
	return fromDownloadDoc(doc), true, nil
}

func (r *DownloadRepository) UpdateStatus(ctx context.Context, hashID string, status domain.DownloadStatus) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": hashID}, bson.M{"$set": bson.M{"status": string(status)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.KindNotFound, "download record not found", apperr.Ctx{"hash_id": hashID})
	}
	return nil
}

func (r *DownloadRepository) MarkCompleted(ctx context.Context, hashID string, completedAt time.Time) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": hashID}, bson.M{"$set": bson.M{"completedAt": completedAt.UTC().Unix()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.KindNotFound, "download record not found", apperr.Ctx{"hash_id": hashID})
	}
	return nil
}

func fromDownloadDoc(d downloadDoc) domain.DownloadRecord {
	rec := domain.DownloadRecord{
		HashID:            d.ID,
		OriginalFilename:  d.OriginalFilename,
		Status:            domain.DownloadStatus(d.Status),
		DownloadDirectory: d.DownloadDirectory,
		CreatedAt:         time.Unix(d.CreatedAt, 0).UTC(),
	}
	if d.AnimeID != "" {
		id := d.AnimeID
		rec.AnimeID = &id
	}
	if d.CompletedAt > 0 {
		t := time.Unix(d.CompletedAt, 0).UTC()
		rec.CompletedAt = &t
	}
	return rec
}
