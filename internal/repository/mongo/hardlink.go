package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/1morr/anidown/internal/domain"
)

func torrentHashIndex() bson.D {
	return bson.D{{Key: "torrentHash", Value: 1}}
}

type hardlinkDoc struct {
	ID               string `bson:"_id,omitempty"`
	TorrentHash      string `bson:"torrentHash"`
	AnimeID          string `bson:"animeId"`
	OriginalFilePath string `bson:"originalFilePath"`
	HardlinkPath     string `bson:"hardlinkPath"`
	FileSize         int64  `bson:"fileSize"`
	CreatedAt        int64  `bson:"createdAt"`
}

// HardlinkRepository implements ports.HardlinkRepository against the
// hardlinks collection.
type HardlinkRepository struct {
	collection *mongo.Collection
}

func NewHardlinkRepository(db *mongo.Database) *HardlinkRepository {
	return &HardlinkRepository{collection: db.Collection(CollHardlinks)}
}

func (r *HardlinkRepository) Exists(ctx context.Context, torrentHash, sourcePath, targetPath string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{
		"torrentHash":      torrentHash,
		"originalFilePath": sourcePath,
		"hardlinkPath":     targetPath,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *HardlinkRepository) Insert(ctx context.Context, h domain.Hardlink) error {
	doc := hardlinkDoc{
		TorrentHash:      h.TorrentHash,
		AnimeID:          h.AnimeID,
		OriginalFilePath: h.OriginalFilePath,
		HardlinkPath:     h.HardlinkPath,
		FileSize:         h.FileSize,
		CreatedAt:        h.CreatedAt.UTC().Unix(),
	}
	_, err := r.collection.InsertOne(ctx, doc)
	return err
}

func (r *HardlinkRepository) ListByTorrent(ctx context.Context, torrentHash string) ([]domain.Hardlink, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"torrentHash": torrentHash})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []hardlinkDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	rows := make([]domain.Hardlink, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, domain.Hardlink{
			ID:               d.ID,
			TorrentHash:      d.TorrentHash,
			AnimeID:          d.AnimeID,
			OriginalFilePath: d.OriginalFilePath,
			HardlinkPath:     d.HardlinkPath,
			FileSize:         d.FileSize,
			CreatedAt:        time.Unix(d.CreatedAt, 0).UTC(),
		})
	}
	return rows, nil
}

func (r *HardlinkRepository) DeleteByTorrent(ctx context.Context, torrentHash string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"torrentHash": torrentHash})
	return err
}
