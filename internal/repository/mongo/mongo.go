// Package mongo implements the persistence ports (AnimeRepository,
// DownloadRepository, HardlinkRepository, RSSHistoryRepository,
// KeyUsageRepository) against go.mongodb.org/mongo-driver, one collection
// per repository, following the Collection-wrapper-plus-bson-doc shape the
// rest of this stack uses for its own Mongo repositories.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database names the collections this package owns, grouped under one
// logical database so every repository shares a single *mongo.Client.
const (
	CollAnimeInfo      = "anime_info"
	CollAnimePatterns  = "anime_patterns"
	CollDownloadStatus = "download_status"
	CollHardlinks      = "hardlinks"
	CollRSSHistory     = "rss_processing_history"
	CollRSSDetail      = "rss_processing_detail"
	CollKeyUsage       = "ai_key_usage"
)

// Connect dials a mongo.Client against uri, layering in any caller-supplied
// options (e.g. an otelmongo command monitor) ahead of the URI itself.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// EnsureIndexes builds every index this package's repositories rely on. It
// is idempotent and meant to run once at startup after Connect.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		CollAnimeInfo: {
			{Keys: animeKeyIndex()},
		},
		CollHardlinks: {
			{Keys: torrentHashIndex()},
		},
		CollRSSDetail: {
			{Keys: historyIDIndex()},
		},
		CollKeyUsage: {
			{Keys: purposeKeyIDIndex(), Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}
