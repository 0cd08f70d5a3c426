package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/1morr/anidown/internal/apperr"
	"github.com/1morr/anidown/internal/domain"
)

func animeKeyIndex() bson.D {
	return bson.D{
		{Key: "cleanTitle", Value: 1},
		{Key: "season", Value: 1},
		{Key: "subtitleGroup", Value: 1},
		{Key: "category", Value: 1},
	}
}

type animeDoc struct {
	ID            string    `bson:"_id"`
	CleanTitle    string    `bson:"cleanTitle"`
	ShortTitle    string    `bson:"shortTitle"`
	FullTitle     string    `bson:"fullTitle"`
	SubtitleGroup string    `bson:"subtitleGroup"`
	Season        int       `bson:"season"`
	Category      string    `bson:"category"`
	MediaType     string    `bson:"mediaType"`
	CreatedAt     int64     `bson:"createdAt"`
	TVDBID        *int64    `bson:"tvdbId,omitempty"`
}

type animePatternsDoc struct {
	AnimeID            string `bson:"_id"`
	SubtitleGroupRegex string `bson:"subtitleGroupRegex"`
	FullTitleRegex     string `bson:"fullTitleRegex"`
	CleanTitleRegex    string `bson:"cleanTitleRegex"`
	EpisodeRegex       string `bson:"episodeRegex"`
	SpecialTagRegex    string `bson:"specialTagRegex"`
	QualityRegex       string `bson:"qualityRegex"`
	PlatformRegex      string `bson:"platformRegex"`
	SourceRegex        string `bson:"sourceRegex"`
	CodecRegex         string `bson:"codecRegex"`
	SubtitleTypeRegex  string `bson:"subtitleTypeRegex"`
	FormatRegex        string `bson:"formatRegex"`
}

// AnimeRepository implements ports.AnimeRepository against the anime_info
// and anime_patterns collections.
type AnimeRepository struct {
	animes   *mongo.Collection
	patterns *mongo.Collection
	now      func() time.Time
}

func NewAnimeRepository(db *mongo.Database) *AnimeRepository {
	return &AnimeRepository{
		animes:   db.Collection(CollAnimeInfo),
		patterns: db.Collection(CollAnimePatterns),
		now:      time.Now,
	}
}

func (r *AnimeRepository) FindByKey(ctx context.Context, cleanTitle string, season int, subtitleGroup string, category domain.Category) (domain.Anime, bool, error) {
	var doc animeDoc
	filter := bson.M{
		"cleanTitle":    cleanTitle,
		"season":        season,
		"subtitleGroup": subtitleGroup,
		"category":      string(category),
	}
	if err := r.animes.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Anime{}, false, nil
		}
		return domain.Anime{}, false, err
	}
	return fromAnimeDoc(doc), true, nil
}

func (r *AnimeRepository) GetByID(ctx context.Context, animeID string) (domain.Anime, bool, error) {
	var doc animeDoc
	if err := r.animes.FindOne(ctx, bson.M{"_id": animeID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Anime{}, false, nil
		}
		return domain.Anime{}, false, err
	}
	return fromAnimeDoc(doc), true, nil
}

func (r *AnimeRepository) Create(ctx context.Context, a domain.Anime) error {
	doc := animeDoc{
		ID:            a.AnimeID,
		CleanTitle:    a.ShortTitle,
		ShortTitle:    a.ShortTitle,
		FullTitle:     a.FullTitle,
		SubtitleGroup: a.SubtitleGroup,
		Season:        a.Season,
		Category:      string(a.Category),
		MediaType:     string(a.MediaType),
		CreatedAt:     r.now().UTC().Unix(),
		TVDBID:        a.TVDBID,
	}
	_, err := r.animes.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.New(apperr.KindDuplicate, "anime already exists", apperr.Ctx{"anime_id": a.AnimeID})
	}
	return err
}

func (r *AnimeRepository) GetPatterns(ctx context.Context, animeID string) (domain.AnimePatterns, bool, error) {
	var doc animePatternsDoc
	if err := r.patterns.FindOne(ctx, bson.M{"_id": animeID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.AnimePatterns{}, false, nil
		}
		return domain.AnimePatterns{}, false, err
	}
	return fromPatternsDoc(doc), true, nil
}

func (r *AnimeRepository) SavePatterns(ctx context.Context, p domain.AnimePatterns) error {
	doc := toPatternsDoc(p)
	_, err := r.patterns.ReplaceOne(ctx, bson.M{"_id": p.AnimeID}, doc, options.Replace().SetUpsert(true))
	return err
}

func fromAnimeDoc(d animeDoc) domain.Anime {
	return domain.Anime{
		AnimeID:       d.ID,
		ShortTitle:    d.ShortTitle,
		FullTitle:     d.FullTitle,
		SubtitleGroup: d.SubtitleGroup,
		Season:        d.Season,
		Category:      domain.Category(d.Category),
		MediaType:     domain.MediaType(d.MediaType),
		CreatedAt:     time.Unix(d.CreatedAt, 0).UTC(),
		TVDBID:        d.TVDBID,
	}
}

func toPatternsDoc(p domain.AnimePatterns) animePatternsDoc {
	return animePatternsDoc{
		AnimeID:            p.AnimeID,
		SubtitleGroupRegex: p.SubtitleGroupRegex,
		FullTitleRegex:     p.FullTitleRegex,
		CleanTitleRegex:    p.CleanTitleRegex,
		EpisodeRegex:       p.EpisodeRegex,
		SpecialTagRegex:    p.SpecialTagRegex,
		QualityRegex:       p.QualityRegex,
		PlatformRegex:      p.PlatformRegex,
		SourceRegex:        p.SourceRegex,
		CodecRegex:         p.CodecRegex,
		SubtitleTypeRegex:  p.SubtitleTypeRegex,
		FormatRegex:        p.FormatRegex,
	}
}

func fromPatternsDoc(d animePatternsDoc) domain.AnimePatterns {
	return domain.AnimePatterns{
		AnimeID:            d.AnimeID,
		SubtitleGroupRegex: d.SubtitleGroupRegex,
		FullTitleRegex:     d.FullTitleRegex,
		CleanTitleRegex:    d.CleanTitleRegex,
		EpisodeRegex:       d.EpisodeRegex,
		SpecialTagRegex:    d.SpecialTagRegex,
		QualityRegex:       d.QualityRegex,
		PlatformRegex:      d.PlatformRegex,
		SourceRegex:        d.SourceRegex,
		CodecRegex:         d.CodecRegex,
		SubtitleTypeRegex:  d.SubtitleTypeRegex,
		FormatRegex:        d.FormatRegex,
	}
}
