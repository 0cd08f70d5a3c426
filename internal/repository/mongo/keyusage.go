package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/1morr/anidown/internal/domain"
)

func purposeKeyIDIndex() bson.D {
	return bson.D{
		{Key: "purpose", Value: 1},
		{Key: "keyId", Value: 1},
	}
}

type keyUsageDoc struct {
	Purpose               string  `bson:"purpose"`
	KeyID                 string  `bson:"keyId"`
	RPMCounter            int     `bson:"rpmCounter"`
	RPMWindowStart        int64   `bson:"rpmWindowStart"`
	RPDCounter            int     `bson:"rpdCounter"`
	RPDUTCDate            string  `bson:"rpdUtcDate"`
	ConsecutiveErrorCount int     `bson:"consecutiveErrorCount"`
	LastErrorSummary      string  `bson:"lastErrorSummary"`
	LastErrorKind         string  `bson:"lastErrorKind"`
	LastSuccessTime       int64   `bson:"lastSuccessTime"`
	CooldownUntil         int64   `bson:"cooldownUntil"`
	CooldownTier          string  `bson:"cooldownTier"`
	Disabled              bool    `bson:"disabled"`
	DisableReason         string  `bson:"disableReason"`
	DisabledAt            int64   `bson:"disabledAt"`
	ErrorTimestamps       []int64 `bson:"errorTimestamps"`
}

// KeyUsageRepository implements ports.KeyUsageRepository against the
// ai_key_usage collection, so a restart does not silently re-admit a key
// mid-cooldown.
type KeyUsageRepository struct {
	collection *mongo.Collection
}

func NewKeyUsageRepository(db *mongo.Database) *KeyUsageRepository {
	return &KeyUsageRepository{collection: db.Collection(CollKeyUsage)}
}

func (r *KeyUsageRepository) Load(ctx context.Context, purpose string) (map[string]domain.KeyUsage, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"purpose": purpose})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []keyUsageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]domain.KeyUsage, len(docs))
	for _, d := range docs {
		out[d.KeyID] = fromKeyUsageDoc(d)
	}
	return out, nil
}

func (r *KeyUsageRepository) Save(ctx context.Context, purpose, keyID string, usage domain.KeyUsage) error {
	doc := toKeyUsageDoc(purpose, keyID, usage)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"purpose": purpose, "keyId": keyID}, doc, options.Replace().SetUpsert(true))
	return err
}

func toKeyUsageDoc(purpose, keyID string, u domain.KeyUsage) keyUsageDoc {
	ts := make([]int64, 0, len(u.ErrorTimestamps))
	for _, t := range u.ErrorTimestamps {
		ts = append(ts, t.UTC().Unix())
	}
	return keyUsageDoc{
		Purpose:               purpose,
		KeyID:                 keyID,
		RPMCounter:            u.RPMCounter,
		RPMWindowStart:        unixOrZero(u.RPMWindowStart),
		RPDCounter:            u.RPDCounter,
		RPDUTCDate:            u.RPDUTCDate,
		ConsecutiveErrorCount: u.ConsecutiveErrorCount,
		LastErrorSummary:      u.LastErrorSummary,
		LastErrorKind:         string(u.LastErrorKind),
		LastSuccessTime:       unixOrZero(u.LastSuccessTime),
		CooldownUntil:         unixOrZero(u.CooldownUntil),
		CooldownTier:          string(u.CooldownTier),
		Disabled:              u.Disabled,
		DisableReason:         u.DisableReason,
		DisabledAt:            unixOrZero(u.DisabledAt),
		ErrorTimestamps:       ts,
	}
}

func fromKeyUsageDoc(d keyUsageDoc) domain.KeyUsage {
	ts := make([]time.Time, 0, len(d.ErrorTimestamps))
	for _, s := range d.ErrorTimestamps {
		ts = append(ts, time.Unix(s, 0).UTC())
	}
	return domain.KeyUsage{
		RPMCounter:            d.RPMCounter,
		RPMWindowStart:        timeOrZero(d.RPMWindowStart),
		RPDCounter:            d.RPDCounter,
		RPDUTCDate:            d.RPDUTCDate,
		ConsecutiveErrorCount: d.ConsecutiveErrorCount,
		LastErrorSummary:      d.LastErrorSummary,
		LastErrorKind:         domain.ErrorKind(d.LastErrorKind),
		LastSuccessTime:       timeOrZero(d.LastSuccessTime),
		CooldownUntil:         timeOrZero(d.CooldownUntil),
		CooldownTier:          domain.CooldownTier(d.CooldownTier),
		Disabled:              d.Disabled,
		DisableReason:         d.DisableReason,
		DisabledAt:            timeOrZero(d.DisabledAt),
		ErrorTimestamps:       ts,
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}

func timeOrZero(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}
