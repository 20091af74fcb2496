package donors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"blood-broadcast/internal/geo"

	"github.com/redis/go-redis/v9"
)

// RedisGeoIndex is a native geospatial donor index. One GEO set per blood type
// holds only available donors with a known location; contact fields live in a
// per-donor hash. The profile subsystem keeps it current through Upsert.
// Searches use GEORADIUS ... WITHDIST ASC COUNT.
type RedisGeoIndex struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisGeoIndex(rdb redis.UniversalClient, prefix string) *RedisGeoIndex {
	if prefix == "" {
		prefix = "donors"
	}
	return &RedisGeoIndex{rdb: rdb, prefix: prefix}
}

func (x *RedisGeoIndex) geoKey(bt BloodType) string { return x.prefix + ":geo:" + string(bt) }
func (x *RedisGeoIndex) profileKey(id string) string { return x.prefix + ":profile:" + id }

// geoKeys returns the GEO sets a query for want must search.
func (x *RedisGeoIndex) geoKeys(want BloodType) []string {
	if want != BloodTypeAny {
		return []string{x.geoKey(want)}
	}
	keys := make([]string, 0, len(AllBloodTypes))
	for _, bt := range AllBloodTypes {
		keys = append(keys, x.geoKey(bt))
	}
	return keys
}

// Upsert stores p and places it in exactly one GEO set, or none when the donor
// is unavailable or has no location.
func (x *RedisGeoIndex) Upsert(ctx context.Context, p Profile) error {
	if p.ID == "" {
		return errors.New("donors: profile id required")
	}
	_, err := x.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, bt := range AllBloodTypes {
			pipe.ZRem(ctx, x.geoKey(bt), p.ID)
		}
		pipe.HSet(ctx, x.profileKey(p.ID), map[string]any{
			"full_name":  p.FullName,
			"phone":      p.Phone,
			"email":      p.Email,
			"blood_type": string(p.BloodType),
			"lng":        strconv.FormatFloat(p.Location.Lng, 'f', -1, 64),
			"lat":        strconv.FormatFloat(p.Location.Lat, 'f', -1, 64),
			"available":  strconv.FormatBool(p.Available),
		})
		if p.Available && !p.Location.IsZero() && p.Location.Valid() {
			if _, ok := ParseBloodType(string(p.BloodType)); ok {
				pipe.GeoAdd(ctx, x.geoKey(p.BloodType), &redis.GeoLocation{
					Name:      p.ID,
					Longitude: p.Location.Lng,
					Latitude:  p.Location.Lat,
				})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index donor %s: %w", p.ID, err)
	}
	return nil
}

// Remove drops the donor from every GEO set and deletes the profile hash.
func (x *RedisGeoIndex) Remove(ctx context.Context, id string) error {
	_, err := x.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, bt := range AllBloodTypes {
			pipe.ZRem(ctx, x.geoKey(bt), id)
		}
		pipe.Del(ctx, x.profileKey(id))
		return nil
	})
	return err
}

func (x *RedisGeoIndex) Profile(ctx context.Context, userID string) (Profile, error) {
	vals, err := x.rdb.HGetAll(ctx, x.profileKey(userID)).Result()
	if err != nil {
		return Profile{}, err
	}
	if len(vals) == 0 {
		return Profile{}, ErrProfileNotFound
	}
	return profileFromHash(userID, vals), nil
}

func (x *RedisGeoIndex) Locate(ctx context.Context, q Query) ([]Candidate, error) {
	q, run, err := normalize(q)
	if err != nil {
		return nil, err
	}
	if !run {
		return []Candidate{}, nil
	}

	var hits []redis.GeoLocation
	for _, key := range x.geoKeys(q.BloodType) {
		// one extra so excluding the requester cannot starve the cap
		locs, err := x.rdb.GeoRadius(ctx, key, q.Origin.Lng, q.Origin.Lat, &redis.GeoRadiusQuery{
			Radius:   q.RadiusKm,
			Unit:     "km",
			WithDist: true,
			Sort:     "ASC",
			Count:    q.Limit + 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("georadius %s: %w", key, err)
		}
		hits = append(hits, locs...)
	}
	if len(hits) == 0 {
		return []Candidate{}, nil
	}

	cmds, err := x.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hits {
			pipe.HGetAll(ctx, x.profileKey(h.Name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load donor profiles: %w", err)
	}

	in := make([]Candidate, 0, len(hits))
	for i, h := range hits {
		vals, err := cmds[i].(*redis.MapStringStringCmd).Result()
		if err != nil || len(vals) == 0 {
			// index entry without a profile hash; skip until the next Upsert repairs it
			continue
		}
		in = append(in, Candidate{Profile: profileFromHash(h.Name, vals), DistanceKm: h.Dist})
	}
	return rank(q, in), nil
}

func profileFromHash(id string, vals map[string]string) Profile {
	lng, _ := strconv.ParseFloat(vals["lng"], 64)
	lat, _ := strconv.ParseFloat(vals["lat"], 64)
	available, _ := strconv.ParseBool(vals["available"])
	return Profile{
		ID:        id,
		FullName:  vals["full_name"],
		Phone:     vals["phone"],
		Email:     vals["email"],
		BloodType: BloodType(vals["blood_type"]),
		Location:  geo.Point{Lng: lng, Lat: lat},
		Available: available,
	}
}
