// Package donors locates available donors near a requester. Donor profiles are
// owned by the profile subsystem; this package only reads them.
package donors

import (
	"context"
	"errors"
	"sort"
	"strings"

	"blood-broadcast/internal/geo"
)

type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"

	// BloodTypeAny is the wildcard a requester uses when any donor will do.
	BloodTypeAny BloodType = "any"
)

// AllBloodTypes lists concrete types; BloodTypeAny is not included.
var AllBloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg, BloodTypeBPos, BloodTypeBNeg,
	BloodTypeOPos, BloodTypeONeg, BloodTypeABPos, BloodTypeABNeg,
}

// ParseBloodType normalizes user input ("o-", " AB+ ", "ANY").
func ParseBloodType(s string) (BloodType, bool) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(BloodTypeAny)) {
		return BloodTypeAny, true
	}
	bt := BloodType(strings.ToUpper(s))
	for _, t := range AllBloodTypes {
		if t == bt {
			return bt, true
		}
	}
	return "", false
}

// Matches reports whether a donor of type donor satisfies a request for want.
// Matching is exact; "any" accepts every donor.
func (want BloodType) Matches(donor BloodType) bool {
	return want == BloodTypeAny || want == donor
}

// Profile is the subset of a user profile discovery and contact snapshots need.
type Profile struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	BloodType BloodType `json:"blood_type"`
	Location  geo.Point `json:"location"`
	Available bool      `json:"available"`
}

// Candidate is a located donor with its distance from the query origin.
type Candidate struct {
	Profile
	DistanceKm float64 `json:"distance_km"`
}

// Query describes one discovery request.
type Query struct {
	Origin    geo.Point
	BloodType BloodType
	RadiusKm  float64
	Limit     int
	// ExcludeID drops the requester from their own broadcast.
	ExcludeID string
}

var (
	ErrProfileNotFound = errors.New("donors: profile not found")
	ErrInvalidQuery    = errors.New("donors: invalid query")
)

// Locator finds available donors ordered by increasing distance.
// A query without usable coordinates yields an empty result, not an error.
type Locator interface {
	Locate(ctx context.Context, q Query) ([]Candidate, error)
}

// ProfileSource resolves identity snapshots for requesters and donors.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// normalize validates q and reports whether a search should run at all.
func normalize(q Query) (Query, bool, error) {
	if q.RadiusKm <= 0 || q.Limit <= 0 {
		return q, false, ErrInvalidQuery
	}
	if q.BloodType == "" {
		q.BloodType = BloodTypeAny
	}
	if q.BloodType != BloodTypeAny {
		if _, ok := ParseBloodType(string(q.BloodType)); !ok {
			return q, false, ErrInvalidQuery
		}
	}
	if q.Origin.IsZero() || !q.Origin.Valid() {
		return q, false, nil
	}
	return q, true, nil
}

// rank applies the eligibility rules shared by every backend, then orders by
// distance and caps the result. Duplicate ids keep their nearest entry.
func rank(q Query, in []Candidate) []Candidate {
	eligible := make([]Candidate, 0, len(in))
	for _, c := range in {
		if c.ID == "" || c.ID == q.ExcludeID || !c.Available {
			continue
		}
		if !q.BloodType.Matches(c.BloodType) {
			continue
		}
		if c.DistanceKm > q.RadiusKm {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].DistanceKm != eligible[j].DistanceKm {
			return eligible[i].DistanceKm < eligible[j].DistanceKm
		}
		return eligible[i].ID < eligible[j].ID
	})

	seen := make(map[string]struct{}, len(eligible))
	out := make([]Candidate, 0, min(len(eligible), q.Limit))
	for _, c := range eligible {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
		if len(out) == q.Limit {
			break
		}
	}
	return out
}
