package donors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"blood-broadcast/internal/geo"
)

// PostgresDirectory reads donor profiles from the profile subsystem's table.
//
// NOTE: assumes the following table exists (owned by the profile subsystem):
//
//	donor_profiles (id TEXT PRIMARY KEY, full_name, phone, email, blood_type,
//	                lng DOUBLE PRECISION, lat DOUBLE PRECISION, available BOOLEAN)
//
// with an index on (available, blood_type, lat, lng). Discovery prefilters by a
// bounding box in SQL and refines with haversine in Go.
type PostgresDirectory struct {
	db *sql.DB
	// scanLimit bounds how many box matches are refined per query.
	scanLimit int
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db, scanLimit: 500}
}

func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	const q = `
SELECT id, full_name, phone, email, blood_type, lng, lat, available
FROM donor_profiles
WHERE id = $1
`
	var p Profile
	var bt string
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(
		&p.ID,
		&p.FullName,
		&p.Phone,
		&p.Email,
		&bt,
		&p.Location.Lng,
		&p.Location.Lat,
		&p.Available,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.BloodType = BloodType(bt)
	return p, nil
}

// locateStmt casts every parameter: an untyped parameter compared with an
// integer literal is inferred as int4 and the driver would truncate the box.
// Rows are ordered by equirectangular distance so the scan limit keeps the
// nearest candidates.
const locateStmt = `
SELECT id, full_name, phone, email, blood_type, lng, lat, available
FROM donor_profiles
WHERE available = TRUE
  AND ($1::text = 'any' OR blood_type = $1::text)
  AND id <> $2::text
  AND lat BETWEEN $3::double precision AND $4::double precision
  AND ($5::boolean OR lng BETWEEN $6::double precision AND $7::double precision)
  AND NOT (lng = 0 AND lat = 0)
ORDER BY power(lat - $8::double precision, 2)
       + power(LEAST(ABS(lng - $9::double precision), 360 - ABS(lng - $9::double precision)) * $10::double precision, 2),
         id
LIMIT $11::integer
`

func (d *PostgresDirectory) Locate(ctx context.Context, q Query) ([]Candidate, error) {
	q, run, err := normalize(q)
	if err != nil {
		return nil, err
	}
	if !run {
		return []Candidate{}, nil
	}

	box := geo.BoundingBox(q.Origin, q.RadiusKm)
	// Boxes crossing the antimeridian skip the lng range; Contains refines them below.
	wraps := box.MinLng < -180 || box.MaxLng > 180

	rows, err := d.db.QueryContext(ctx, locateStmt,
		string(q.BloodType),
		q.ExcludeID,
		box.MinLat,
		box.MaxLat,
		wraps,
		box.MinLng,
		box.MaxLng,
		q.Origin.Lat,
		q.Origin.Lng,
		math.Cos(q.Origin.Lat*math.Pi/180),
		d.scanLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("locate donors: %w", err)
	}
	defer rows.Close()

	var in []Candidate
	for rows.Next() {
		var p Profile
		var bt string
		if err := rows.Scan(&p.ID, &p.FullName, &p.Phone, &p.Email, &bt, &p.Location.Lng, &p.Location.Lat, &p.Available); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		p.BloodType = BloodType(bt)
		if !box.Contains(p.Location) {
			continue
		}
		in = append(in, Candidate{Profile: p, DistanceKm: geo.HaversineKm(q.Origin, p.Location)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rank(q, in), nil
}
