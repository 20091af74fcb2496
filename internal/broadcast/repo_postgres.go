package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blood-broadcast/internal/donors"
	"blood-broadcast/pkg/utils"
)

// PostgresRepo assumes the tables from migrations/0001_broadcast.sql:
// - broadcast_calls (one row per call, status and timeline)
// - call_responses (one row per slot, UNIQUE (call_id, donor_id))
// - accepted_donors (append-only, UNIQUE (call_id, donor_id))
//
// Mutate locks the call row FOR UPDATE and writes each slot with
// "... WHERE status = 'ringing'", so a lost race surfaces as ErrConflict
// rather than a silently overwritten response.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const callColumns = `
call_id, kind, requester_id, requester_name, requester_phone, requester_email,
requester_lng, requester_lat, blood_type, units, urgency, hospital, address,
patient_name, notes, status, call_started, first_response, first_accepted_at,
ended_at, ring_timeout_ms, ring_deadline`

func (r *PostgresRepo) Insert(ctx context.Context, c BroadcastCall) error {
	if c.CallID == "" {
		return ErrInvalidArgument
	}
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const qc = `
INSERT INTO broadcast_calls (` + callColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
)
`
		if _, err := tx.ExecContext(ctx, qc,
			c.CallID,
			c.Kind,
			c.Requester.ID,
			c.Requester.Name,
			c.Requester.Phone,
			c.Requester.Email,
			c.Requester.Location.Lng,
			c.Requester.Location.Lat,
			c.BloodRequest.BloodType,
			c.BloodRequest.Units,
			c.BloodRequest.Urgency,
			c.BloodRequest.Hospital,
			c.BloodRequest.Address,
			c.BloodRequest.PatientName,
			c.BloodRequest.Notes,
			c.Status,
			c.Timeline.CallStarted,
			nullTime(c.Timeline.FirstResponse),
			nullTime(c.Timeline.FirstAcceptedAt),
			nullTime(c.Timeline.EndedAt),
			c.RingTimeout.Milliseconds(),
			c.RingDeadline,
		); err != nil {
			return err
		}

		const qs = `
INSERT INTO call_responses (call_id, position, donor_id, donor_name, donor_phone, distance_km, status, response_time)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		for i, s := range c.Slots {
			if _, err := tx.ExecContext(ctx, qs,
				c.CallID, i, s.DonorID, s.DonorName, s.DonorPhone, s.DistanceKm, s.Status, nullTime(s.ResponseTime),
			); err != nil {
				return err
			}
		}
		for _, a := range c.AcceptedDonors {
			if err := insertAccepted(ctx, tx, c.CallID, a); err != nil {
				return err
			}
		}
		return nil
	})
	if utils.IsUniqueViolation(err) {
		return ErrDuplicateCall
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (BroadcastCall, error) {
	return loadCall(ctx, r.db, callID, false)
}

func (r *PostgresRepo) ListActiveForParticipant(ctx context.Context, userID string) ([]BroadcastCall, error) {
	const q = `
SELECT c.call_id
FROM broadcast_calls c
WHERE c.status IN ('ringing', 'connected')
  AND (c.requester_id = $1
       OR EXISTS (SELECT 1 FROM call_responses r WHERE r.call_id = c.call_id AND r.donor_id = $1))
ORDER BY c.call_started DESC, c.call_id DESC
`
	return r.loadIDs(ctx, q, userID)
}

func (r *PostgresRepo) ListForParticipant(ctx context.Context, userID string, limit int) ([]BroadcastCall, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT c.call_id
FROM broadcast_calls c
WHERE c.requester_id = $1
   OR EXISTS (SELECT 1 FROM call_responses r WHERE r.call_id = c.call_id AND r.donor_id = $1)
ORDER BY c.call_started DESC, c.call_id DESC
LIMIT $2
`
	return r.loadIDs(ctx, q, userID, limit)
}

func (r *PostgresRepo) ListStartedBetween(ctx context.Context, from, to time.Time) ([]BroadcastCall, error) {
	const q = `
SELECT call_id
FROM broadcast_calls
WHERE call_started >= $1 AND call_started < $2
ORDER BY call_started DESC, call_id DESC
`
	return r.loadIDs(ctx, q, from, to)
}

func (r *PostgresRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT c.call_id
FROM broadcast_calls c
WHERE c.status IN ('ringing', 'connected')
  AND c.ring_deadline <= $1
  AND (c.status = 'ringing'
       OR EXISTS (SELECT 1 FROM call_responses r WHERE r.call_id = c.call_id AND r.status = 'ringing'))
ORDER BY c.ring_deadline
LIMIT $2
`
	return queryIDs(ctx, r.db, q, now, limit)
}

func (r *PostgresRepo) Mutate(ctx context.Context, callID string, fn Transition) (BroadcastCall, Delta, error) {
	var (
		out   BroadcastCall
		delta Delta
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := loadCall(ctx, tx, callID, true)
		if err != nil {
			return err
		}
		d, err := fn(&c)
		delta = d
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, callID, d); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return BroadcastCall{}, delta, err
	}
	return out, delta, nil
}

func (r *PostgresRepo) loadIDs(ctx context.Context, q string, args ...any) ([]BroadcastCall, error) {
	ids, err := queryIDs(ctx, r.db, q, args...)
	if err != nil {
		return nil, err
	}
	out := make([]BroadcastCall, 0, len(ids))
	for _, id := range ids {
		c, err := loadCall(ctx, r.db, id, false)
		if errors.Is(err, ErrCallNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func queryIDs(ctx context.Context, db queryer, q string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadCall(ctx context.Context, db queryer, callID string, forUpdate bool) (BroadcastCall, error) {
	q := `SELECT ` + callColumns + ` FROM broadcast_calls WHERE call_id = $1`
	if forUpdate {
		// Serializes every mutation of this call.
		q += ` FOR UPDATE`
	}

	var (
		c                                   BroadcastCall
		firstResponse, firstAccept, endedAt sql.NullTime
		ringTimeoutMs                       int64
	)
	if err := db.QueryRowContext(ctx, q, callID).Scan(
		&c.CallID,
		&c.Kind,
		&c.Requester.ID,
		&c.Requester.Name,
		&c.Requester.Phone,
		&c.Requester.Email,
		&c.Requester.Location.Lng,
		&c.Requester.Location.Lat,
		&c.BloodRequest.BloodType,
		&c.BloodRequest.Units,
		&c.BloodRequest.Urgency,
		&c.BloodRequest.Hospital,
		&c.BloodRequest.Address,
		&c.BloodRequest.PatientName,
		&c.BloodRequest.Notes,
		&c.Status,
		&c.Timeline.CallStarted,
		&firstResponse,
		&firstAccept,
		&endedAt,
		&ringTimeoutMs,
		&c.RingDeadline,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BroadcastCall{}, ErrCallNotFound
		}
		return BroadcastCall{}, fmt.Errorf("load call %s: %w", callID, err)
	}
	c.Timeline.FirstResponse = timePtr(firstResponse)
	c.Timeline.FirstAcceptedAt = timePtr(firstAccept)
	c.Timeline.EndedAt = timePtr(endedAt)
	c.RingTimeout = time.Duration(ringTimeoutMs) * time.Millisecond

	slots, err := loadSlots(ctx, db, callID)
	if err != nil {
		return BroadcastCall{}, err
	}
	c.Slots = slots

	accepted, err := loadAccepted(ctx, db, callID)
	if err != nil {
		return BroadcastCall{}, err
	}
	c.AcceptedDonors = accepted
	return c, nil
}

func loadSlots(ctx context.Context, db queryer, callID string) ([]Slot, error) {
	const q = `
SELECT donor_id, donor_name, donor_phone, distance_km, status, response_time
FROM call_responses
WHERE call_id = $1
ORDER BY position
`
	rows, err := db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Slot, 0)
	for rows.Next() {
		var (
			s  Slot
			rt sql.NullTime
		)
		if err := rows.Scan(&s.DonorID, &s.DonorName, &s.DonorPhone, &s.DistanceKm, &s.Status, &rt); err != nil {
			return nil, err
		}
		s.ResponseTime = timePtr(rt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadAccepted(ctx context.Context, db queryer, callID string) ([]AcceptedDonor, error) {
	const q = `
SELECT donor_id, name, phone, email, blood_type, accepted_at
FROM accepted_donors
WHERE call_id = $1
ORDER BY accepted_at, donor_id
`
	rows, err := db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AcceptedDonor, 0)
	for rows.Next() {
		var (
			a  AcceptedDonor
			bt string
		)
		if err := rows.Scan(&a.DonorID, &a.Name, &a.Phone, &a.Email, &bt, &a.AcceptedAt); err != nil {
			return nil, err
		}
		a.BloodType = donors.BloodType(bt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func applyDelta(ctx context.Context, tx *sql.Tx, callID string, d Delta) error {
	const qs = `
UPDATE call_responses
SET status = $3, response_time = $4
WHERE call_id = $1 AND donor_id = $2 AND status = 'ringing'
`
	for _, s := range d.Slots {
		res, err := tx.ExecContext(ctx, qs, callID, s.DonorID, s.To, s.At)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return ErrConflict
		}
	}

	for _, a := range d.Accepted {
		if err := insertAccepted(ctx, tx, callID, a); err != nil {
			return err
		}
	}

	if d.StatusTo == "" && d.FirstResponse == nil && d.FirstAcceptedAt == nil && d.EndedAt == nil {
		return nil
	}
	next := d.StatusTo
	if next == "" {
		next = d.StatusFrom
	}
	const qc = `
UPDATE broadcast_calls
SET status = $3,
    first_response = COALESCE(first_response, $4),
    first_accepted_at = COALESCE($5, first_accepted_at),
    ended_at = COALESCE(ended_at, $6)
WHERE call_id = $1 AND status = $2
`
	res, err := tx.ExecContext(ctx, qc, callID, d.StatusFrom, next,
		nullTime(d.FirstResponse), nullTime(d.FirstAcceptedAt), nullTime(d.EndedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrConflict
	}
	return nil
}

func insertAccepted(ctx context.Context, tx *sql.Tx, callID string, a AcceptedDonor) error {
	const q = `
INSERT INTO accepted_donors (call_id, donor_id, name, phone, email, blood_type, accepted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (call_id, donor_id) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q, callID, a.DonorID, a.Name, a.Phone, a.Email, string(a.BloodType), a.AcceptedAt)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
