package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Event is one recorded entry/exit crossing.
type Event struct {
	ID          int64     `json:"id"`
	CameraID    string    `json:"camera_id"`
	FloorID     int64     `json:"floor_id"`
	TrackID     string    `json:"track_id"`
	VehicleType string    `json:"vehicle_type"`
	Direction   string    `json:"direction"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

type EventModel struct {
	DB DBTX
}

func (m EventModel) Insert(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return m.DB.QueryRowContext(ctx, query,
		e.CameraID, e.FloorID, e.TrackID, e.VehicleType, e.Direction,
		e.Confidence, e.Timestamp.UTC(),
	).Scan(&e.ID, &e.CreatedAt)
}

// FindInWindow looks for an event with the same idempotency identity whose
// timestamp falls within [start, end]. Newest match wins.
func (m EventModel) FindInWindow(ctx context.Context, cameraID, trackID string, floorID int64, direction string, start, end time.Time) (*Event, error) {
	query := `
		SELECT id, camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp, created_at
		FROM events
		WHERE camera_id = $1 AND track_id = $2 AND floor_id = $3 AND direction = $4
		  AND timestamp >= $5 AND timestamp <= $6
		ORDER BY timestamp DESC
		LIMIT 1`

	var e Event
	err := m.DB.QueryRowContext(ctx, query,
		cameraID, trackID, floorID, direction, start.UTC(), end.UTC(),
	).Scan(
		&e.ID, &e.CameraID, &e.FloorID, &e.TrackID, &e.VehicleType,
		&e.Direction, &e.Confidence, &e.Timestamp, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EventFilter narrows the event listing. Zero values mean "no filter".
type EventFilter struct {
	Since       time.Time
	CameraID    string
	FloorID     int64
	Direction   string
	VehicleType string
	Limit       int
	Offset      int
}

// ListFiltered returns a page of events plus the total row count and the
// count matching the filter (before pagination). Newest first.
func (m EventModel) ListFiltered(ctx context.Context, f EventFilter) ([]*Event, int, int, error) {
	var total int
	if err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&total); err != nil {
		return nil, 0, 0, err
	}

	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.Since.IsZero() {
		where = append(where, "timestamp >= "+arg(f.Since.UTC()))
	}
	if f.CameraID != "" {
		where = append(where, "camera_id = "+arg(f.CameraID))
	}
	if f.FloorID > 0 {
		where = append(where, "floor_id = "+arg(f.FloorID))
	}
	if f.Direction != "" {
		where = append(where, "direction = "+arg(f.Direction))
	}
	if f.VehicleType != "" {
		where = append(where, "vehicle_type = "+arg(f.VehicleType))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var filtered int
	if err := m.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+clause, args...).Scan(&filtered); err != nil {
		return nil, 0, 0, err
	}

	query := `
		SELECT id, camera_id, floor_id, track_id, vehicle_type, direction, confidence, timestamp, created_at
		FROM events` + clause + `
		ORDER BY timestamp DESC
		LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.CameraID, &e.FloorID, &e.TrackID, &e.VehicleType,
			&e.Direction, &e.Confidence, &e.Timestamp, &e.CreatedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		events = append(events, &e)
	}
	return events, total, filtered, rows.Err()
}

// DeleteOlderThan drops events past the retention horizon and reports how
// many went.
func (m EventModel) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (m EventModel) Count(ctx context.Context) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
