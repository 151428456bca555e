package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/smartpark/sp-park/internal/data"
)

var validVehicleTypes = map[string]bool{
	"car":        true,
	"motorcycle": true,
	"bus":        true,
	"truck":      true,
}

// ValidVehicleType reports whether s is a supported vehicle class.
func ValidVehicleType(s string) bool {
	return validVehicleTypes[strings.ToLower(strings.TrimSpace(s))]
}

// Publisher receives every newly accepted (non-duplicate) event. Duplicate
// hits are not republished.
type Publisher interface {
	EventAccepted(e *data.Event, f *data.Floor)
}

// Service applies crossing events to floor counters with idempotency and
// capacity guarantees.
type Service struct {
	db     *sql.DB
	window time.Duration
	locks  *lockRegistry
	dedup  *dedupCache
	pub    Publisher
	logger *log.Logger
}

func NewService(db *sql.DB, window time.Duration, pub Publisher) (*Service, error) {
	dd, err := newDedupCache(4096, window)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:     db,
		window: window,
		locks:  newLockRegistry(),
		dedup:  dd,
		pub:    pub,
		logger: log.New(log.Writer(), "[Ingest] ", log.LstdFlags),
	}, nil
}

// Request is a normalized crossing submission.
type Request struct {
	CameraID    string
	FloorID     int64
	TrackID     string
	VehicleType string
	Direction   string
	Confidence  float64
	Timestamp   time.Time
}

// Result is what RecordEvent hands back: the stored (or pre-existing) event,
// the floor state after the operation, and whether this was a replay.
type Result struct {
	Event     *data.Event
	Floor     *data.Floor
	Duplicate bool
}

func dedupKey(r Request) string {
	return fmt.Sprintf("%s|%s|%d|%s", r.CameraID, r.TrackID, r.FloorID, r.Direction)
}

// RecordEvent runs the full ingestion sequence: per-key lock, window dedup,
// conditional counter update, insert, and unique-constraint recovery. It is
// safe to call concurrently.
func (s *Service) RecordEvent(ctx context.Context, req Request) (*Result, error) {
	req.Direction = strings.ToLower(strings.TrimSpace(req.Direction))
	req.VehicleType = strings.ToLower(strings.TrimSpace(req.VehicleType))

	if req.Direction != "entry" && req.Direction != "exit" {
		return nil, ErrInvalidDirection
	}
	if !validVehicleTypes[req.VehicleType] {
		return nil, ErrInvalidVehicleType
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	req.Timestamp = req.Timestamp.UTC()

	key := dedupKey(req)
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	start := req.Timestamp.Add(-s.window)
	end := req.Timestamp.Add(s.window)

	// Fast path: a key the cache saw inside the window is almost certainly
	// in the table already. The DB query still decides.
	if s.dedup.seen(key, req.Timestamp) {
		if res, ok := s.findExisting(ctx, req, start, end); ok {
			return res, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	floors := data.FloorModel{DB: tx}
	events := data.EventModel{DB: tx}

	floor, err := floors.GetByID(ctx, req.FloorID)
	if err != nil {
		if err == data.ErrRecordNotFound {
			return nil, ErrFloorNotFound
		}
		return nil, err
	}

	existing, err := events.FindInWindow(ctx, req.CameraID, req.TrackID, req.FloorID, req.Direction, start, end)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		s.dedup.record(key, existing.Timestamp)
		s.logger.Printf("duplicate event %s within window, returning existing id=%d", key, existing.ID)
		return &Result{Event: existing, Floor: floor, Duplicate: true}, nil
	}
	if err != data.ErrRecordNotFound {
		return nil, err
	}

	var applied bool
	if req.Direction == "entry" {
		applied, err = floors.IncrementVehicles(ctx, req.FloorID, req.Timestamp)
	} else {
		applied, err = floors.DecrementVehicles(ctx, req.FloorID, req.Timestamp)
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		if req.Direction == "entry" {
			return nil, ErrCapacityExceeded
		}
		return nil, ErrCapacityUnderflow
	}

	event := &data.Event{
		CameraID:    req.CameraID,
		FloorID:     req.FloorID,
		TrackID:     req.TrackID,
		VehicleType: req.VehicleType,
		Direction:   req.Direction,
		Confidence:  req.Confidence,
		Timestamp:   req.Timestamp,
	}
	if err := events.Insert(ctx, event); err != nil {
		if data.IsUniqueViolation(err) {
			// A racing writer beat us to the exact same row. Roll back our
			// counter change and surface theirs as the duplicate.
			tx.Rollback()
			if res, ok := s.findExisting(ctx, req, start, end); ok {
				return res, nil
			}
		}
		return nil, err
	}

	floor, err = floors.GetByID(ctx, req.FloorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event: %w", err)
	}

	s.dedup.record(key, req.Timestamp)
	if s.pub != nil {
		s.pub.EventAccepted(event, floor)
	}
	return &Result{Event: event, Floor: floor}, nil
}

func (s *Service) findExisting(ctx context.Context, req Request, start, end time.Time) (*Result, bool) {
	events := data.EventModel{DB: s.db}
	existing, err := events.FindInWindow(ctx, req.CameraID, req.TrackID, req.FloorID, req.Direction, start, end)
	if err != nil {
		return nil, false
	}
	floor, err := data.FloorModel{DB: s.db}.GetByID(ctx, req.FloorID)
	if err != nil {
		return nil, false
	}
	return &Result{Event: existing, Floor: floor, Duplicate: true}, true
}

// ActiveLocks reports how many idempotency keys have been seen; exposed for
// the monitoring snapshot.
func (s *Service) ActiveLocks() int {
	return s.locks.size()
}
