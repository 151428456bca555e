package ingest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpark/sp-park/internal/data"
)

type capturePub struct {
	mu     sync.Mutex
	events []*data.Event
}

func (p *capturePub) EventAccepted(e *data.Event, f *data.Floor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newTestService(t *testing.T, pub Publisher) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(db, 2*time.Second, pub)
	require.NoError(t, err)
	return svc, mock
}

func floorRows(current int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "name", "description", "total_slots", "current_vehicles", "is_active", "created_at", "updated_at",
	}).AddRow(1, "Ground Floor", "", 50, current, true, now, now)
}

func eventRows(ts time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "camera_id", "floor_id", "track_id", "vehicle_type", "direction",
		"confidence", "timestamp", "created_at",
	}).AddRow(11, "cam_001", 1, "t9", "car", "entry", 0.9, ts, ts)
}

func TestRecordEventRejectsBadEnums(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t1",
		VehicleType: "car", Direction: "sideways",
	})
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t1",
		VehicleType: "bicycle", Direction: "entry",
	})
	assert.ErrorIs(t, err, ErrInvalidVehicleType)
}

func TestRecordEventEntryHappyPath(t *testing.T) {
	pub := &capturePub{}
	svc, mock := newTestService(t, pub)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(10))
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE floors").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(21, ts))
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(11))
	mock.ExpectCommit()

	res, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t9",
		VehicleType: "Car", Direction: "ENTRY", Confidence: 0.9, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(21), res.Event.ID)
	assert.Equal(t, 11, res.Floor.CurrentVehicles)
	assert.Len(t, pub.events, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventWindowDuplicate(t *testing.T) {
	pub := &capturePub{}
	svc, mock := newTestService(t, pub)

	ts := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(10))
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnRows(eventRows(ts))
	mock.ExpectCommit()

	res, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t9",
		VehicleType: "car", Direction: "entry", Confidence: 0.9, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(11), res.Event.ID)
	assert.Empty(t, pub.events, "duplicates are not republished")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventFloorFull(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(50))
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE floors").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t9",
		VehicleType: "car", Direction: "entry",
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventExitAtZero(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(0))
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE floors").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t9",
		VehicleType: "car", Direction: "exit",
	})
	assert.ErrorIs(t, err, ErrCapacityUnderflow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventUnknownFloor(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 42, TrackID: "t9",
		VehicleType: "car", Direction: "entry",
	})
	assert.ErrorIs(t, err, ErrFloorNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventUniqueViolationRecovery(t *testing.T) {
	svc, mock := newTestService(t, nil)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(10))
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE floors").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO events").
		WillReturnError(errors.New("UNIQUE constraint failed: events.camera_id"))
	mock.ExpectRollback()
	// Recovery re-query runs outside the transaction.
	mock.ExpectQuery("SELECT (.+) FROM events").WillReturnRows(eventRows(ts))
	mock.ExpectQuery("SELECT (.+) FROM floors").WillReturnRows(floorRows(11))

	res, err := svc.RecordEvent(context.Background(), Request{
		CameraID: "cam_001", FloorID: 1, TrackID: "t9",
		VehicleType: "car", Direction: "entry", Timestamp: ts,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(11), res.Event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRegistryReusesMutex(t *testing.T) {
	r := newLockRegistry()
	a := r.get("k1")
	b := r.get("k1")
	c := r.get("k2")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.size())
}

func TestDedupCacheWindow(t *testing.T) {
	d, err := newDedupCache(8, 2*time.Second)
	require.NoError(t, err)

	ts := time.Now()
	d.record("k", ts)
	assert.True(t, d.seen("k", ts.Add(time.Second)))
	assert.True(t, d.seen("k", ts.Add(-time.Second)))
	assert.False(t, d.seen("k", ts.Add(3*time.Second)))
	assert.False(t, d.seen("other", ts))
}
