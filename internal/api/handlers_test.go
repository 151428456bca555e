package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpark/sp-park/internal/api"
	"github.com/smartpark/sp-park/internal/data"
	"github.com/smartpark/sp-park/internal/ingest"
	"github.com/smartpark/sp-park/internal/monitoring"
)

type fakeRecorder struct {
	res *ingest.Result
	err error
	got ingest.Request
}

func (f *fakeRecorder) RecordEvent(_ context.Context, req ingest.Request) (*ingest.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakeFloors struct {
	floors []*data.Floor
	err    error
}

func (f *fakeFloors) GetByID(_ context.Context, id int64) (*data.Floor, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, fl := range f.floors {
		if fl.ID == id {
			return fl, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (f *fakeFloors) GetAllActive(_ context.Context) ([]*data.Floor, error) {
	return f.floors, f.err
}

type fakeLister struct {
	events   []*data.Event
	total    int
	filtered int
	got      data.EventFilter
}

func (f *fakeLister) ListFiltered(_ context.Context, filter data.EventFilter) ([]*data.Event, int, int, error) {
	f.got = filter
	return f.events, f.total, f.filtered, nil
}

func testFloor(id int64, name string, total, current int) *data.Floor {
	return &data.Floor{
		ID: id, Name: name, TotalSlots: total, CurrentVehicles: current,
		IsActive: true, UpdatedAt: time.Now().UTC(),
	}
}

func newTestRouter(rec *fakeRecorder, floors *fakeFloors, lister *fakeLister, framesDir string) http.Handler {
	db, _, _ := sqlmock.New()
	state := monitoring.NewState(10)
	return api.NewRouter(api.RouterConfig{
		Health:      &api.HealthHandler{DB: db, Version: "1.0.0"},
		Events:      &api.EventHandler{Recorder: rec, Lister: lister},
		Floors:      &api.FloorHandler{Floors: floors},
		Monitoring:  &api.MonitoringHandler{State: state, Floors: floors, FramesDir: framesDir},
		State:       state,
		CORSOrigins: []string{"*"},
	})
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const validEvent = `{
	"camera_id": "cam_001", "floor_id": 1, "track_id": "t42",
	"vehicle_type": "car", "direction": "entry", "confidence": 0.9
}`

func TestCreateEventAccepted(t *testing.T) {
	floor := testFloor(1, "Ground Floor", 50, 13)
	rec := &fakeRecorder{res: &ingest.Result{
		Event: &data.Event{ID: 9, FloorID: 1},
		Floor: floor,
	}}
	h := newTestRouter(rec, &fakeFloors{}, &fakeLister{}, "")

	rr := postJSON(t, h, "/event", validEvent)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["duplicate"])
	assert.EqualValues(t, 9, body["event_id"])
	assert.EqualValues(t, 13, body["current_vehicles"])
	assert.EqualValues(t, 37, body["available_slots"])
	assert.Equal(t, 0.9, rec.got.Confidence)
}

func TestCreateEventDefaultsConfidence(t *testing.T) {
	rec := &fakeRecorder{res: &ingest.Result{
		Event: &data.Event{ID: 2, FloorID: 1},
		Floor: testFloor(1, "Ground Floor", 50, 13),
	}}
	h := newTestRouter(rec, &fakeFloors{}, &fakeLister{}, "")

	rr := postJSON(t, h, "/event", `{
		"camera_id": "cam_001", "floor_id": 1, "track_id": "t42",
		"vehicle_type": "car", "direction": "entry"
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 0.95, rec.got.Confidence)
}

func TestCreateEventDuplicateReturns200(t *testing.T) {
	rec := &fakeRecorder{res: &ingest.Result{
		Event:     &data.Event{ID: 4, FloorID: 1},
		Floor:     testFloor(1, "Ground Floor", 50, 13),
		Duplicate: true,
	}}
	h := newTestRouter(rec, &fakeFloors{}, &fakeLister{}, "")

	rr := postJSON(t, h, "/event", validEvent)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "duplicate event ignored")
}

func TestCreateEventErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ingest.ErrFloorNotFound, http.StatusBadRequest},
		{ingest.ErrCapacityExceeded, http.StatusConflict},
		{ingest.ErrCapacityUnderflow, http.StatusConflict},
		{ingest.ErrInvalidDirection, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		h := newTestRouter(&fakeRecorder{err: tc.err}, &fakeFloors{}, &fakeLister{}, "")
		rr := postJSON(t, h, "/event", validEvent)
		assert.Equal(t, tc.want, rr.Code, "error %v", tc.err)
	}
}

func TestCreateEventValidation(t *testing.T) {
	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, &fakeLister{}, "")

	rr := postJSON(t, h, "/event", `{"camera_id": "", "floor_id": 1, "track_id": "t", "vehicle_type": "car", "direction": "entry"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = postJSON(t, h, "/event", `{"camera_id": "c", "floor_id": 0, "track_id": "t", "vehicle_type": "car", "direction": "entry"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = postJSON(t, h, "/event", `{"camera_id": "c", "floor_id": 1, "track_id": "t", "vehicle_type": "car", "direction": "entry", "confidence": 1.5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = postJSON(t, h, "/event", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListFloorsAggregates(t *testing.T) {
	floors := &fakeFloors{floors: []*data.Floor{
		testFloor(1, "Ground Floor", 50, 10),
		testFloor(2, "First Floor", 45, 35),
	}}
	h := newTestRouter(&fakeRecorder{}, floors, &fakeLister{}, "")

	rr := get(t, h, "/floors")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total_floors"])
	assert.EqualValues(t, 95, body["total_capacity"])
	assert.EqualValues(t, 45, body["total_vehicles"])
	assert.EqualValues(t, 50, body["total_available"])
}

func TestGetFloorNotFound(t *testing.T) {
	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, &fakeLister{}, "")
	rr := get(t, h, "/floors/77")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRecommendPicksMostAvailable(t *testing.T) {
	floors := &fakeFloors{floors: []*data.Floor{
		testFloor(1, "Ground Floor", 50, 45), // 5 free, 90%
		testFloor(2, "First Floor", 45, 10),  // 35 free, ~22%
		testFloor(3, "Second Floor", 40, 20), // 20 free, 50%
	}}
	h := newTestRouter(&fakeRecorder{}, floors, &fakeLister{}, "")

	rr := get(t, h, "/recommend")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Recommended  map[string]any   `json:"recommended_floor"`
		Reason       string           `json:"reason"`
		Alternatives []map[string]any `json:"available_alternatives"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "First Floor", body.Recommended["name"])
	assert.Equal(t, "plenty of space available", body.Reason)
	require.Len(t, body.Alternatives, 2)
	assert.Equal(t, "Second Floor", body.Alternatives[0]["name"], "least occupied alternative first")
}

func TestRecommendAllFull(t *testing.T) {
	floors := &fakeFloors{floors: []*data.Floor{testFloor(1, "Ground Floor", 50, 50)}}
	h := newTestRouter(&fakeRecorder{}, floors, &fakeLister{}, "")

	rr := get(t, h, "/recommend")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "all floors are full")
}

func TestListEventsParamValidation(t *testing.T) {
	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, &fakeLister{}, "")

	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?hours=0").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?hours=9000").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?limit=5000").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?offset=-1").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?floor_id=abc").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/events?vehicle_type=bicycle").Code)
}

func TestListEventsPassesFilter(t *testing.T) {
	lister := &fakeLister{total: 40, filtered: 3, events: []*data.Event{{ID: 1}}}
	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, lister, "")

	rr := get(t, h, "/events?hours=6&camera_id=cam_002&floor_id=2&direction=exit&vehicle_type=bus&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, "cam_002", lister.got.CameraID)
	assert.Equal(t, int64(2), lister.got.FloorID)
	assert.Equal(t, "exit", lister.got.Direction)
	assert.Equal(t, "bus", lister.got.VehicleType)
	assert.Equal(t, 10, lister.got.Limit)
	assert.Equal(t, 5, lister.got.Offset)
	assert.WithinDuration(t, time.Now().Add(-6*time.Hour), lister.got.Since, 5*time.Second)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 40, body["total_count"])
	assert.EqualValues(t, 3, body["filtered_count"])
}

func TestMonitoringAlerts(t *testing.T) {
	floors := &fakeFloors{floors: []*data.Floor{testFloor(1, "Ground Floor", 50, 48)}}
	h := newTestRouter(&fakeRecorder{}, floors, &fakeLister{}, "")

	rr := get(t, h, "/monitoring/alerts")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "LOW_PARKING_AVAILABILITY")
}

func TestLatestFrameServesNewest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "frame_000001.jpg")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	newer := filepath.Join(dir, "frame_000002.jpg")
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, &fakeLister{}, dir)

	rr := get(t, h, "/camera/latest-frame")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "new", rr.Body.String())
}

func TestLatestFrameEmptyDir(t *testing.T) {
	h := newTestRouter(&fakeRecorder{}, &fakeFloors{}, &fakeLister{}, t.TempDir())
	rr := get(t, h, "/camera/latest-frame")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM floors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(15))
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	state := monitoring.NewState(10)
	h := api.NewRouter(api.RouterConfig{
		Health:      &api.HealthHandler{DB: db, Version: "1.0.0"},
		Events:      &api.EventHandler{Recorder: &fakeRecorder{}, Lister: &fakeLister{}},
		Floors:      &api.FloorHandler{Floors: &fakeFloors{}},
		Monitoring:  &api.MonitoringHandler{State: state, Floors: &fakeFloors{}},
		State:       state,
		CORSOrigins: []string{"*"},
	})

	rr := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SmartPark API")

	rr = get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")

	rr = get(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
