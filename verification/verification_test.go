package verification

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"cleanspot/config"
	"cleanspot/events"
	"cleanspot/models"
	"cleanspot/status"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
)

type recorder struct {
	routes []string
	events []interface{}
}

func (r *recorder) Publish(routingKey string, message interface{}) {
	r.routes = append(r.routes, routingKey)
	r.events = append(r.events, message)
}

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

var (
	testNow   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	reportLoc = models.Location{Latitude: 19.0760, Longitude: 72.8777}
)

func testService() *Service {
	cfg := &config.Config{
		GeofenceRadiusM: 50,
		MinTaskMinutes:  2,
		MaxTaskMinutes:  240,
	}
	s := NewService(db, status.NewMachine(db, nil), cfg)
	s.now = func() time.Time { return testNow }
	return s
}

func locNorthOf(base models.Location, meters float64) models.Location {
	return models.Location{
		Latitude:  base.Latitude + meters/111195.0,
		Longitude: base.Longitude,
	}
}

func assertCode(t *testing.T, err error, code string) *models.Error {
	t.Helper()
	var de *models.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if de.Code != code {
		t.Fatalf("code = %s, want %s", de.Code, code)
	}
	return de
}

func expectReportRow(st models.ReportStatus, worker string) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, assigned_worker_id, latitude, longitude FROM reports").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_worker_id", "latitude", "longitude"}).
			AddRow(string(st), worker, reportLoc.Latitude, reportLoc.Longitude))
}

func TestStartTaskAtReportLocation(t *testing.T) {
	it(func() {
		s := testService()
		expectReportRow(models.StatusAssigned, "worker-1")
		mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT status FROM reports").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusAssigned)))
		mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// Worker exactly at the report location: distance 0.
		v, err := s.StartTask(context.Background(), "r1", "worker-1", reportLoc, "https://photos.example/before.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.ApprovalStatus != models.ApprovalPending {
			t.Errorf("approval status = %s, want pending", v.ApprovalStatus)
		}
		if !v.StartedAt.Equal(testNow) {
			t.Errorf("started_at = %v, want %v", v.StartedAt, testNow)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestStartTaskOutsideGeofence(t *testing.T) {
	it(func() {
		s := testService()
		expectReportRow(models.StatusAssigned, "worker-1")
		mock.ExpectRollback()

		_, err := s.StartTask(context.Background(), "r1", "worker-1",
			locNorthOf(reportLoc, 51), "https://photos.example/before.jpg")
		de := assertCode(t, err, models.CodeProximityError)
		if math.Abs(de.DistanceMeters-51) > 1 {
			t.Errorf("distance = %f, want about 51", de.DistanceMeters)
		}
	})
}

func TestStartTaskWrongWorker(t *testing.T) {
	it(func() {
		s := testService()
		expectReportRow(models.StatusAssigned, "worker-2")
		mock.ExpectRollback()

		_, err := s.StartTask(context.Background(), "r1", "worker-1", reportLoc, "https://photos.example/before.jpg")
		assertCode(t, err, models.CodeForbidden)
	})
}

func TestStartTaskWrongStatus(t *testing.T) {
	it(func() {
		s := testService()
		expectReportRow(models.StatusOpen, "")
		mock.ExpectRollback()

		_, err := s.StartTask(context.Background(), "r1", "worker-1", reportLoc, "https://photos.example/before.jpg")
		assertCode(t, err, models.CodeStateError)
	})
}

func TestStartTaskReportNotFound(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, assigned_worker_id, latitude, longitude FROM reports").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"status", "assigned_worker_id", "latitude", "longitude"}))
		mock.ExpectRollback()

		_, err := s.StartTask(context.Background(), "missing", "worker-1", reportLoc, "https://photos.example/before.jpg")
		assertCode(t, err, models.CodeNotFound)
	})
}

func TestStartTaskAnnouncesStatusChange(t *testing.T) {
	it(func() {
		rec := &recorder{}
		s := testService()
		s.machine = status.NewMachine(db, rec)

		expectReportRow(models.StatusAssigned, "worker-1")
		mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT status FROM reports").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusAssigned)))
		mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if _, err := s.StartTask(context.Background(), "r1", "worker-1", reportLoc, "https://photos.example/before.jpg"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rec.routes) != 1 || rec.routes[0] != events.RouteStatusChanged {
			t.Fatalf("routes = %v, want [%s]", rec.routes, events.RouteStatusChanged)
		}
		ev := rec.events[0].(events.StatusChangedEvent)
		if ev.From != models.StatusAssigned || ev.To != models.StatusInProgress {
			t.Errorf("event = %+v, want assigned -> in_progress", ev)
		}
	})
}

func expectCompleteGate(startedAt time.Time) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM reports").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusInProgress)))
	mock.ExpectQuery("SELECT id, worker_id, started_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "worker_id", "started_at"}).
			AddRow("v1", "worker-1", startedAt))
}

func TestCompleteTask(t *testing.T) {
	it(func() {
		testCases := []struct {
			name          string
			elapsed       time.Duration
			expectCode    string
			wantTimeSpent int
		}{
			{name: "too fast", elapsed: time.Minute, expectCode: models.CodeTimingError},
			{name: "lower boundary", elapsed: 2 * time.Minute, wantTimeSpent: 2},
			{name: "typical half hour", elapsed: 30 * time.Minute, wantTimeSpent: 30},
			{name: "upper boundary", elapsed: 240 * time.Minute, wantTimeSpent: 240},
			{name: "too slow", elapsed: 241 * time.Minute, expectCode: models.CodeTimingError},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				s := testService()
				expectCompleteGate(testNow.Add(-tc.elapsed))
				if tc.expectCode == "" {
					mock.ExpectExec("UPDATE verifications").
						WillReturnResult(sqlmock.NewResult(0, 1))
					mock.ExpectQuery("SELECT status FROM reports").
						WithArgs("r1").
						WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusInProgress)))
					mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
					mock.ExpectCommit()
				} else {
					mock.ExpectRollback()
				}

				timeSpent, err := s.CompleteTask(context.Background(), "r1", "worker-1", "https://photos.example/after.jpg")
				if tc.expectCode != "" {
					de := assertCode(t, err, tc.expectCode)
					if de.ElapsedMinutes != tc.elapsed.Minutes() {
						t.Errorf("elapsed = %f, want %f", de.ElapsedMinutes, tc.elapsed.Minutes())
					}
					return
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if timeSpent != tc.wantTimeSpent {
					t.Errorf("timeSpent = %d, want %d", timeSpent, tc.wantTimeSpent)
				}
			})
		}
	})
}

func TestCompleteTaskAnnouncesStatusChange(t *testing.T) {
	it(func() {
		rec := &recorder{}
		s := testService()
		s.machine = status.NewMachine(db, rec)

		expectCompleteGate(testNow.Add(-30 * time.Minute))
		mock.ExpectExec("UPDATE verifications").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT status FROM reports").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusInProgress)))
		mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if _, err := s.CompleteTask(context.Background(), "r1", "worker-1", "https://photos.example/after.jpg"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rec.routes) != 1 || rec.routes[0] != events.RouteStatusChanged {
			t.Fatalf("routes = %v, want [%s]", rec.routes, events.RouteStatusChanged)
		}
		ev := rec.events[0].(events.StatusChangedEvent)
		if ev.From != models.StatusInProgress || ev.To != models.StatusVerified {
			t.Errorf("event = %+v, want in_progress -> verified", ev)
		}
	})
}

func TestCompleteTaskWrongWorker(t *testing.T) {
	it(func() {
		s := testService()
		expectCompleteGate(testNow.Add(-30 * time.Minute))
		mock.ExpectRollback()

		_, err := s.CompleteTask(context.Background(), "r1", "worker-2", "https://photos.example/after.jpg")
		assertCode(t, err, models.CodeForbidden)
	})
}

func TestCompleteTaskWrongStatus(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM reports").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusVerified)))
		mock.ExpectRollback()

		_, err := s.CompleteTask(context.Background(), "r1", "worker-1", "https://photos.example/after.jpg")
		assertCode(t, err, models.CodeStateError)
	})
}
