package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"cleanspot/events"
	"cleanspot/models"
	"cleanspot/points"
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

func testService() *Service {
	return NewService(db, status.NewMachine(db, nil), points.NewService(db), nil)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var de *models.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if de.Code != code {
		t.Fatalf("code = %s, want %s", de.Code, code)
	}
}

func expectPendingVerification(reportStatus models.ReportStatus) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT report_id, approval_status FROM verifications").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"report_id", "approval_status"}).
			AddRow("r1", string(models.ApprovalPending)))
	mock.ExpectQuery("SELECT status, device_id, severity FROM reports").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "device_id", "severity"}).
			AddRow(string(reportStatus), "device-1", string(models.SeverityHigh)))
}

func expectDecisionCommit() {
	mock.ExpectExec("UPDATE verifications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status FROM reports").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusVerified)))
	mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectSuccessfulCredit() {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO citizens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT total_points, reports_count, streak_days, last_credit_at").
		WillReturnRows(sqlmock.NewRows(
			[]string{"total_points", "reports_count", "streak_days", "last_credit_at"}).
			AddRow(100, 5, 1, nil))
	mock.ExpectExec("UPDATE reports SET points_awarded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE citizens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestApprove(t *testing.T) {
	it(func() {
		s := testService()
		expectPendingVerification(models.StatusVerified)
		expectDecisionCommit()
		// base 10 + high 15
		expectSuccessfulCredit()

		awarded, err := s.Approve(context.Background(), "v1", "admin-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if awarded != 25 {
			t.Errorf("awarded = %d, want 25", awarded)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestApproveAlreadyApproved(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT report_id, approval_status FROM verifications").
			WithArgs("v1").
			WillReturnRows(sqlmock.NewRows([]string{"report_id", "approval_status"}).
				AddRow("r1", string(models.ApprovalApproved)))
		mock.ExpectRollback()

		_, err := s.Approve(context.Background(), "v1", "admin-1")
		assertCode(t, err, models.CodeAlreadyApproved)

		// No report write may happen on the second decision.
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestApproveAlreadyRejected(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT report_id, approval_status FROM verifications").
			WithArgs("v1").
			WillReturnRows(sqlmock.NewRows([]string{"report_id", "approval_status"}).
				AddRow("r1", string(models.ApprovalRejected)))
		mock.ExpectRollback()

		_, err := s.Approve(context.Background(), "v1", "admin-1")
		assertCode(t, err, models.CodeAlreadyRejected)
	})
}

func TestApproveLostRaceReportsStoredDecision(t *testing.T) {
	it(func() {
		s := testService()
		expectPendingVerification(models.StatusVerified)
		// The guarded decision UPDATE loses a race; the stored status is
		// rejected, so that is what the error must say.
		mock.ExpectExec("UPDATE verifications").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT approval_status FROM verifications").
			WithArgs("v1").
			WillReturnRows(sqlmock.NewRows([]string{"approval_status"}).
				AddRow(string(models.ApprovalRejected)))
		mock.ExpectRollback()

		_, err := s.Approve(context.Background(), "v1", "admin-1")
		assertCode(t, err, models.CodeAlreadyRejected)
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestApproveAnnouncesEvents(t *testing.T) {
	it(func() {
		rec := &recorder{}
		s := NewService(db, status.NewMachine(db, rec), points.NewService(db), rec)
		expectPendingVerification(models.StatusVerified)
		expectDecisionCommit()
		expectSuccessfulCredit()

		if _, err := s.Approve(context.Background(), "v1", "admin-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rec.routes) != 2 {
			t.Fatalf("routes = %v, want a status change and a decision", rec.routes)
		}
		st := rec.events[0].(events.StatusChangedEvent)
		if rec.routes[0] != events.RouteStatusChanged || st.From != models.StatusVerified || st.To != models.StatusResolved {
			t.Errorf("first event = %+v, want verified -> resolved", st)
		}
		dec := rec.events[1].(events.VerificationDecidedEvent)
		if rec.routes[1] != events.RouteVerificationDecided || dec.Decision != models.ApprovalApproved || dec.PointsAwarded != 25 {
			t.Errorf("second event = %+v, want approved with 25 points", dec)
		}
	})
}

func TestApproveNotFound(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT report_id, approval_status FROM verifications").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"report_id", "approval_status"}))
		mock.ExpectRollback()

		_, err := s.Approve(context.Background(), "missing", "admin-1")
		assertCode(t, err, models.CodeNotFound)
	})
}

func TestApproveReportNotVerified(t *testing.T) {
	it(func() {
		s := testService()
		expectPendingVerification(models.StatusInProgress)
		mock.ExpectRollback()

		_, err := s.Approve(context.Background(), "v1", "admin-1")
		assertCode(t, err, models.CodeStateError)
	})
}

func TestApproveSurvivesCreditFailure(t *testing.T) {
	it(func() {
		s := testService()
		expectPendingVerification(models.StatusVerified)
		expectDecisionCommit()
		// The credit transaction fails outright; the approval stays
		// committed and the credit is parked for reconciliation.
		mock.ExpectBegin().WillReturnError(fmt.Errorf("connection lost"))
		mock.ExpectExec("INSERT INTO points_reconciliation").
			WillReturnResult(sqlmock.NewResult(0, 1))

		awarded, err := s.Approve(context.Background(), "v1", "admin-1")
		if err != nil {
			t.Fatalf("approval must not fail on a credit error, got %v", err)
		}
		if awarded != 0 {
			t.Errorf("awarded = %d, want 0 for a parked credit", awarded)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestReject(t *testing.T) {
	it(func() {
		s := testService()
		expectPendingVerification(models.StatusVerified)
		mock.ExpectExec("UPDATE verifications").
			WithArgs(string(models.ApprovalRejected), "photos unclear", "v1", string(models.ApprovalPending)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT status FROM reports").
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.StatusVerified)))
		mock.ExpectExec("UPDATE reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := s.Reject(context.Background(), "v1", "admin-1", "photos unclear"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestRejectAlreadyDecided(t *testing.T) {
	it(func() {
		s := testService()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT report_id, approval_status FROM verifications").
			WithArgs("v1").
			WillReturnRows(sqlmock.NewRows([]string{"report_id", "approval_status"}).
				AddRow("r1", string(models.ApprovalApproved)))
		mock.ExpectRollback()

		err := s.Reject(context.Background(), "v1", "admin-1", "")
		assertCode(t, err, models.CodeAlreadyApproved)
	})
}
