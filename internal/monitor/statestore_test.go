package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func TestStateStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	disconnectAt := time.Date(2026, 1, 10, 18, 30, 0, 0, time.UTC)
	checkAt := time.Date(2026, 1, 10, 18, 31, 0, 0, time.UTC)
	pending, _ := json.Marshal(PendingDeparture{
		SessionRef: "sess-9",
		ParkedLat:  41.9,
		ParkedLng:  -87.65,
		DepartedAt: checkAt,
	})

	mock.ExpectQuery(`SELECT is_monitoring, last_connected, last_disconnect_at, last_check_at, pending_departure`).
		WithArgs("vehicle-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_monitoring", "last_connected", "last_disconnect_at", "last_check_at", "pending_departure"}).
			AddRow(true, false, &disconnectAt, &checkAt, pending))

	store := NewPostgresStateStore(mock)
	st, err := store.Load(context.Background(), "vehicle-1")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if !st.IsMonitoring {
		t.Fatalf("expected monitoring")
	}
	if st.Pending == nil || st.Pending.SessionRef != "sess-9" {
		t.Fatalf("pending departure not restored: %+v", st.Pending)
	}
	if !st.Pending.DepartedAt.Equal(checkAt) {
		t.Fatalf("unexpected departed at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStateStoreLoadNoRow(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT is_monitoring`).
		WithArgs("vehicle-1").
		WillReturnError(pgx.ErrNoRows)

	store := NewPostgresStateStore(mock)
	st, err := store.Load(context.Background(), "vehicle-1")
	if err != nil {
		t.Fatalf("expected zero state, got error: %v", err)
	}
	if st.IsMonitoring || st.Pending != nil {
		t.Fatalf("expected zero state, got %+v", st)
	}
}

func TestStateStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	now := time.Date(2026, 1, 10, 18, 31, 0, 0, time.UTC)
	st := MonitoringState{
		IsMonitoring:  true,
		LastCheckTime: &now,
		Pending:       &PendingDeparture{ParkedLat: 41.9, ParkedLng: -87.65},
	}

	mock.ExpectExec(`INSERT INTO monitor_state`).
		WithArgs("vehicle-1", true, false, st.LastDisconnectTime, st.LastCheckTime, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStateStore(mock)
	if err := store.Save(context.Background(), "vehicle-1", st); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStateStoreSaveNoPending(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO monitor_state`).
		WithArgs("vehicle-1", false, true, (*time.Time)(nil), (*time.Time)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStateStore(mock)
	if err := store.Save(context.Background(), "vehicle-1", MonitoringState{LastConnected: true}); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
