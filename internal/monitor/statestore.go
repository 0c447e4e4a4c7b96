package monitor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/db"

	"github.com/jackc/pgx/v5"
)

// StateStore is the persistence port for the MonitoringState singleton.
type StateStore interface {
	Load(ctx context.Context, vehicleID string) (MonitoringState, error)
	Save(ctx context.Context, vehicleID string, st MonitoringState) error
}

// PostgresStateStore keeps one row per vehicle in monitor_state, with
// the pending departure as a JSONB blob.
type PostgresStateStore struct {
	db db.Querier
}

func NewPostgresStateStore(db db.Querier) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// Load returns the zero state when the vehicle has no row yet.
func (s *PostgresStateStore) Load(ctx context.Context, vehicleID string) (MonitoringState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT is_monitoring, last_connected, last_disconnect_at, last_check_at, pending_departure
		FROM monitor_state
		WHERE vehicle_id=$1
	`, vehicleID)

	var st MonitoringState
	var pending []byte
	err := row.Scan(&st.IsMonitoring, &st.LastConnected, &st.LastDisconnectTime, &st.LastCheckTime, &pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return MonitoringState{}, nil
	}
	if err != nil {
		return MonitoringState{}, err
	}

	if len(pending) > 0 {
		var pd PendingDeparture
		if err := json.Unmarshal(pending, &pd); err == nil {
			st.Pending = &pd
		}
	}
	return st, nil
}

func (s *PostgresStateStore) Save(ctx context.Context, vehicleID string, st MonitoringState) error {
	var pending []byte
	if st.Pending != nil {
		var err error
		pending, err = json.Marshal(st.Pending)
		if err != nil {
			return err
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO monitor_state (vehicle_id, is_monitoring, last_connected, last_disconnect_at, last_check_at, pending_departure, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (vehicle_id) DO UPDATE
		SET is_monitoring=$2, last_connected=$3, last_disconnect_at=$4, last_check_at=$5, pending_departure=$6, updated_at=now()
	`, vehicleID, st.IsMonitoring, st.LastConnected, st.LastDisconnectTime, st.LastCheckTime, pending)
	return err
}
