package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/db"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/rules"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Departure is the proof-of-departure sub-record attached to a parking
// record once the car is confirmed gone.
type Departure struct {
	ConfirmedAt time.Time `json:"confirmed_at"`
	DistanceM   float64   `json:"distance_m"`
	Conclusive  bool      `json:"conclusive"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
}

type Record struct {
	ID        string       `json:"id"`
	VehicleID string       `json:"vehicle_id"`
	Lat       float64      `json:"lat"`
	Lng       float64      `json:"lng"`
	AccuracyM float64      `json:"accuracy_m"`
	Source    string       `json:"source"`
	Address   string       `json:"address"`
	Rules     []rules.Rule `json:"rules"`
	CheckedAt time.Time    `json:"checked_at"`
	Departure *Departure   `json:"departure,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

var ErrNotFound = errors.New("no parking record")

// Store is the history port consumed by the monitor.
type Store interface {
	Append(ctx context.Context, rec Record) (Record, error)
	UpdateCheck(ctx context.Context, id string, lat, lng float64, address string, matched []rules.Rule) error
	MostRecent(ctx context.Context, vehicleID string) (Record, error)
	SetDeparture(ctx context.Context, id string, dep Departure) error
}

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Append(ctx context.Context, rec Record) (Record, error) {
	rec.ID = uuid.NewString()
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now()
	}
	matched, err := json.Marshal(rec.Rules)
	if err != nil {
		return Record{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO parking_records (id, vehicle_id, lat, lng, accuracy_m, source, address, rules, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, rec.ID, rec.VehicleID, rec.Lat, rec.Lng, rec.AccuracyM, rec.Source, rec.Address, matched, rec.CheckedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) UpdateCheck(ctx context.Context, id string, lat, lng float64, address string, matched []rules.Rule) error {
	payload, err := json.Marshal(matched)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE parking_records
		SET lat=$2, lng=$3, address=$4, rules=$5
		WHERE id=$1
	`, id, lat, lng, address, payload)
	return err
}

func (s *Service) MostRecent(ctx context.Context, vehicleID string) (Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, vehicle_id, lat, lng, accuracy_m, source, address, rules, checked_at, departure, created_at
		FROM parking_records
		WHERE vehicle_id=$1
		ORDER BY checked_at DESC
		LIMIT 1
	`, vehicleID)

	var rec Record
	var matched []byte
	var departure []byte
	err := row.Scan(&rec.ID, &rec.VehicleID, &rec.Lat, &rec.Lng, &rec.AccuracyM, &rec.Source,
		&rec.Address, &matched, &rec.CheckedAt, &departure, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	if len(matched) > 0 {
		_ = json.Unmarshal(matched, &rec.Rules)
	}
	if len(departure) > 0 {
		var dep Departure
		if err := json.Unmarshal(departure, &dep); err == nil {
			rec.Departure = &dep
		}
	}
	return rec, nil
}

func (s *Service) SetDeparture(ctx context.Context, id string, dep Departure) error {
	payload, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE parking_records SET departure=$2 WHERE id=$1
	`, id, payload)
	return err
}
