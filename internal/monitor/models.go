package monitor

import "time"

// Trigger classifies what asked for a parking check. Authoritative
// triggers come from hardware-confirmed events and are never throttled;
// periodic triggers are backup polls and may be dropped.
type Trigger string

const (
	TriggerAuthoritative Trigger = "authoritative"
	TriggerPeriodic      Trigger = "periodic"
)

// PendingDeparture tracks an unconfirmed "left the spot" claim awaiting
// proof. At most one exists at a time; it is destroyed on confirmation,
// on immediate finalization, or after exhausting retries.
type PendingDeparture struct {
	// SessionRef is the remote departure session id. Empty means the
	// remote clear call failed and the pipeline runs local-only.
	SessionRef     string    `json:"session_ref,omitempty"`
	ParkedLat      float64   `json:"parked_lat"`
	ParkedLng      float64   `json:"parked_lng"`
	ClearedAt      time.Time `json:"cleared_at"`
	RetryCount     int       `json:"retry_count"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	DepartedAt     time.Time `json:"departed_at"`
	LocalRecordRef string    `json:"local_record_ref,omitempty"`
}

// MonitoringState is the persisted singleton for one vehicle. Loaded
// once at startup, rewritten after every mutation so it survives
// process restarts.
type MonitoringState struct {
	IsMonitoring       bool              `json:"is_monitoring"`
	LastConnected      bool              `json:"last_connected"`
	LastDisconnectTime *time.Time        `json:"last_disconnect_time,omitempty"`
	LastCheckTime      *time.Time        `json:"last_check_time,omitempty"`
	Pending            *PendingDeparture `json:"pending,omitempty"`
}

// Confirmation attempt phases. The confirmation retry loop is an
// explicit state machine rather than ad hoc timer bookkeeping.
type confirmPhase string

const (
	phaseScheduled confirmPhase = "scheduled"
	phaseRunning   confirmPhase = "running"
	phaseSucceeded confirmPhase = "succeeded"
	phaseRetryable confirmPhase = "failed-retryable"
	phaseTerminal  confirmPhase = "failed-terminal"
)
