package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
)

type Urgency string

const (
	UrgencyInfo    Urgency = "info"
	UrgencyWarning Urgency = "warning"
	UrgencyUrgent  Urgency = "urgent"
)

// Alert categories used for scheduling and rate limiting.
const (
	CategoryRestriction  = "restriction"
	CategoryAllClear     = "all-clear"
	CategoryCheckFailed  = "check-failed"
	CategoryConditions   = "conditions-changed"
	CategorySnowForecast = "snow-forecast"
	CategoryReminder     = "reminder"
)

type Alert struct {
	Category string  `json:"category"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Urgency  Urgency `json:"urgency"`
}

// Notifier is the notification-scheduler port: immediate alerts plus
// timed reminders that can be cancelled individually or wholesale.
type Notifier interface {
	Send(ctx context.Context, a Alert) error
	ScheduleAt(id string, at time.Time, a Alert)
	Cancel(id string)
	CancelAll()
}

// Webhook delivers alerts as JSON posts and keeps scheduled reminders
// as in-process timers. Mirror, when set, receives every delivered
// alert (used to fan out onto the websocket hub).
type Webhook struct {
	url    string
	http   *http.Client
	sched  clock.Scheduler
	Mirror func(Alert)

	mu     sync.Mutex
	timers map[string]clock.Timer
}

func NewWebhook(url string, sched clock.Scheduler) *Webhook {
	return &Webhook{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		sched:  sched,
		timers: map[string]clock.Timer{},
	}
}

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	if w.Mirror != nil {
		w.Mirror(a)
	}
	if w.url == "" {
		log.Printf("notify (%s/%s): %s — %s", a.Category, a.Urgency, a.Title, a.Body)
		return nil
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode)
	}
	return nil
}

// ScheduleAt arms a one-shot reminder. Re-using an id replaces the
// previous timer.
func (w *Webhook) ScheduleAt(id string, at time.Time, a Alert) {
	w.mu.Lock()
	if old, ok := w.timers[id]; ok {
		old.Stop()
	}
	d := at.Sub(w.sched.Now())
	if d < 0 {
		d = 0
	}
	w.timers[id] = w.sched.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()
		if err := w.Send(context.Background(), a); err != nil {
			log.Printf("scheduled notification %s failed: %v", id, err)
		}
	})
	w.mu.Unlock()
}

func (w *Webhook) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
	}
}

func (w *Webhook) CancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
