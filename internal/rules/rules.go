package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Rule types returned by the restriction service.
const (
	TypeStreetCleaning = "street_cleaning"
	TypeWinterBan      = "winter_overnight_ban"
	TypePermitZone     = "permit_zone"
	TypeSnowRoute      = "snow_route"
)

type Rule struct {
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Severity string    `json:"severity"`
	Zone     string    `json:"zone,omitempty"`
	NextDate time.Time `json:"next_date,omitempty"`
}

// Risk is the enforcement-risk assessment carried in the raw payload.
type Risk struct {
	Urgency     string    `json:"urgency"`
	Score       float64   `json:"score"`
	PeakStart   time.Time `json:"peak_start,omitempty"`
	PeakEnd     time.Time `json:"peak_end,omitempty"`
	TicketCount int       `json:"historical_ticket_count"`
}

// Result is the outcome of a rules check at one coordinate.
type Result struct {
	Address string `json:"address"`
	Rules   []Rule `json:"rules"`
	Risk    Risk   `json:"enforcement_risk"`
}

// HasActive reports whether any restriction currently applies.
func (r Result) HasActive() bool {
	return len(r.Rules) > 0
}

// Checker is the rules-check port consumed by the monitor.
type Checker interface {
	Check(ctx context.Context, lat, lng float64) (Result, error)
}

// Client calls the external restriction-rules service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Check(ctx context.Context, lat, lng float64) (Result, error) {
	endpoint := fmt.Sprintf("%s/v1/check?lat=%s&lng=%s", c.baseURL,
		url.QueryEscape(fmt.Sprintf("%.6f", lat)),
		url.QueryEscape(fmt.Sprintf("%.6f", lng)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("rules check failed: status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}
	return result, nil
}
