package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ClearResult is returned when the remote service clears the parked
// location and opens a departure session.
type ClearResult struct {
	SessionID string  `json:"session_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

type ConfirmResult struct {
	DistanceM float64 `json:"distance_m"`
}

// Service is the remote departure-session port. Failures here put the
// departure pipeline into local-only mode; they never fail it outright.
type Service interface {
	ClearParkedLocation(ctx context.Context, vehicleID string) (ClearResult, error)
	ConfirmDeparture(ctx context.Context, sessionID string, lat, lng float64) (ConfirmResult, error)
}

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

func (c *Client) ClearParkedLocation(ctx context.Context, vehicleID string) (ClearResult, error) {
	var result ClearResult
	err := c.post(ctx, "/v1/parked/clear", map[string]any{"vehicle_id": vehicleID}, &result)
	return result, err
}

func (c *Client) ConfirmDeparture(ctx context.Context, sessionID string, lat, lng float64) (ConfirmResult, error) {
	var result ConfirmResult
	path := "/v1/departures/" + sessionID + "/confirm"
	err := c.post(ctx, path, map[string]any{"lat": lat, "lng": lng}, &result)
	return result, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("session service: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
