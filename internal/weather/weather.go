package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Period is one forecast window with free-text and structured fields.
type Period struct {
	Name             string    `json:"name"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	ShortForecast    string    `json:"shortForecast"`
	DetailedForecast string    `json:"detailedForecast"`
}

// Source is the weather port consumed by the snow-forecast monitor.
type Source interface {
	PointForecastURL(ctx context.Context, lat, lng float64) (string, error)
	Forecast(ctx context.Context, forecastURL string) ([]Period, error)
}

// Client talks to an NWS-style point/forecast API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type pointResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []Period `json:"periods"`
	} `json:"properties"`
}

func (c *Client) PointForecastURL(ctx context.Context, lat, lng float64) (string, error) {
	endpoint := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lng)
	var decoded pointResponse
	if err := c.getJSON(ctx, endpoint, &decoded); err != nil {
		return "", err
	}
	if decoded.Properties.Forecast == "" {
		return "", fmt.Errorf("point lookup returned no forecast url")
	}
	return decoded.Properties.Forecast, nil
}

func (c *Client) Forecast(ctx context.Context, forecastURL string) ([]Period, error) {
	var decoded forecastResponse
	if err := c.getJSON(ctx, forecastURL, &decoded); err != nil {
		return nil, err
	}
	return decoded.Properties.Periods, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather service: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
