// Package weather is a capability provider backed by the wttr.in weather
// service. It is domain glue on top of the transport: the dispatcher only
// ever sees it through the capability.Provider interface.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public wttr.in endpoint.
const DefaultBaseURL = "https://wttr.in"

// Client fetches weather reports in wttr.in's j1 JSON format.
type Client struct {
	httpc   *http.Client
	baseURL string
	log     *slog.Logger
}

// ClientOption configures NewClient.
type ClientOption func(*Client)

// WithBaseURL points the client at an alternate endpoint. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient builds a wttr.in client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpc:   &http.Client{Timeout: 10 * time.Second},
		baseURL: DefaultBaseURL,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report is the subset of the j1 payload the capabilities format.
type Report struct {
	Current []Condition `json:"current_condition"`
	Days    []Day       `json:"weather"`
}

// Condition is one observed weather state. wttr.in encodes numbers as
// strings.
type Condition struct {
	TempC          string      `json:"temp_C"`
	TempF          string      `json:"temp_F"`
	Desc           []TextValue `json:"weatherDesc"`
	Humidity       string      `json:"humidity"`
	WindSpeedKmph  string      `json:"windspeedKmph"`
	WindDir16Point string      `json:"winddir16Point"`
}

// Day is one forecast day.
type Day struct {
	Date     string `json:"date"`
	MaxTempC string `json:"maxtempC"`
	MinTempC string `json:"mintempC"`
	Hourly   []Hour `json:"hourly"`
}

// Hour is one forecast slot within a day.
type Hour struct {
	Desc []TextValue `json:"weatherDesc"`
}

// TextValue wraps wttr.in's {"value": "..."} strings.
type TextValue struct {
	Value string `json:"value"`
}

func (c Condition) description() string {
	if len(c.Desc) == 0 {
		return "unknown"
	}
	return c.Desc[0].Value
}

func (d Day) description() string {
	if len(d.Hourly) == 0 || len(d.Hourly[0].Desc) == 0 {
		return "unknown"
	}
	return d.Hourly[0].Desc[0].Value
}

// Lookup fetches the full report for a city.
func (c *Client) Lookup(ctx context.Context, city string) (*Report, error) {
	u := fmt.Sprintf("%s/%s?format=j1", c.baseURL, url.PathEscape(city))
	c.log.DebugContext(ctx, "fetching weather report", slog.String("city", city))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weather data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("failed to fetch weather data: status %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode weather data: %w", err)
	}
	return &report, nil
}

// FormatCurrent renders the current conditions for a city.
func FormatCurrent(city string, report *Report) (string, error) {
	if report == nil || len(report.Current) == 0 {
		return "", fmt.Errorf("no current conditions for %s", city)
	}
	cur := report.Current[0]

	var b strings.Builder
	fmt.Fprintf(&b, "Current Weather in %s:\n", city)
	fmt.Fprintf(&b, "Temperature: %s°C (%s°F)\n", cur.TempC, cur.TempF)
	fmt.Fprintf(&b, "Condition: %s\n", cur.description())
	fmt.Fprintf(&b, "Humidity: %s%%\n", cur.Humidity)
	fmt.Fprintf(&b, "Wind: %s km/h %s", cur.WindSpeedKmph, cur.WindDir16Point)
	return b.String(), nil
}

// FormatForecast renders up to days forecast entries for a city.
func FormatForecast(city string, days int, report *Report) (string, error) {
	if report == nil || len(report.Days) == 0 {
		return "", fmt.Errorf("no forecast for %s", city)
	}
	if days > len(report.Days) {
		days = len(report.Days)
	}

	lines := make([]string, 0, days+1)
	lines = append(lines, fmt.Sprintf("%d-Day Weather Forecast for %s:\n", days, city))
	for _, day := range report.Days[:days] {
		lines = append(lines, fmt.Sprintf("%s: %s°C - %s°C, %s", day.Date, day.MinTempC, day.MaxTempC, day.description()))
	}
	return strings.Join(lines, "\n"), nil
}
