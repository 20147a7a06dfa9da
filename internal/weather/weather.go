// Package weather is a small OpenWeatherMap client for current conditions
// and multi-day forecasts.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/live-voice-lab/internal/httputil"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// Units selects the temperature scale.
type Units string

const (
	Metric   Units = "metric"
	Imperial Units = "imperial"
)

// Error is the tool-facing error shape. Code is HTTP_<status> for API
// rejections and WEATHER_SERVICE_ERROR otherwise.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// ErrNotConfigured means no API key was provided.
var ErrNotConfigured = errors.New("weather service not initialized, check OPENWEATHER_API_KEY")

type Current struct {
	Location    string  `json:"location"`
	Country     string  `json:"country"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    int     `json:"humidity"`
	Pressure    int     `json:"pressure"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"`
	Clouds      int     `json:"clouds"`
	Units       string  `json:"units"`
	Timestamp   string  `json:"timestamp"`
}

type Day struct {
	Date          string  `json:"date"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Condition     string  `json:"condition"`
	Humidity      int     `json:"humidity"`
	Precipitation string  `json:"precipitation"`
}

type Forecast struct {
	Location string `json:"location"`
	Country  string `json:"country"`
	Forecast []Day  `json:"forecast"`
}

// Client talks to the OpenWeatherMap 2.5 API.
type Client struct {
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Timeout  time.Duration
	Attempts int
}

// New returns a client against the public API.
func New(apiKey string) *Client {
	return &Client{BaseURL: DefaultBaseURL, APIKey: apiKey, Timeout: 10 * time.Second, Attempts: 2}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c != nil && c.APIKey != "" }

type apiCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type apiMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
	Pressure  int     `json:"pressure"`
}

type currentResponse struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main    apiMain        `json:"main"`
	Weather []apiCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
}

type forecastItem struct {
	DtTxt   string          `json:"dt_txt"`
	Main    apiMain         `json:"main"`
	Weather []apiCondition  `json:"weather"`
	Rain    json.RawMessage `json:"rain,omitempty"`
	Snow    json.RawMessage `json:"snow,omitempty"`
}

type forecastResponse struct {
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
	List []forecastItem `json:"list"`
}

// Current fetches current conditions for location.
func (c *Client) Current(ctx context.Context, location string, units Units) (*Current, error) {
	if !c.Configured() {
		return nil, serviceError(ErrNotConfigured)
	}
	if units != Imperial {
		units = Metric
	}
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.APIKey)
	q.Set("units", string(units))
	var raw currentResponse
	if err := c.get(ctx, "/weather", q, &raw); err != nil {
		return nil, err
	}
	out := &Current{
		Location:    raw.Name,
		Country:     raw.Sys.Country,
		Temperature: raw.Main.Temp,
		FeelsLike:   raw.Main.FeelsLike,
		Humidity:    raw.Main.Humidity,
		Pressure:    raw.Main.Pressure,
		WindSpeed:   raw.Wind.Speed,
		Clouds:      raw.Clouds.All,
		Units:       "celsius",
		Timestamp:   time.Unix(raw.Dt, 0).UTC().Format(time.RFC3339),
	}
	if units == Imperial {
		out.Units = "fahrenheit"
	}
	if len(raw.Weather) > 0 {
		out.Condition = raw.Weather[0].Main
		out.Description = raw.Weather[0].Description
	}
	return out, nil
}

// Forecast fetches days (clamped to 1..7) of 3-hourly data and folds it
// into daily summaries, in metric units.
func (c *Client) Forecast(ctx context.Context, location string, days int) (*Forecast, error) {
	if !c.Configured() {
		return nil, serviceError(ErrNotConfigured)
	}
	days = ClampDays(days)
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.APIKey)
	q.Set("units", string(Metric))
	q.Set("cnt", fmt.Sprint(days*8))
	var raw forecastResponse
	if err := c.get(ctx, "/forecast", q, &raw); err != nil {
		return nil, err
	}
	return &Forecast{
		Location: raw.City.Name,
		Country:  raw.City.Country,
		Forecast: summarize(raw.List, days),
	}, nil
}

// ClampDays bounds a requested forecast length; zero means the default of 3.
func ClampDays(days int) int {
	if days == 0 {
		return 3
	}
	return min(max(days, 1), 7)
}

// summarize groups 3-hourly items by calendar date, in arrival order.
func summarize(items []forecastItem, days int) []Day {
	var order []string
	groups := make(map[string][]forecastItem)
	for _, it := range items {
		date, _, _ := strings.Cut(it.DtTxt, " ")
		if _, ok := groups[date]; !ok {
			order = append(order, date)
		}
		groups[date] = append(groups[date], it)
	}
	out := make([]Day, 0, min(days, len(order)))
	for _, date := range order {
		if len(out) >= days {
			break
		}
		group := groups[date]
		d := Day{Date: date, High: group[0].Main.Temp, Low: group[0].Main.Temp, Precipitation: "No"}
		var humidity int
		var conditions []string
		for _, it := range group {
			d.High = max(d.High, it.Main.Temp)
			d.Low = min(d.Low, it.Main.Temp)
			humidity += it.Main.Humidity
			if len(it.Weather) > 0 {
				conditions = append(conditions, it.Weather[0].Main)
			}
			if hasPrecip(it.Rain) || hasPrecip(it.Snow) {
				d.Precipitation = "Yes"
			}
		}
		d.Humidity = int(float64(humidity)/float64(len(group)) + 0.5)
		d.Condition = mostFrequent(conditions)
		out = append(out, d)
	}
	return out
}

func hasPrecip(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// mostFrequent returns the most common value; ties go to the value seen first.
func mostFrequent(vals []string) string {
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, v := range vals {
		if _, ok := first[v]; !ok {
			first[v] = i
		}
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return first[keys[i]] < first[keys[j]]
	})
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	resp, err := httputil.GetWithRetries(ctx, c.HTTP, httputil.Request{
		URL:      strings.TrimRight(base, "/") + path + "?" + q.Encode(),
		Header:   http.Header{"Accept": []string{"application/json"}},
		Timeout:  c.Timeout,
		Attempts: c.Attempts,
	})
	if err != nil {
		return serviceError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return serviceError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return serviceError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func apiError(status int, body []byte) *Error {
	var details map[string]any
	msg := "Unknown error occurred"
	if json.Unmarshal(body, &details) == nil {
		if m, ok := details["message"].(string); ok && m != "" {
			msg = m
		}
	}
	return &Error{Code: fmt.Sprintf("HTTP_%d", status), Message: msg, Details: details}
}

func serviceError(err error) *Error {
	msg := err.Error()
	if msg == "" {
		msg = "An unexpected error occurred"
	}
	return &Error{Code: "WEATHER_SERVICE_ERROR", Message: msg}
}
