// Package telemetry reads street-cleaning telemetry: severity, truck
// plots, DIC device overviews, NEA feedback and defect notices.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/live-voice-lab/internal/httputil"
)

// Error is the tool-facing error shape; Code is always SEVERITY_SERVICE_ERROR.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func serviceError(err error) *Error {
	return &Error{Code: "SEVERITY_SERVICE_ERROR", Message: err.Error()}
}

// Config locates the three upstream APIs and the device group to report on.
type Config struct {
	GeoBaseURL    string        `mapstructure:"geo_base_url"`
	CTMBaseURL    string        `mapstructure:"ctm_base_url"`
	ReportBaseURL string        `mapstructure:"report_base_url"`
	BearerToken   string        `mapstructure:"bearer_token"`
	Project       string        `mapstructure:"project"`
	Group         string        `mapstructure:"group"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig points at the production endpoints with a 15 s timeout.
func DefaultConfig() Config {
	return Config{
		GeoBaseURL:    "https://api.pixvisonz.com/v1",
		CTMBaseURL:    "https://ctm.sensz.ai",
		ReportBaseURL: "https://api.pixvisonz.com/v2",
		Project:       "CTM-20241202-2",
		Group:         "SGOF-20241227-8",
		Timeout:       15 * time.Second,
	}
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func New(cfg Config, hc *http.Client) *Client {
	def := DefaultConfig()
	if cfg.GeoBaseURL == "" {
		cfg.GeoBaseURL = def.GeoBaseURL
	}
	if cfg.CTMBaseURL == "" {
		cfg.CTMBaseURL = def.CTMBaseURL
	}
	if cfg.ReportBaseURL == "" {
		cfg.ReportBaseURL = def.ReportBaseURL
	}
	if cfg.Project == "" {
		cfg.Project = def.Project
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

type Severity struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Data      []any  `json:"data"`
}

type TruckData struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	Message      string `json:"message"`
	TrackType    string `json:"trackType"`
	SelectedTime int    `json:"selectedTime"`
	Data         []any  `json:"data"`
}

type DICOverview struct {
	Status string    `json:"status"`
	XAxes  string    `json:"xaxes"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// SearchResult is shared by the feedback and defect notice searches.
type SearchResult struct {
	Status  string            `json:"status"`
	Count   int               `json:"count"`
	Filters map[string]string `json:"filters"`
	Data    []any             `json:"data"`
}

type FeedbackQuery struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Type      string `json:"type,omitempty" jsonschema:"received, acknowledge, resolved or reply"`
	CaseID    string `json:"caseId,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Status    string `json:"status,omitempty"`
}

type DefectQuery struct {
	StartDate  string `json:"startDate,omitempty"`
	EndDate    string `json:"endDate,omitempty"`
	RouteID    string `json:"routeId,omitempty"`
	DPCOfficer string `json:"dpcOfficer,omitempty"`
	Supervisor string `json:"supervisor,omitempty"`
	Region     string `json:"region,omitempty"`
	Sector     string `json:"sector,omitempty"`
	Status     string `json:"status,omitempty"`
}

// envelope covers both upstream response styles: {timeStamp, message, data}
// and {response: {body}}.
type envelope struct {
	TimeStamp string `json:"timeStamp"`
	Message   string `json:"message"`
	Data      []any  `json:"data"`
	Response  struct {
		Body json.RawMessage `json:"body"`
	} `json:"response"`
}

func (c *Client) Severity(ctx context.Context) (*Severity, error) {
	var env envelope
	if err := c.get(ctx, c.cfg.GeoBaseURL+"/geo/streets/severity", &env); err != nil {
		return nil, err
	}
	return &Severity{
		Status:    "success",
		Timestamp: c.stamp(env.TimeStamp),
		Message:   orDefault(env.Message, "Success"),
		Data:      nonNil(env.Data),
	}, nil
}

// TruckData returns plots for trackType over the last selectedTime hours.
func (c *Client) TruckData(ctx context.Context, trackType string, selectedTime int) (*TruckData, error) {
	trackType = orDefault(trackType, "odcai_track2")
	if selectedTime <= 0 {
		selectedTime = 3
	}
	q := url.Values{}
	q.Set("type", trackType)
	q.Set("selectedtime", strconv.Itoa(selectedTime))
	var env envelope
	if err := c.get(ctx, c.cfg.GeoBaseURL+"/geo/map/plots/view?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	return &TruckData{
		Status:       "success",
		Timestamp:    c.stamp(env.TimeStamp),
		Message:      orDefault(env.Message, "Success"),
		TrackType:    trackType,
		SelectedTime: selectedTime,
		Data:         nonNil(env.Data),
	}, nil
}

// DICOverview reports per-device readings since fromDate (YYYY-MM-DD,
// default today). Values that do not parse as numbers read as 0.
func (c *Client) DICOverview(ctx context.Context, fromDate string) (*DICOverview, error) {
	fromDate = orDefault(fromDate, c.now().Format("2006-01-02"))
	q := url.Values{}
	q.Set("fromDate", fromDate)
	q.Set("groupId", c.cfg.Group)
	var env envelope
	u := fmt.Sprintf("%s/wms/chart/%s/dic/overview?%s", c.cfg.CTMBaseURL, c.cfg.Project, q.Encode())
	if err := c.get(ctx, u, &env); err != nil {
		return nil, err
	}
	var body struct {
		XAxes string `json:"xaxes"`
		YAxes []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"yaxes"`
	}
	if len(env.Response.Body) > 0 {
		_ = json.Unmarshal(env.Response.Body, &body)
	}
	out := &DICOverview{Status: "success", XAxes: orDefault(body.XAxes, "N/A"), Labels: []string{}, Values: []float64{}}
	for _, y := range body.YAxes {
		out.Labels = append(out.Labels, orDefault(y.Name, "Unknown"))
		out.Values = append(out.Values, lenientFloat(y.Value))
	}
	return out, nil
}

func (c *Client) SearchFeedback(ctx context.Context, f FeedbackQuery) (*SearchResult, error) {
	filters := compact(map[string]string{
		"startDate": f.StartDate, "endDate": f.EndDate, "type": f.Type,
		"caseId": f.CaseID, "sector": f.Sector, "status": f.Status,
	})
	return c.search(ctx, "/api/necfeedback", filters)
}

func (c *Client) SearchDefectNotices(ctx context.Context, f DefectQuery) (*SearchResult, error) {
	filters := compact(map[string]string{
		"startDate": f.StartDate, "endDate": f.EndDate, "routeId": f.RouteID,
		"dpcOfficer": f.DPCOfficer, "supervisor": f.Supervisor, "region": f.Region,
		"sector": f.Sector, "status": f.Status,
	})
	return c.search(ctx, "/api/defectnotice", filters)
}

func (c *Client) search(ctx context.Context, path string, filters map[string]string) (*SearchResult, error) {
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}
	var env envelope
	if err := c.get(ctx, c.cfg.ReportBaseURL+path+"?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	var rows []any
	if len(env.Response.Body) > 0 {
		_ = json.Unmarshal(env.Response.Body, &rows)
	}
	rows = nonNil(rows)
	return &SearchResult{Status: "success", Count: len(rows), Filters: filters, Data: rows}, nil
}

// devices fetches the raw device list behind the chart aggregations.
func (c *Client) devices(ctx context.Context) ([]Device, error) {
	q := url.Values{}
	q.Set("groupId", c.cfg.Group)
	var env envelope
	u := fmt.Sprintf("%s/wms/devices/%s?%s", c.cfg.CTMBaseURL, c.cfg.Project, q.Encode())
	if err := c.get(ctx, u, &env); err != nil {
		return nil, err
	}
	var devices []Device
	if len(env.Response.Body) > 0 {
		if err := json.Unmarshal(env.Response.Body, &devices); err != nil {
			return nil, serviceError(fmt.Errorf("decode devices: %w", err))
		}
	}
	return devices, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.cfg.BearerToken != "" {
		h.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}
	resp, err := httputil.GetWithRetries(ctx, c.http, httputil.Request{URL: u, Header: h, Timeout: c.cfg.Timeout, Attempts: 1})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return serviceError(fmt.Errorf("request timed out after %dms", c.cfg.Timeout.Milliseconds()))
		}
		return serviceError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return serviceError(fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return serviceError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) stamp(ts string) string {
	return orDefault(ts, c.now().UTC().Format(time.RFC3339))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func lenientFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
