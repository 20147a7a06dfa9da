package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{GeoBaseURL: srv.URL + "/v1", CTMBaseURL: srv.URL, ReportBaseURL: srv.URL + "/v2", BearerToken: "secret"}, srv.Client())
	c.now = func() time.Time { return time.Date(2025, 10, 13, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestSeverityDefaultsAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/geo/streets/severity" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_, _ = w.Write([]byte(`{"data":[{"street":"A","severity":3}]}`))
	})
	sev, err := c.Severity(context.Background())
	if err != nil {
		t.Fatalf("Severity: %v", err)
	}
	if sev.Status != "success" || sev.Message != "Success" || sev.Timestamp != "2025-10-13T08:00:00Z" || len(sev.Data) != 1 {
		t.Fatalf("unexpected %+v", sev)
	}
}

func TestTruckDataDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "odcai_track2" || q.Get("selectedtime") != "3" {
			t.Errorf("query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"timeStamp":"t0","message":"ok"}`))
	})
	td, err := c.TruckData(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("TruckData: %v", err)
	}
	if td.Timestamp != "t0" || td.Message != "ok" || td.Data == nil {
		t.Fatalf("unexpected %+v", td)
	}
}

func TestDICOverviewParsesLeniently(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/wms/chart/CTM-20241202-2/dic/overview") || r.URL.Query().Get("fromDate") != "2025-10-13" {
			t.Errorf("request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"response":{"body":{"xaxes":"Bins","yaxes":[{"name":"D1","value":"42.5"},{"value":"n/a"},{"name":"D3","value":7}]}}}`))
	})
	ov, err := c.DICOverview(context.Background(), "")
	if err != nil {
		t.Fatalf("DICOverview: %v", err)
	}
	if ov.XAxes != "Bins" || strings.Join(ov.Labels, ",") != "D1,Unknown,D3" {
		t.Fatalf("unexpected %+v", ov)
	}
	if ov.Values[0] != 42.5 || ov.Values[1] != 0 || ov.Values[2] != 7 {
		t.Fatalf("values %v", ov.Values)
	}
}

func TestSearchFeedbackSendsOnlySetFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/api/necfeedback" {
			t.Errorf("path %s", r.URL.Path)
		}
		if r.URL.RawQuery != "sector=S1&type=resolved" {
			t.Errorf("query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"response":{"body":[{"caseId":"1"},{"caseId":"2"}]}}`))
	})
	res, err := c.SearchFeedback(context.Background(), FeedbackQuery{Type: "resolved", Sector: "S1"})
	if err != nil {
		t.Fatalf("SearchFeedback: %v", err)
	}
	if res.Count != 2 || len(res.Filters) != 2 {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestChartAggregations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"body":[
			{"level":80,"battery":10,"address":"Main St"},
			{"level":65,"battery":30,"address":"Main St"},
			{"level":45,"address":"Side St"},
			{"level":10,"battery":75}
		]}}`))
	})
	ch, err := c.ChartData(context.Background(), ChartLevelDistribution)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	for i, want := range []float64{1, 1, 1, 1} {
		if ch.Values[i] != want {
			t.Fatalf("level distribution %v", ch.Values)
		}
	}
	bat, _ := c.ChartData(context.Background(), ChartBatteryStatus)
	if bat.Values[0] != 1 || bat.Values[1] != 1 || bat.Values[3] != 2 {
		t.Fatalf("battery %v", bat.Values)
	}
	loc, _ := c.ChartData(context.Background(), ChartLocationDistribution)
	if loc.Labels[0] != "Main St" || loc.Values[0] != 2 || len(loc.Labels) != 3 {
		t.Fatalf("locations %+v", loc)
	}
	if _, err := c.ChartData(context.Background(), "level_trend"); err == nil {
		t.Fatal("unknown chart type should fail")
	}
}

func TestHTTPErrorShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Severity(context.Background())
	var te *Error
	if !errors.As(err, &te) || te.Code != "SEVERITY_SERVICE_ERROR" || te.Message != "HTTP 401: Unauthorized" {
		t.Fatalf("unexpected %v", err)
	}
}
