// Package tools exposes the weather and telemetry clients as MCP tools and
// routes user text to them.
package tools

import (
	"context"
	"encoding/json"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/metrics"
	"github.com/live-voice-lab/internal/telemetry"
	"github.com/live-voice-lab/internal/weather"
)

// Version is reported in the server's implementation info.
var Version = "v0.1.0"

type weatherArgs struct {
	Location string `json:"location" jsonschema:"city name or location"`
	Units    string `json:"units,omitempty" jsonschema:"metric for Celsius, imperial for Fahrenheit"`
}

type forecastArgs struct {
	Location string `json:"location" jsonschema:"city name or location"`
	Days     int    `json:"days,omitempty" jsonschema:"number of days to forecast (1-7)"`
}

type truckArgs struct {
	TrackType    string `json:"trackType,omitempty" jsonschema:"plot track type, default odcai_track2"`
	SelectedTime int    `json:"selectedTime,omitempty" jsonschema:"hours of history, default 3"`
}

type overviewArgs struct {
	FromDate string `json:"fromDate,omitempty" jsonschema:"start date YYYY-MM-DD, default today"`
}

type chartArgs struct {
	ChartType string `json:"chartType,omitempty" jsonschema:"level_distribution, summary_bar, battery_status or location_distribution"`
}

type noArgs struct{}

// NewServer registers every tool on a fresh MCP server. Either client may
// be nil, in which case its tools are left out. m may be nil.
func NewServer(wc *weather.Client, tc *telemetry.Client, m *metrics.Metrics) *sdk.Server {
	s := sdk.NewServer(&sdk.Implementation{Name: "live-voice-tools", Version: Version}, nil)

	if wc != nil {
		sdk.AddTool(s, &sdk.Tool{Name: GetWeather, Description: "Get current weather information for a location"},
			handler(GetWeather, m, func(ctx context.Context, a weatherArgs) (any, error) {
				return wc.Current(ctx, a.Location, weather.Units(a.Units))
			}))
		sdk.AddTool(s, &sdk.Tool{Name: GetForecast, Description: "Get weather forecast for a location"},
			handler(GetForecast, m, func(ctx context.Context, a forecastArgs) (any, error) {
				return wc.Forecast(ctx, a.Location, a.Days)
			}))
	}

	if tc != nil {
		sdk.AddTool(s, &sdk.Tool{Name: GetSeverity, Description: "Get street cleanliness severity levels"},
			handler(GetSeverity, m, func(ctx context.Context, _ noArgs) (any, error) {
				return tc.Severity(ctx)
			}))
		sdk.AddTool(s, &sdk.Tool{Name: GetTruckData, Description: "Get recent cleaning truck positions"},
			handler(GetTruckData, m, func(ctx context.Context, a truckArgs) (any, error) {
				return tc.TruckData(ctx, a.TrackType, a.SelectedTime)
			}))
		sdk.AddTool(s, &sdk.Tool{Name: GetDICOverview, Description: "Get the DIC device level overview"},
			handler(GetDICOverview, m, func(ctx context.Context, a overviewArgs) (any, error) {
				return tc.DICOverview(ctx, a.FromDate)
			}))
		sdk.AddTool(s, &sdk.Tool{Name: SearchNEAFeedback, Description: "Search NEA feedback cases"},
			handler(SearchNEAFeedback, m, func(ctx context.Context, q telemetry.FeedbackQuery) (any, error) {
				return tc.SearchFeedback(ctx, q)
			}))
		sdk.AddTool(s, &sdk.Tool{Name: SearchDefectNotices, Description: "Search defect notices"},
			handler(SearchDefectNotices, m, func(ctx context.Context, q telemetry.DefectQuery) (any, error) {
				return tc.SearchDefectNotices(ctx, q)
			}))
		sdk.AddTool(s, &sdk.Tool{Name: GetChartData, Description: "Aggregate DIC devices into a chart"},
			handler(GetChartData, m, func(ctx context.Context, a chartArgs) (any, error) {
				return tc.ChartData(ctx, a.ChartType)
			}))
	}
	return s
}

// handler adapts a typed call into an MCP handler that answers with the
// result as JSON text. Returned errors become tool errors carrying the
// error text.
func handler[In any](name string, m *metrics.Metrics, call func(context.Context, In) (any, error)) sdk.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *sdk.CallToolRequest, in In) (*sdk.CallToolResult, any, error) {
		start := time.Now()
		out, err := call(ctx, in)
		m.RecordToolCall(name, err, time.Since(start).Seconds())
		if err != nil {
			logging.Warnw("tool call failed", "tool.name", name, "error", err)
			return nil, nil, err
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, nil, err
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}, nil, nil
	}
}
