package telemetry

import (
	"context"
	"fmt"
	"sort"
)

// Device is one DIC sensor as reported by the device list endpoint.
type Device struct {
	ID      string   `json:"deviceId,omitempty"`
	Level   *float64 `json:"level,omitempty"`
	Battery *float64 `json:"battery,omitempty"`
	Address string   `json:"address,omitempty"`
}

func (d Device) level() float64 {
	if d.Level == nil {
		return 0
	}
	return *d.Level
}

// battery treats an unreported battery as full.
func (d Device) battery() float64 {
	if d.Battery == nil {
		return 100
	}
	return *d.Battery
}

// Chart is a render-ready aggregation.
type Chart struct {
	Type   string    `json:"type"`
	Title  string    `json:"title"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Colors []string  `json:"colors,omitempty"`
}

// Chart kinds accepted by ChartData.
const (
	ChartLevelDistribution    = "level_distribution"
	ChartSummaryBar           = "summary_bar"
	ChartBatteryStatus        = "battery_status"
	ChartLocationDistribution = "location_distribution"
)

const (
	red    = "#d32f2f"
	orange = "#f57c00"
	yellow = "#fbc02d"
	blue   = "#1976d2"
	green  = "#388e3c"
)

// ChartData aggregates the device list into the named chart.
func (c *Client) ChartData(ctx context.Context, kind string) (*Chart, error) {
	if kind == "" {
		kind = ChartLevelDistribution
	}
	build, ok := chartBuilders[kind]
	if !ok {
		return nil, serviceError(fmt.Errorf("unknown chart type: %s", kind))
	}
	devices, err := c.devices(ctx)
	if err != nil {
		return nil, err
	}
	return build(devices), nil
}

var chartBuilders = map[string]func([]Device) *Chart{
	ChartLevelDistribution:    levelDistribution,
	ChartSummaryBar:           summaryBar,
	ChartBatteryStatus:        batteryStatus,
	ChartLocationDistribution: locationDistribution,
}

func countWhere(devices []Device, pred func(Device) bool) float64 {
	var n float64
	for _, d := range devices {
		if pred(d) {
			n++
		}
	}
	return n
}

func levelDistribution(devices []Device) *Chart {
	return &Chart{
		Type:   "pie",
		Title:  "DIC Device Level Distribution",
		Labels: []string{"Critical (>70%)", "Warning (60-70%)", "Normal (40-60%)", "Good (<40%)"},
		Values: []float64{
			countWhere(devices, func(d Device) bool { return d.level() > 70 }),
			countWhere(devices, func(d Device) bool { return d.level() >= 60 && d.level() <= 70 }),
			countWhere(devices, func(d Device) bool { return d.level() >= 40 && d.level() < 60 }),
			countWhere(devices, func(d Device) bool { return d.level() < 40 }),
		},
		Colors: []string{red, orange, blue, green},
	}
}

func summaryBar(devices []Device) *Chart {
	return &Chart{
		Type:   "bar",
		Title:  "DIC Device Status Summary",
		Labels: []string{"Critical", "Moderate", "Good"},
		Values: []float64{
			countWhere(devices, func(d Device) bool { return d.level() > 75 }),
			countWhere(devices, func(d Device) bool { return d.level() >= 50 && d.level() <= 75 }),
			countWhere(devices, func(d Device) bool { return d.level() < 50 }),
		},
		Colors: []string{red, orange, green},
	}
}

func batteryStatus(devices []Device) *Chart {
	return &Chart{
		Type:   "pie",
		Title:  "Battery Status Distribution",
		Labels: []string{"Critical (<20%)", "Low (20-40%)", "Medium (40-70%)", "Good (>=70%)"},
		Values: []float64{
			countWhere(devices, func(d Device) bool { return d.battery() < 20 }),
			countWhere(devices, func(d Device) bool { return d.battery() >= 20 && d.battery() < 40 }),
			countWhere(devices, func(d Device) bool { return d.battery() >= 40 && d.battery() < 70 }),
			countWhere(devices, func(d Device) bool { return d.battery() >= 70 }),
		},
		Colors: []string{red, orange, yellow, green},
	}
}

// locationDistribution keeps the ten busiest addresses; ties sort by name.
func locationDistribution(devices []Device) *Chart {
	counts := make(map[string]int)
	for _, d := range devices {
		addr := d.Address
		if addr == "" {
			addr = "Unknown"
		}
		counts[addr]++
	}
	addrs := make([]string, 0, len(counts))
	for a := range counts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if counts[addrs[i]] != counts[addrs[j]] {
			return counts[addrs[i]] > counts[addrs[j]]
		}
		return addrs[i] < addrs[j]
	})
	if len(addrs) > 10 {
		addrs = addrs[:10]
	}
	ch := &Chart{Type: "bar", Title: "Top 10 Locations by Device Count", Labels: addrs, Values: make([]float64, 0, len(addrs))}
	for _, a := range addrs {
		ch.Values = append(ch.Values, float64(counts[a]))
		ch.Colors = append(ch.Colors, blue)
	}
	return ch
}
