package tools

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/live-voice-lab/internal/weather"
)

// Tool names served by the tool server.
const (
	GetWeather          = "get_weather"
	GetForecast         = "get_forecast"
	GetSeverity         = "get_severity"
	GetTruckData        = "get_truck_data"
	GetDICOverview      = "get_dic_overview"
	SearchNEAFeedback   = "search_nea_feedback"
	SearchDefectNotices = "search_defect_notices"
	GetChartData        = "get_chart_data"
)

// Intent is a tool call inferred from user text.
type Intent struct {
	Tool string
	Args map[string]any
}

var (
	weatherWords  = []string{"weather", "temperature", "hot", "cold", "warm", "chilly", "humid", "rain"}
	forecastWords = []string{"forecast", "tomorrow", "week", "later", "next", "upcoming", "future", "days"}

	// A location follows in/at/for and runs until a time phrase, a number,
	// punctuation or the end of the sentence.
	introRe = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+`)
	placeRe = regexp.MustCompile(`(?i)^([a-z][a-z\s,'-]*?)\s*(?:\b(?:today|tonight|tomorrow|now|this|next|over|during|for|in)\b|\d|[?.!]|$)`)
	daysRe  = regexp.MustCompile(`(\d+)\s*days?`)
	hoursRe = regexp.MustCompile(`(\d+)\s*(?:hours?|hrs?)`)

	notLocations = map[string]bool{
		"the": true, "a": true, "me": true, "us": true, "it": true, "my": true, "our": true,
		"today": true, "tonight": true, "tomorrow": true, "now": true, "this": true, "next": true,
	}
)

// Classify maps free text to a tool call. Telemetry phrases are checked
// first since their keywords are more specific than the weather ones.
func Classify(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	words := strings.Fields(strings.Map(func(r rune) rune {
		if r == '?' || r == '.' || r == ',' || r == '!' {
			return ' '
		}
		return r
	}, lower))

	if in, ok := classifyTelemetry(lower, words); ok {
		return in, true
	}

	isWeather := anyPrefix(words, weatherWords)
	isForecast := anyPrefix(words, forecastWords)
	if !isWeather && !isForecast {
		return Intent{}, false
	}
	loc := extractLocation(text)
	if loc == "" {
		return Intent{}, false
	}
	if isForecast {
		days := 0
		if m := daysRe.FindStringSubmatch(lower); m != nil {
			days, _ = strconv.Atoi(m[1])
		}
		return Intent{Tool: GetForecast, Args: map[string]any{"location": loc, "days": weather.ClampDays(days)}}, true
	}
	units := string(weather.Metric)
	if strings.Contains(lower, "fahrenheit") {
		units = string(weather.Imperial)
	}
	return Intent{Tool: GetWeather, Args: map[string]any{"location": loc, "units": units}}, true
}

func classifyTelemetry(lower string, words []string) (Intent, bool) {
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	switch {
	case strings.Contains(lower, "severity"):
		return Intent{Tool: GetSeverity, Args: map[string]any{}}, true
	case anyPrefix(words, []string{"truck"}):
		args := map[string]any{"trackType": "odcai_track2", "selectedTime": 3}
		if m := hoursRe.FindStringSubmatch(lower); m != nil {
			if h, err := strconv.Atoi(m[1]); err == nil && h > 0 {
				args["selectedTime"] = h
			}
		}
		return Intent{Tool: GetTruckData, Args: args}, true
	case strings.Contains(lower, "feedback"):
		args := map[string]any{}
		for _, t := range []string{"received", "acknowledge", "resolved", "reply"} {
			if anyPrefix(words, []string{t}) {
				args["type"] = t
				break
			}
		}
		return Intent{Tool: SearchNEAFeedback, Args: args}, true
	case strings.Contains(lower, "defect"):
		return Intent{Tool: SearchDefectNotices, Args: map[string]any{}}, true
	case has("chart") || has("battery") || has("distribution") || has("graph"):
		kind := "level_distribution"
		switch {
		case has("battery"):
			kind = "battery_status"
		case anyPrefix(words, []string{"location"}):
			kind = "location_distribution"
		case has("summary") || has("bar"):
			kind = "summary_bar"
		}
		return Intent{Tool: GetChartData, Args: map[string]any{"chartType": kind}}, true
	case has("dic") || strings.Contains(lower, "overview"):
		return Intent{Tool: GetDICOverview, Args: map[string]any{}}, true
	}
	return Intent{}, false
}

func anyPrefix(words, prefixes []string) bool {
	for _, w := range words {
		for _, p := range prefixes {
			if strings.HasPrefix(w, p) {
				return true
			}
		}
	}
	return false
}

// extractLocation returns the first plausible place name, keeping the
// user's capitalisation.
func extractLocation(text string) string {
	for _, idx := range introRe.FindAllStringIndex(text, -1) {
		m := placeRe.FindStringSubmatch(text[idx[1]:])
		if m == nil {
			continue
		}
		loc := strings.Trim(strings.TrimSpace(m[1]), ",")
		if loc == "" {
			continue
		}
		first := strings.ToLower(strings.Fields(loc)[0])
		if notLocations[first] {
			continue
		}
		return loc
	}
	return ""
}
