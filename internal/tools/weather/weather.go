// Package weather implements the get_weather tool on top of the keyless
// Open-Meteo geocoding and forecast APIs.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/chatterbox/internal/llm"
	"github.com/soyeahso/chatterbox/internal/logging"
	"github.com/soyeahso/chatterbox/internal/tools"
	"github.com/soyeahso/chatterbox/internal/version"
)

// ToolName is the name the LLM calls the tool by.
const ToolName = "get_weather"

// Open-Meteo endpoints.
const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultTimeout      = 10 * time.Second
)

// ErrLocationNotFound is returned when geocoding yields no results.
var ErrLocationNotFound = errors.New("location not found")

// StatusError is a non-2xx response from either endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// WMO weather interpretation codes.
var wmoConditions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	71: "Slight snow",
	73: "Moderate snow",
	75: "Heavy snow",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// Describe maps a WMO weather code to a phrase.
func Describe(code int) string {
	if s, ok := wmoConditions[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown conditions (code %d)", code)
}

// CelsiusToFahrenheit converts and rounds to one decimal.
func CelsiusToFahrenheit(c float64) float64 { return round1(c*9/5 + 32) }

// KmhToMph converts and rounds to one decimal.
func KmhToMph(kmh float64) float64 { return round1(kmh * 0.621371) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// Conditions is the tool result.
type Conditions struct {
	LocationName    string  `json:"location_name"`
	TemperatureC    float64 `json:"temperature_c"`
	TemperatureF    float64 `json:"temperature_f"`
	Conditions      string  `json:"conditions"`
	HumidityPercent int     `json:"humidity_percent"`
	WindSpeedKmh    float64 `json:"wind_speed_kmh"`
	WindSpeedMph    float64 `json:"wind_speed_mph"`
}

// Tool fetches current conditions for a free-text location.
type Tool struct {
	httpClient   *http.Client
	geocodingURL string
	forecastURL  string
	log          *logging.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Tool) { t.httpClient = hc }
}

// WithEndpoints overrides the geocoding and forecast URLs. Empty values keep
// the defaults.
func WithEndpoints(geocodingURL, forecastURL string) Option {
	return func(t *Tool) {
		if geocodingURL != "" {
			t.geocodingURL = geocodingURL
		}
		if forecastURL != "" {
			t.forecastURL = forecastURL
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New creates the weather tool.
func New(log *logging.Logger, opts ...Option) *Tool {
	t := &Tool{
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		geocodingURL: DefaultGeocodingURL,
		forecastURL:  DefaultForecastURL,
		log:          log.Sub("weather"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Definition implements tools.Tool.
func (t *Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: ToolName,
		Description: "Get current weather conditions for a location. " +
			"Returns temperature (Celsius and Fahrenheit), sky conditions, " +
			"relative humidity, and wind speed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type": "string",
					"description": "City name, 'City, State', or 'City, Country'. " +
						"Examples: 'Kansas City', 'London', 'Paris, France', 'Austin, Texas'.",
				},
			},
			"required": []any{"location"},
		},
	}
}

// Execute implements tools.Tool. Expected failures come back as an error
// payload; only unexpected transport or decoding failures return an error.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	location, _ := args["location"].(string)
	location = strings.TrimSpace(location)
	if location == "" {
		return tools.ErrorPayload("Missing required argument: location"), nil
	}

	cond, err := t.Lookup(ctx, location)
	var statusErr *StatusError
	switch {
	case err == nil:
		return tools.JSONResult(cond), nil
	case errors.Is(err, ErrLocationNotFound):
		return tools.ErrorPayload(fmt.Sprintf("Location not found: '%s'", location)), nil
	case errors.As(err, &statusErr):
		t.log.Error().Int("status", statusErr.StatusCode).Str("location", location).Msg("weather API HTTP error")
		return tools.ErrorPayload(fmt.Sprintf("Weather service error: %d", statusErr.StatusCode)), nil
	case isTimeout(err):
		t.log.Error().Str("location", location).Msg("weather API timed out")
		return tools.ErrorPayload("Weather service timed out"), nil
	default:
		return "", err
	}
}

// Lookup geocodes location and fetches its current conditions.
func (t *Tool) Lookup(ctx context.Context, location string) (*Conditions, error) {
	lat, lon, name, err := t.geocode(ctx, location)
	if err != nil {
		return nil, err
	}
	return t.current(ctx, lat, lon, name)
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Admin1    string  `json:"admin1"`
		Country   string  `json:"country"`
	} `json:"results"`
}

func (t *Tool) geocode(ctx context.Context, location string) (lat, lon float64, name string, err error) {
	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var resp geocodeResponse
	if err := t.getJSON(ctx, t.geocodingURL, q, &resp); err != nil {
		return 0, 0, "", fmt.Errorf("geocode %q: %w", location, err)
	}
	if len(resp.Results) == 0 {
		return 0, 0, "", fmt.Errorf("%w: %q", ErrLocationNotFound, location)
	}

	place := resp.Results[0]
	parts := []string{location}
	if place.Name != "" {
		parts[0] = place.Name
	}
	if place.Admin1 != "" {
		parts = append(parts, place.Admin1)
	}
	if place.Country != "" {
		parts = append(parts, place.Country)
	}
	name = strings.Join(parts, ", ")

	t.log.Debug().Str("location", location).Str("resolved", name).Float64("lat", place.Latitude).Float64("lon", place.Longitude).Msg("geocoded")
	return place.Latitude, place.Longitude, name, nil
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode float64 `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

func (t *Tool) current(ctx context.Context, lat, lon float64, name string) (*Conditions, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("temperature_unit", "celsius")
	q.Set("wind_speed_unit", "kmh")

	var resp forecastResponse
	if err := t.getJSON(ctx, t.forecastURL, q, &resp); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	c := resp.Current
	return &Conditions{
		LocationName:    name,
		TemperatureC:    c.Temperature,
		TemperatureF:    CelsiusToFahrenheit(c.Temperature),
		Conditions:      Describe(int(c.WeatherCode)),
		HumidityPercent: int(c.Humidity),
		WindSpeedKmh:    c.WindSpeed,
		WindSpeedMph:    KmhToMph(c.WindSpeed),
	}, nil
}

func (t *Tool) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
