package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tphakala/fieldpipe/internal/fielderr"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherConfig configures the OpenWeather provider.
type OpenWeatherConfig struct {
	APIKey  string
	BaseURL string // overridable for tests; defaults to the real endpoint
}

// OpenWeatherProvider implements Provider against the OpenWeatherMap
// current-conditions endpoint.
type OpenWeatherProvider struct {
	cfg    OpenWeatherConfig
	client *http.Client
}

// NewOpenWeatherProvider builds a provider. client may be nil to use
// http.DefaultClient.
func NewOpenWeatherProvider(cfg OpenWeatherConfig, client *http.Client) *OpenWeatherProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenWeatherProvider{cfg: cfg, client: client}
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

// Fetch implements Provider. Units are requested in metric so Main.Temp
// arrives already in Celsius.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, lat, lon float64) (Observation, error) {
	if p.cfg.APIKey == "" {
		return Observation{}, fielderr.Newf("weather: API key not configured").
			Component("weather").Category(fielderr.CategoryConfig).Build()
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("appid", p.cfg.APIKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Observation{}, fielderr.New(err).Component("weather").Category(fielderr.CategoryTransient).Build()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Observation{}, fielderr.New(err).Component("weather").Category(fielderr.CategoryTransient).
			Context("operation", "fetch_openweather").Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Observation{}, fielderr.Newf("weather: openweather returned status %d", resp.StatusCode).
			Component("weather").Category(fielderr.CategoryTransient).Build()
	}

	var body openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Observation{}, fielderr.New(err).Component("weather").Category(fielderr.CategoryTransient).
			Context("operation", "decode_openweather_response").Build()
	}

	return Observation{
		HourEpoch:     HourEpoch(time.Now()),
		Temperature:   body.Main.Temp,
		Humidity:      body.Main.Humidity,
		Pressure:      body.Main.Pressure,
		WindSpeed:     body.Wind.Speed,
		Precipitation: body.Rain.OneHour,
	}, nil
}
