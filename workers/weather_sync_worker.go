// workers/weather_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fitness-score-engine/services"
	"fitness-score-engine/utils"
)

// WeatherApplier is the bonus scheduler's weather-fed path.
type WeatherApplier interface {
	ApplyWeatherFeed(ctx context.Context, reading services.WeatherReading) (int64, error)
}

// WeatherFeedClient reads normalized readings from the weather feed service.
type WeatherFeedClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewWeatherFeedClient(baseURL, token string) *WeatherFeedClient {
	return &WeatherFeedClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *WeatherFeedClient) GetReadings(ctx context.Context) ([]services.WeatherReading, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse weather feed URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call weather feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("weather feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Readings []services.WeatherReading `json:"readings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode weather feed response: %w", err)
	}
	return response.Readings, nil
}

// SyncWeatherOnce applies every reading. Unknown regions are logged and skipped.
func SyncWeatherOnce(ctx context.Context, client *WeatherFeedClient, bonus WeatherApplier, log *utils.Logger) (int, error) {
	log = utils.OrNop(log)
	readings, err := client.GetReadings(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, r := range readings {
		if _, err := bonus.ApplyWeatherFeed(ctx, r); err != nil {
			log.Warn("⚠️ weather reading rejected", "region", r.Region, "error", err)
			continue
		}
		applied++
	}
	return applied, nil
}

// PollWeather applies the feed every pollInterval until ctx is done.
func PollWeather(ctx context.Context, client *WeatherFeedClient, bonus WeatherApplier, pollInterval time.Duration, log *utils.Logger) {
	log = utils.OrNop(log)
	log.Info("Starting weather feed polling...", "interval", pollInterval.String())

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Weather polling stopped.")
			return
		case <-ticker.C:
			n, err := SyncWeatherOnce(ctx, client, bonus, log)
			if err != nil {
				log.Error("❌ Error polling weather feed", "error", err)
				continue
			}
			log.Info("📥 Weather readings applied", "count", n)
		}
	}
}
