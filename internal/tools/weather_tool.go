package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWeatherURL = "https://wttr.in"

// WeatherTool fetches a one-line weather report from wttr.in.
type WeatherTool struct {
	baseURL    string
	httpClient *http.Client
}

var _ ToolExecutor = (*WeatherTool)(nil)

type weatherArgs struct {
	Location string `json:"location" jsonschema_description:"The city and state, e.g. San Francisco CA or Kharagpur India"`
}

// NewWeatherTool creates a WeatherTool with its own timeout-bound HTTP client.
// An empty baseURL uses wttr.in.
func NewWeatherTool(baseURL string) *WeatherTool {
	if baseURL == "" {
		baseURL = defaultWeatherURL
	}
	return &WeatherTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (wt *WeatherTool) Definition() Tool {
	return NewFunctionTool(
		"getCurrentWeather",
		"Get the current weather for a specific location",
		SchemaFor(&weatherArgs{}),
	)
}

func (wt *WeatherTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args weatherArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments for weather tool: %w", err)
	}
	if args.Location == "" {
		return "Error: Location cannot be empty.", nil
	}

	url := fmt.Sprintf("%s/%s?format=3", wt.baseURL, strings.ReplaceAll(args.Location, " ", "+"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create weather API request: %w", err)
	}
	// Some services block the default Go user agent.
	req.Header.Set("User-Agent", "Agent-Gateway/1.0")

	resp, err := wt.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call weather API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather API returned non-200 status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read weather API response: %w", err)
	}

	report := string(body)
	if strings.Contains(report, "Unknown location") {
		return fmt.Sprintf("I couldn't find the weather for '%s'. Please try another location.", args.Location), nil
	}
	return report, nil
}
