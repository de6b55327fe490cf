package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const newsAPIURL = "https://newsapi.org/v2/top-headlines"

// NewsTool fetches the latest headlines from NewsAPI (https://newsapi.org).
type NewsTool struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

var _ ToolExecutor = (*NewsTool)(nil)

type newsArgs struct {
	Query    string `json:"query,omitempty" jsonschema_description:"The topic or keyword to search for in the news."`
	Category string `json:"category,omitempty" jsonschema:"enum=business,enum=entertainment,enum=general,enum=health,enum=science,enum=sports,enum=technology" jsonschema_description:"The category of news."`
	Country  string `json:"country,omitempty" jsonschema_description:"The 2-letter ISO 3166-1 code of the country to get headlines from."`
}

// NewNewsTool creates a NewsTool. It requires an API key.
func NewNewsTool(apiKey string) (*NewsTool, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key cannot be empty")
	}
	return &NewsTool{
		apiKey:   apiKey,
		endpoint: newsAPIURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

func (nt *NewsTool) Definition() Tool {
	return NewFunctionTool(
		"getNewsHeadlines",
		"Fetches the latest news headlines about a specific topic, category, or from a particular country.",
		SchemaFor(&newsArgs{}),
	)
}

func (nt *NewsTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args newsArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments for news tool: %w", err)
	}

	base, err := url.Parse(nt.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid news endpoint: %w", err)
	}
	params := url.Values{}
	if args.Query != "" {
		params.Add("q", args.Query)
	}
	if args.Category != "" {
		params.Add("category", args.Category)
	}
	if args.Country != "" {
		params.Add("country", args.Country)
	}
	params.Add("pageSize", "5")
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create news API request: %w", err)
	}
	req.Header.Set("X-Api-Key", nt.apiKey)
	req.Header.Set("User-Agent", "Agent-Gateway/1.0")

	resp, err := nt.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call news API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: News API returned a non-200 status code: %d. Please check the parameters or API key.", resp.StatusCode), nil
	}

	var apiResp struct {
		TotalResults int `json:"totalResults"`
		Articles     []struct {
			Title  string `json:"title"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read news API response: %w", err)
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse news API JSON response: %w", err)
	}

	if apiResp.TotalResults == 0 {
		return "No news articles found for the given criteria.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Here are the top %d headlines:\n", len(apiResp.Articles)))
	for i, article := range apiResp.Articles {
		sb.WriteString(fmt.Sprintf("%d. %s (Source: %s)\n", i+1, article.Title, article.Source.Name))
	}
	return sb.String(), nil
}
