// Package mlscore fetches model-based scores from the external scoring
// service. Any failure here is recoverable: callers fall back to
// wavelet-only scores.
package mlscore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client for the ML scoring service
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new ML score client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log.With().Str("client", "mlscore").Logger(),
	}
}

// GetScores returns model scores per symbol. A nil map with error indicates
// the service was unreachable or returned garbage; callers must treat this
// as "no ML opinion", not as a failure of the planning pass.
func (c *Client) GetScores(symbols []string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/scores?symbols=%s",
		c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	resp, err := c.client.Get(endpoint)
	if err != nil {
		c.log.Debug().Err(err).Msg("ML score fetch failed")
		return nil, fmt.Errorf("ml score fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ml score fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ml score fetch: %w", err)
	}

	var result struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ml score parse: %w", err)
	}

	return result.Scores, nil
}
