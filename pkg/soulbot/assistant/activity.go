// Package assistant – activity.go implements the optional
// activity-history collaborator: an external platform that can return a
// free-text transcript of the user's recent activity (lessons watched,
// practices logged) to enrich readiness analysis.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ActivityClient fetches recent-activity transcripts over HTTP. A nil
// client (collaborator absent) degrades gracefully: readiness analysis
// runs on session history alone.
type ActivityClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewActivityClient creates an activity collaborator client, or nil when
// no base URL is configured.
func NewActivityClient(cfg ActivityConfig, logger *slog.Logger) *ActivityClient {
	if cfg.BaseURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ActivityClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "activity"),
	}
}

// RecentActivity returns the free-text activity transcript for a user.
func (c *ActivityClient) RecentActivity(ctx context.Context, userID string) (string, error) {
	endpoint := c.baseURL + "/users/" + url.PathEscape(userID) + "/activity"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create activity request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("activity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil // no activity recorded is not an error
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("activity API returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading activity response: %w", err)
	}

	// The collaborator may answer plain text or {"transcript": "..."}.
	var wrapped struct {
		Transcript string `json:"transcript"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Transcript != "" {
		return wrapped.Transcript, nil
	}
	return string(body), nil
}
