package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ticksPerSecond is the library's run-time unit: 100-nanosecond ticks.
const ticksPerSecond = 10_000_000

// ErrNoUsers is returned when the library reports no users to query as.
var ErrNoUsers = errors.New("catalog: library has no users")

// Client is a Gateway backed by a Jellyfin-compatible library HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger

	mu     sync.Mutex
	userID string
}

// NewClient returns a Client for the library at baseURL authenticating with
// apiKey.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type itemsResponse struct {
	Items []apiItem `json:"Items"`
}

type apiItem struct {
	ID           string      `json:"Id"`
	Name         string      `json:"Name"`
	Path         string      `json:"Path"`
	RunTimeTicks int64       `json:"RunTimeTicks"`
	MediaSources []apiSource `json:"MediaSources"`
}

type apiSource struct {
	Path string `json:"Path"`
}

// ListItems implements Gateway. The category is tried as a genre first, then
// as a tag, matching how libraries commonly label linear-TV buckets. Items
// without a resolvable file path or duration are dropped.
func (c *Client) ListItems(ctx context.Context, category string) ([]Item, error) {
	userID, err := c.user(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.queryItems(ctx, userID, "Genres", category)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw, err = c.queryItems(ctx, userID, "Tags", category)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(raw))
	items := make([]Item, 0, len(raw))
	for _, it := range raw {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true

		path := it.Path
		if path == "" && len(it.MediaSources) > 0 {
			path = it.MediaSources[0].Path
		}
		seconds := int(it.RunTimeTicks / ticksPerSecond)
		if path == "" || seconds <= 0 {
			c.log.Warn("catalog item unplayable, skipping",
				slog.String("item_id", it.ID),
				slog.String("title", it.Name))
			continue
		}
		items = append(items, Item{
			ID:              it.ID,
			Title:           it.Name,
			Path:            path,
			DurationSeconds: seconds,
		})
	}
	return items, nil
}

func (c *Client) queryItems(ctx context.Context, userID, filterKey, filterValue string) ([]apiItem, error) {
	q := url.Values{
		"UserId":           {userID},
		"Recursive":        {"true"},
		"IncludeItemTypes": {"Movie,Episode"},
		"Fields":           {"Path,MediaSources,RunTimeTicks"},
		filterKey:          {filterValue},
	}

	var resp itemsResponse
	if err := c.get(ctx, "/Items?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// user returns the id of the first library user, cached after the first call.
func (c *Client) user(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}

	var users []struct {
		ID string `json:"Id"`
	}
	if err := c.get(ctx, "/Users", &users); err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", ErrNoUsers
	}
	c.userID = users[0].ID
	return c.userID, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: unexpected status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog: decode response: %w", err)
	}
	return nil
}
