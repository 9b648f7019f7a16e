package emby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/services"
)

// providerBatchSize bounds the ids sent in one AnyProviderIdEquals filter.
const providerBatchSize = 50

// libraryPageSize is the page size used when listing library contents.
const libraryPageSize = 500

// HTTPDoer describes the HTTP client used by the Emby client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an Emby/Jellyfin API client.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
	logger  *slog.Logger
}

// NewClient constructs a client. A nil HTTP client uses http.DefaultClient.
func NewClient(baseURL, apiKey string, client HTTPDoer, logger *slog.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
		logger:  logging.NewComponentLogger(logger, "emby"),
	}
}

// NewConfiguredClient returns a client when the media server is enabled and
// credentials are present.
func NewConfiguredClient(cfg *config.Config, logger *slog.Logger) (*Client, bool) {
	if cfg == nil || !cfg.Emby.Enabled {
		return nil, false
	}
	baseURL := strings.TrimSpace(cfg.Emby.URL)
	apiKey := strings.TrimSpace(cfg.Emby.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, false
	}
	timeout := time.Duration(cfg.Emby.TimeoutSeconds) * time.Second
	return NewClient(baseURL, apiKey, &http.Client{Timeout: timeout}, logger), true
}

type providerIDs struct {
	Tmdb string `json:"Tmdb"`
}

type userData struct {
	IsFavorite            bool       `json:"IsFavorite"`
	Played                bool       `json:"Played"`
	PlaybackPositionTicks int64      `json:"PlaybackPositionTicks"`
	LastPlayedDate        *time.Time `json:"LastPlayedDate"`
}

type item struct {
	ID             string      `json:"Id"`
	Name           string      `json:"Name"`
	Type           string      `json:"Type"`
	ProductionYear int         `json:"ProductionYear"`
	IndexNumber    *int        `json:"IndexNumber"`
	ProviderIds    providerIDs `json:"ProviderIds"`
	UserData       *userData   `json:"UserData"`
}

type itemsResponse struct {
	Items            []item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

func (it item) tmdbID() int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(it.ProviderIds.Tmdb), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// IsInLibrary reports whether the item exists on the server and returns its
// server item id. A season key is present only when that season exists.
func (c *Client) IsInLibrary(ctx context.Context, mediaID int64, itemType catalog.ItemType, season *int) (bool, string, error) {
	params := url.Values{}
	params.Set("AnyProviderIdEquals", "tmdb."+strconv.FormatInt(mediaID, 10))
	params.Set("IncludeItemTypes", string(itemType))
	params.Set("Recursive", "true")
	params.Set("Fields", "ProviderIds")
	params.Set("Limit", "1")
	var resp itemsResponse
	if err := c.get(ctx, "presence", "/Items", params, &resp); err != nil {
		return false, "", err
	}
	if len(resp.Items) == 0 {
		return false, "", nil
	}
	found := resp.Items[0]
	if season == nil || itemType != catalog.Series {
		return true, found.ID, nil
	}

	var seasons itemsResponse
	if err := c.get(ctx, "seasons", "/Shows/"+url.PathEscape(found.ID)+"/Seasons", url.Values{}, &seasons); err != nil {
		return false, "", err
	}
	for _, s := range seasons.Items {
		if s.IndexNumber != nil && *s.IndexNumber == *season {
			return true, s.ID, nil
		}
	}
	return false, "", nil
}

// UserState returns favorite and playback state for the identified items the
// user can see. Items the server does not know are absent from the map.
func (c *Client) UserState(ctx context.Context, userID string, items []catalog.Item) (map[int64]catalog.ViewerState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, services.Wrap(services.ErrValidation, "emby", "user state", "user id required", nil)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Identified() {
			ids = append(ids, "tmdb."+strconv.FormatInt(it.MediaID, 10))
		}
	}
	out := make(map[int64]catalog.ViewerState, len(ids))
	for start := 0; start < len(ids); start += providerBatchSize {
		end := min(start+providerBatchSize, len(ids))
		params := url.Values{}
		params.Set("AnyProviderIdEquals", strings.Join(ids[start:end], ","))
		params.Set("IncludeItemTypes", "Movie,Series")
		params.Set("Recursive", "true")
		params.Set("Fields", "ProviderIds,UserData")
		var resp itemsResponse
		if err := c.get(ctx, "user state", "/Users/"+url.PathEscape(userID)+"/Items", params, &resp); err != nil {
			return nil, err
		}
		for _, it := range resp.Items {
			id := it.tmdbID()
			if id == 0 || it.UserData == nil {
				continue
			}
			out[id] = catalog.ViewerState{
				Favorite:   it.UserData.IsFavorite,
				Played:     it.UserData.Played,
				InProgress: !it.UserData.Played && it.UserData.PlaybackPositionTicks > 0,
				LastPlayed: it.UserData.LastPlayedDate,
			}
		}
	}
	return out, nil
}

// LibraryMediaIDs lists the TMDB ids of itemType found under the given
// library folders.
func (c *Client) LibraryMediaIDs(ctx context.Context, libraryIDs []string, itemType catalog.ItemType) (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	for _, lib := range libraryIDs {
		for start := 0; ; start += libraryPageSize {
			params := url.Values{}
			params.Set("ParentId", lib)
			params.Set("IncludeItemTypes", string(itemType))
			params.Set("Recursive", "true")
			params.Set("Fields", "ProviderIds")
			params.Set("StartIndex", strconv.Itoa(start))
			params.Set("Limit", strconv.Itoa(libraryPageSize))
			var resp itemsResponse
			if err := c.get(ctx, "library", "/Items", params, &resp); err != nil {
				return nil, err
			}
			for _, it := range resp.Items {
				if id := it.tmdbID(); id > 0 {
					out[id] = struct{}{}
				}
			}
			if len(resp.Items) < libraryPageSize || start+len(resp.Items) >= resp.TotalRecordCount {
				break
			}
		}
	}
	return out, nil
}

// HistoryEntry is one title from a viewer's history.
type HistoryEntry struct {
	MediaID  int64
	ItemType catalog.ItemType
	Title    string
	Year     int
	Favorite bool
}

// History returns the user's most recently played and favorite titles.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("Recursive", "true")
	params.Set("IncludeItemTypes", "Movie,Series")
	params.Set("Filters", "IsPlayed")
	params.Set("SortBy", "DatePlayed")
	params.Set("SortOrder", "Descending")
	params.Set("Fields", "ProviderIds,UserData")
	params.Set("Limit", strconv.Itoa(limit))
	var played itemsResponse
	if err := c.get(ctx, "history", "/Users/"+url.PathEscape(userID)+"/Items", params, &played); err != nil {
		return nil, err
	}
	params.Set("Filters", "IsFavorite")
	params.Del("SortBy")
	params.Del("SortOrder")
	var favorites itemsResponse
	if err := c.get(ctx, "history", "/Users/"+url.PathEscape(userID)+"/Items", params, &favorites); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []HistoryEntry
	for _, it := range append(favorites.Items, played.Items...) {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		itemType := catalog.Movie
		if it.Type == "Series" {
			itemType = catalog.Series
		}
		out = append(out, HistoryEntry{
			MediaID:  it.tmdbID(),
			ItemType: itemType,
			Title:    it.Name,
			Year:     it.ProductionYear,
			Favorite: it.UserData != nil && it.UserData.IsFavorite,
		})
	}
	return out, nil
}

// Ping checks that the server answers and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		ServerName string `json:"ServerName"`
		Version    string `json:"Version"`
	}
	return c.get(ctx, "ping", "/System/Info", url.Values{}, &info)
}

func (c *Client) get(ctx context.Context, operation, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build emby %s request: %w", operation, err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.CountUpstream("emby", "error")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrUpstreamTimeout, "emby", operation, "", err)
		}
		return services.Wrap(services.ErrUpstreamUnavailable, "emby", operation, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		metrics.CountUpstream("emby", strconv.Itoa(resp.StatusCode))
		detail := fmt.Sprintf("emby %s returned %d", operation, resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, "emby", operation, detail+": check emby.api_key", nil)
		case http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, "emby", operation, detail, nil)
		default:
			return services.Wrap(services.ErrUpstreamUnavailable, "emby", operation, detail, nil)
		}
	}
	metrics.CountUpstream("emby", "ok")
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrUpstreamUnavailable, "emby", operation, "decode response", err)
	}
	c.logger.Debug("emby request",
		logging.String("operation", operation),
		logging.Duration("latency", time.Since(start)),
	)
	return nil
}
