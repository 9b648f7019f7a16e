package tmdb

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

	"golang.org/x/time/rate"

	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/services"
)

// Result represents a single TMDB search, discover or chart entry.
type Result struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	OriginalTitle    string  `json:"original_title"`
	OriginalName     string  `json:"original_name"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	MediaType        string  `json:"media_type"`
	GenreIDs         []int   `json:"genre_ids"`
	OriginalLanguage string  `json:"original_language"`
	Popularity       float64 `json:"popularity"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int64   `json:"vote_count"`
	PosterPath       string  `json:"poster_path"`
}

// Response models the TMDB paginated response.
type Response struct {
	Page         int      `json:"page"`
	Results      []Result `json:"results"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
}

// Genre is a TMDB genre id and name.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Person is a cast or crew credit.
type Person struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Job  string `json:"job,omitempty"`
}

// Details is the movie or series detail payload, including the appended
// credits and certification blocks.
type Details struct {
	Result
	Genres         []Genre `json:"genres"`
	Runtime        int     `json:"runtime"`
	EpisodeRunTime []int   `json:"episode_run_time"`
	Credits        struct {
		Cast []Person `json:"cast"`
		Crew []Person `json:"crew"`
	} `json:"credits"`
	ReleaseDates struct {
		Results []struct {
			Country string `json:"iso_3166_1"`
			Dates   []struct {
				Certification string `json:"certification"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
	ContentRatings struct {
		Results []struct {
			Country string `json:"iso_3166_1"`
			Rating  string `json:"rating"`
		} `json:"results"`
	} `json:"content_ratings"`
}

// ListResponse models a user-curated TMDB list.
type ListResponse struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Items []Result    `json:"items"`
}

// Client provides access to the TMDB API.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	region     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables throttling.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithRegion sets the ISO 3166-1 region used for certifications and charts.
// An empty region keeps the US default.
func WithRegion(region string) Option {
	return func(c *Client) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			c.region = region
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a TMDB client.
func New(apiKey, baseURL, language string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   strings.TrimSpace(language),
		region:     "US",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "tmdb")
	return client, nil
}

// Region returns the configured certification region.
func (c *Client) Region() string { return c.region }

// SearchMovie searches TMDB movies for the supplied title.
func (c *Client) SearchMovie(ctx context.Context, query string, year int) (*Response, error) {
	params := url.Values{}
	if year > 0 {
		params.Set("primary_release_year", strconv.Itoa(year))
	}
	return c.search(ctx, "/search/movie", query, params)
}

// SearchTV searches TMDB series for the supplied title.
func (c *Client) SearchTV(ctx context.Context, query string, year int) (*Response, error) {
	params := url.Values{}
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}
	return c.search(ctx, "/search/tv", query, params)
}

func (c *Client) search(ctx context.Context, path, query string, params url.Values) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "search", "query must not be empty", nil)
	}
	params.Set("query", query)
	var payload Response
	if err := c.get(ctx, "search", path, params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Discover runs /discover/movie or /discover/tv with the given filters.
func (c *Client) Discover(ctx context.Context, mediaType string, params url.Values, page int) (*Response, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("page", strconv.Itoa(max(page, 1)))
	var payload Response
	if err := c.get(ctx, "discover", "/discover/"+mediaType, params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Chart fetches one page of a named chart such as popular, top_rated or
// trending.
func (c *Client) Chart(ctx context.Context, mediaType, chart string, page int) (*Response, error) {
	chart = strings.TrimSpace(chart)
	path := "/" + mediaType + "/" + chart
	if chart == "trending" || strings.HasPrefix(chart, "trending_") {
		window := strings.TrimPrefix(strings.TrimPrefix(chart, "trending"), "_")
		if window == "" {
			window = "week"
		}
		path = "/trending/" + mediaType + "/" + window
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(page, 1)))
	if c.region != "" {
		params.Set("region", c.region)
	}
	var payload Response
	if err := c.get(ctx, "chart", path, params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// List fetches a public TMDB list by id.
func (c *Client) List(ctx context.Context, listID string) (*ListResponse, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "list", "list id required", nil)
	}
	var payload ListResponse
	if err := c.get(ctx, "list", "/list/"+url.PathEscape(listID), url.Values{}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// MovieDetails fetches movie details with credits and release dates appended.
func (c *Client) MovieDetails(ctx context.Context, movieID int64) (*Details, error) {
	if movieID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "movie details", "movie id must be positive", nil)
	}
	params := url.Values{}
	params.Set("append_to_response", "credits,release_dates")
	var payload Details
	if err := c.get(ctx, "details", fmt.Sprintf("/movie/%d", movieID), params, &payload); err != nil {
		return nil, err
	}
	payload.MediaType = "movie"
	return &payload, nil
}

// TVDetails fetches series details with credits and content ratings appended.
func (c *Client) TVDetails(ctx context.Context, showID int64) (*Details, error) {
	if showID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "tmdb", "tv details", "show id must be positive", nil)
	}
	params := url.Values{}
	params.Set("append_to_response", "credits,content_ratings")
	var payload Details
	if err := c.get(ctx, "details", fmt.Sprintf("/tv/%d", showID), params, &payload); err != nil {
		return nil, err
	}
	payload.MediaType = "tv"
	return &payload, nil
}

// Genres fetches the genre list for movie or tv.
func (c *Client) Genres(ctx context.Context, mediaType string) ([]Genre, error) {
	var payload struct {
		Genres []Genre `json:"genres"`
	}
	if err := c.get(ctx, "genres", "/genre/"+mediaType+"/list", url.Values{}, &payload); err != nil {
		return nil, err
	}
	return payload.Genres, nil
}

// get performs a throttled GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, operation, path string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.CountUpstream("tmdb", "throttled")
			return classify(ctx, operation, fmt.Errorf("rate limit wait: %w", err))
		}
	}
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	params.Set("api_key", c.apiKey)
	if c.language != "" && params.Get("language") == "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		metrics.CountUpstream("tmdb", "error")
		return classify(ctx, operation, fmt.Errorf("execute request (latency=%v): %w", latency, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CountUpstream("tmdb", strconv.Itoa(resp.StatusCode))
		detail := fmt.Sprintf("tmdb %s returned %d (latency=%v)", operation, resp.StatusCode, latency)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, "tmdb", operation, detail, nil)
		case resp.StatusCode == http.StatusUnauthorized:
			return services.Wrap(services.ErrConfiguration, "tmdb", operation, detail+": check tmdb.api_key", nil)
		default:
			return services.Wrap(services.ErrUpstreamUnavailable, "tmdb", operation, detail, nil)
		}
	}
	metrics.CountUpstream("tmdb", "ok")

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrUpstreamUnavailable, "tmdb", operation, "decode response", err)
	}
	c.logger.Debug("tmdb request",
		logging.String("operation", operation),
		logging.String("path", path),
		logging.Duration("latency", latency),
	)
	return nil
}

func classify(ctx context.Context, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrUpstreamTimeout, "tmdb", operation, "", err)
	}
	return services.Wrap(services.ErrUpstreamUnavailable, "tmdb", operation, "", err)
}

// parseDate reads TMDB's YYYY-MM-DD dates. Empty or malformed values return nil.
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil
	}
	return &t
}
