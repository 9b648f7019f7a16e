package tmdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/rules"
	"curator/internal/services"
)

const (
	defaultMaxPages    = 5
	detailsConcurrency = 4
	maxCastCredits     = 20
)

// ScopeFilter restricts catalog results to media server libraries.
type ScopeFilter interface {
	LibraryMediaIDs(ctx context.Context, libraryIDs []string, itemType catalog.ItemType) (map[int64]struct{}, error)
}

// Catalog answers rule-set queries against TMDB.
type Catalog struct {
	client   *Client
	maxPages int
	scope    ScopeFilter
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	genres map[string]map[int]string
}

// CatalogOption customizes a Catalog.
type CatalogOption func(*Catalog)

// WithMaxPages bounds the number of discover pages read per item type.
func WithMaxPages(n int) CatalogOption {
	return func(c *Catalog) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithScopeFilter enables library scoping of filter collections.
func WithScopeFilter(scope ScopeFilter) CatalogOption {
	return func(c *Catalog) { c.scope = scope }
}

// NewCatalog wraps client.
func NewCatalog(client *Client, logger *slog.Logger, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		client:   client,
		maxPages: defaultMaxPages,
		logger:   logging.NewComponentLogger(logger, "tmdb-catalog"),
		now:      time.Now,
		genres:   map[string]map[int]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryByRuleSet returns the catalog items matching rs. Filters TMDB can
// express are pushed into /discover; the compiled rule set then runs over
// every returned item so the result is exact.
func (c *Catalog) QueryByRuleSet(ctx context.Context, rs rules.RuleSet, itemTypes []catalog.ItemType, libraryScope []string) ([]catalog.Item, error) {
	validated, err := rules.Validate(rs, rules.StaticSchema())
	if err != nil {
		return nil, err
	}
	program, err := rules.Compile(validated, rules.StaticSchema(), rules.WithClock(c.now))
	if err != nil {
		return nil, err
	}
	if len(libraryScope) > 0 && c.scope == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tmdb", "query", "library scope needs a configured media server", nil)
	}
	if len(itemTypes) == 0 {
		itemTypes = catalog.AllItemTypes()
	}

	var out []catalog.Item
	for _, itemType := range itemTypes {
		items, err := c.discover(ctx, validated, itemType)
		if err != nil {
			return nil, err
		}
		if needsDetails(validated) {
			if items, err = c.Enrich(ctx, items); err != nil {
				return nil, err
			}
		}
		if len(libraryScope) > 0 {
			inScope, err := c.scope.LibraryMediaIDs(ctx, libraryScope, itemType)
			if err != nil {
				return nil, err
			}
			items = slices.DeleteFunc(items, func(it catalog.Item) bool {
				_, ok := inScope[it.MediaID]
				return !ok
			})
		}
		for _, it := range items {
			matched, err := program.Match(it.RuleEnv())
			if err != nil {
				return nil, err
			}
			if matched {
				out = append(out, it)
			}
		}
	}
	c.logger.Debug("rule set query complete",
		logging.Int("matches", len(out)),
		logging.String("expression", program.Source()),
	)
	return out, nil
}

func (c *Catalog) discover(ctx context.Context, rs rules.RuleSet, itemType catalog.ItemType) ([]catalog.Item, error) {
	mediaType := mediaTypeFor(itemType)
	genreNames, err := c.genreMap(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	base := pushdown(rs, itemType, genreIDs(genreNames), c.client.Region(), c.now())

	seen := map[int64]struct{}{}
	var items []catalog.Item
	for page := 1; page <= c.maxPages; page++ {
		params := url.Values{}
		for k, v := range base {
			params[k] = slices.Clone(v)
		}
		resp, err := c.client.Discover(ctx, mediaType, params, page)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			items = append(items, toItem(r, itemType, genreNames))
		}
		if page >= resp.TotalPages {
			break
		}
	}
	return items, nil
}

// Enrich fills genres, runtime, certification and credits from the detail
// endpoints. Items without a media id are returned unchanged.
func (c *Catalog) Enrich(ctx context.Context, items []catalog.Item) ([]catalog.Item, error) {
	out := slices.Clone(items)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailsConcurrency)
	for i := range out {
		if !out[i].Identified() {
			continue
		}
		g.Go(func() error {
			var (
				details *Details
				err     error
			)
			if out[i].ItemType == catalog.Series {
				details, err = c.client.TVDetails(gctx, out[i].MediaID)
			} else {
				details, err = c.client.MovieDetails(gctx, out[i].MediaID)
			}
			if err != nil {
				return fmt.Errorf("details for %s %d: %w", out[i].ItemType, out[i].MediaID, err)
			}
			out[i] = applyDetails(out[i], details, c.client.Region())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) genreMap(ctx context.Context, mediaType string) (map[int]string, error) {
	c.mu.Lock()
	cached, ok := c.genres[mediaType]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}
	genres, err := c.client.Genres(ctx, mediaType)
	if err != nil {
		return nil, err
	}
	m := make(map[int]string, len(genres))
	for _, g := range genres {
		m[g.ID] = g.Name
	}
	c.mu.Lock()
	c.genres[mediaType] = m
	c.mu.Unlock()
	return m, nil
}

func genreIDs(names map[int]string) map[string]int {
	out := make(map[string]int, len(names))
	for id, name := range names {
		out[strings.ToLower(name)] = id
	}
	return out
}

func needsDetails(rs rules.RuleSet) bool {
	for _, field := range []string{rules.FieldActor, rules.FieldDirector, rules.FieldRuntime, rules.FieldCertification} {
		if rs.References(field) {
			return true
		}
	}
	return false
}

// pushdown translates the top-level predicates of an AND rule set into
// discover parameters. Predicates that cannot be expressed are left to the
// local evaluation.
func pushdown(rs rules.RuleSet, itemType catalog.ItemType, genres map[string]int, region string, now time.Time) url.Values {
	params := url.Values{}
	params.Set("sort_by", "popularity.desc")
	params.Set("include_adult", "false")

	dateField := "primary_release_date"
	if itemType == catalog.Series {
		dateField = "first_air_date"
	}
	for _, p := range rs.TopLevel() {
		switch p.Field {
		case rules.FieldYear:
			year, ok := p.Value.(float64)
			if !ok {
				continue
			}
			y := strconv.Itoa(int(year))
			switch p.Operator {
			case rules.OpGte:
				params.Set(dateField+".gte", y+"-01-01")
			case rules.OpLte:
				params.Set(dateField+".lte", y+"-12-31")
			case rules.OpEq:
				params.Set(dateField+".gte", y+"-01-01")
				params.Set(dateField+".lte", y+"-12-31")
			}
		case rules.FieldRating:
			setRange(params, "vote_average", p)
		case rules.FieldRuntime:
			setRange(params, "with_runtime", p)
		case rules.FieldGenres:
			ids := lookupGenres(genres, p.Value)
			if len(ids) == 0 {
				continue
			}
			switch p.Operator {
			case rules.OpIsOneOf, rules.OpContains:
				params.Set("with_genres", strings.Join(ids, "|"))
			case rules.OpIsNoneOf:
				params.Set("without_genres", strings.Join(ids, ","))
			}
		case rules.FieldOriginalLanguage:
			if p.Operator == rules.OpIs || p.Operator == rules.OpIsOneOf {
				// TMDB expects lowercase ISO 639-1 codes.
				var codes []string
				for _, code := range stringValues(p.Value) {
					codes = append(codes, strings.ToLower(code))
				}
				params.Set("with_original_language", strings.Join(codes, "|"))
			}
		case rules.FieldCertification:
			if itemType != catalog.Movie || region == "" {
				continue
			}
			if p.Operator == rules.OpIs || p.Operator == rules.OpIsOneOf {
				params.Set("certification_country", region)
				params.Set("certification", strings.Join(stringValues(p.Value), "|"))
			}
		case rules.FieldActor:
			if itemType == catalog.Movie && p.Operator == rules.OpIsOneOf {
				params.Set("with_cast", strings.Join(stringValues(p.Value), "|"))
			}
		case rules.FieldDirector:
			if itemType == catalog.Movie && p.Operator == rules.OpIsOneOf {
				params.Set("with_crew", strings.Join(stringValues(p.Value), "|"))
			}
		case rules.FieldReleaseDate:
			days, ok := p.Value.(int)
			if !ok || p.Operator != rules.OpInLastDays {
				continue
			}
			params.Set(dateField+".gte", now.AddDate(0, 0, -days).Format(time.DateOnly))
			params.Set(dateField+".lte", now.Format(time.DateOnly))
		}
	}
	return params
}

func setRange(params url.Values, name string, p rules.Predicate) {
	n, ok := p.Value.(float64)
	if !ok {
		return
	}
	v := strconv.FormatFloat(n, 'f', -1, 64)
	switch p.Operator {
	case rules.OpGte:
		params.Set(name+".gte", v)
	case rules.OpLte:
		params.Set(name+".lte", v)
	case rules.OpEq:
		params.Set(name+".gte", v)
		params.Set(name+".lte", v)
	}
}

func lookupGenres(genres map[string]int, value any) []string {
	names := stringValues(value)
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := genres[strings.ToLower(name)]
		if !ok {
			return nil
		}
		ids = append(ids, strconv.Itoa(id))
	}
	return ids
}

func stringValues(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func mediaTypeFor(itemType catalog.ItemType) string {
	if itemType == catalog.Series {
		return "tv"
	}
	return "movie"
}

func itemTypeFor(mediaType string, fallback catalog.ItemType) (catalog.ItemType, bool) {
	switch mediaType {
	case "movie":
		return catalog.Movie, true
	case "tv":
		return catalog.Series, true
	case "":
		return fallback, fallback != ""
	default:
		return "", false
	}
}

func toItem(r Result, itemType catalog.ItemType, genres map[int]string) catalog.Item {
	item := catalog.Item{
		MediaID:          r.ID,
		ItemType:         itemType,
		Title:            firstNonEmpty(r.Title, r.Name),
		OriginalTitle:    firstNonEmpty(r.OriginalTitle, r.OriginalName),
		Overview:         r.Overview,
		ReleaseDate:      parseDate(firstNonEmpty(r.ReleaseDate, r.FirstAirDate)),
		Rating:           r.VoteAverage,
		VoteCount:        r.VoteCount,
		Popularity:       r.Popularity,
		OriginalLanguage: r.OriginalLanguage,
		PosterPath:       r.PosterPath,
	}
	if item.ReleaseDate != nil {
		item.Year = item.ReleaseDate.Year()
	}
	for _, id := range r.GenreIDs {
		if name, ok := genres[id]; ok {
			item.Genres = append(item.Genres, name)
		}
	}
	return item
}

func applyDetails(item catalog.Item, d *Details, region string) catalog.Item {
	base := toItem(d.Result, item.ItemType, nil)
	if item.Title == "" {
		item.Title = base.Title
	}
	if item.OriginalTitle == "" {
		item.OriginalTitle = base.OriginalTitle
	}
	if item.Overview == "" {
		item.Overview = base.Overview
	}
	if item.ReleaseDate == nil {
		item.ReleaseDate = base.ReleaseDate
		item.Year = base.Year
	}
	if item.VoteCount == 0 {
		item.Rating = base.Rating
		item.VoteCount = base.VoteCount
	}
	if item.Popularity == 0 {
		item.Popularity = base.Popularity
	}
	if item.OriginalLanguage == "" {
		item.OriginalLanguage = base.OriginalLanguage
	}
	if item.PosterPath == "" {
		item.PosterPath = base.PosterPath
	}

	if len(d.Genres) > 0 {
		item.Genres = item.Genres[:0:0]
		for _, g := range d.Genres {
			item.Genres = append(item.Genres, g.Name)
		}
	}
	item.Runtime = d.Runtime
	if item.Runtime == 0 && len(d.EpisodeRunTime) > 0 {
		item.Runtime = d.EpisodeRunTime[0]
	}
	item.Cast = item.Cast[:0:0]
	for i, p := range d.Credits.Cast {
		if i >= maxCastCredits {
			break
		}
		item.Cast = append(item.Cast, p.ID)
	}
	item.Directors = item.Directors[:0:0]
	for _, p := range d.Credits.Crew {
		if p.Job == "Director" {
			item.Directors = append(item.Directors, p.ID)
		}
	}
	if cert := certification(d, region); cert != "" {
		item.Certification = cert
	}
	return item
}

func certification(d *Details, region string) string {
	for _, r := range d.ReleaseDates.Results {
		if r.Country != region {
			continue
		}
		for _, date := range r.Dates {
			if c := strings.TrimSpace(date.Certification); c != "" {
				return c
			}
		}
	}
	for _, r := range d.ContentRatings.Results {
		if r.Country == region && strings.TrimSpace(r.Rating) != "" {
			return strings.TrimSpace(r.Rating)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
