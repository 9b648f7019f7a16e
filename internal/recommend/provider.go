package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/services/emby"
	"curator/internal/services/llm"
)

const (
	defaultLimit     = 20
	maxLimit         = 100
	historyDepth     = 50
	matchConcurrency = 4
)

// HistoryEntry is one title from the viewer's watch history.
type HistoryEntry = emby.HistoryEntry

// Completer issues JSON-only LLM completions.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// HistorySource returns a viewer's watch history.
type HistorySource interface {
	History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}

// TitleMatcher resolves a free-text title to a catalog item.
type TitleMatcher interface {
	Match(ctx context.Context, title string, year int, itemType catalog.ItemType) (catalog.Item, bool, error)
}

// Provider produces ranked recommendations for a viewer.
type Provider struct {
	llm     Completer
	history HistorySource
	matcher TitleMatcher
	logger  *slog.Logger
}

// NewProvider wires the collaborators. history and matcher may be nil: the
// prompt then carries no history and every title stays unidentified.
func NewProvider(completer Completer, history HistorySource, matcher TitleMatcher, logger *slog.Logger) *Provider {
	return &Provider{
		llm:     completer,
		history: history,
		matcher: matcher,
		logger:  logging.NewComponentLogger(logger, "recommend"),
	}
}

type suggestion struct {
	Title  string `json:"title"`
	Year   int    `json:"year"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type suggestions struct {
	Items []suggestion `json:"items"`
}

// Recommend returns up to limit items in the order the model ranked them.
// Titles already in the viewer's history and repeated titles are dropped.
func (p *Provider) Recommend(ctx context.Context, targetUserID, prompt string, limit int) ([]catalog.Item, error) {
	if p.llm == nil {
		return nil, services.Wrap(services.ErrConfiguration, "recommend", "recommend", "llm is not configured", nil)
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, services.Wrap(services.ErrValidation, "recommend", "recommend", "target user id is required", nil)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	var history []HistoryEntry
	if p.history != nil {
		entries, err := p.history.History(ctx, targetUserID, historyDepth)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", targetUserID, err)
		}
		history = entries
	}

	content, err := p.llm.CompleteJSON(ctx, systemPrompt, userPrompt(history, prompt, limit))
	if err != nil {
		return nil, err
	}
	var parsed suggestions
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrUpstreamUnavailable, "recommend", "decode", "llm returned malformed recommendations", err)
	}

	items, err := p.resolve(ctx, parsed.Items)
	if err != nil {
		return nil, err
	}
	out := dedupe(items, history, limit)
	p.logger.Debug("recommendations resolved",
		logging.String(logging.FieldViewerID, targetUserID),
		logging.Int("suggested", len(parsed.Items)),
		logging.Int("returned", len(out)),
	)
	return out, nil
}

func (p *Provider) resolve(ctx context.Context, picks []suggestion) ([]catalog.Item, error) {
	items := make([]catalog.Item, len(picks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matchConcurrency)
	for i, pick := range picks {
		title := strings.TrimSpace(pick.Title)
		if title == "" {
			continue
		}
		itemType, err := catalog.ParseItemType(pick.Type)
		if err != nil {
			itemType = catalog.Movie
		}
		items[i] = catalog.Item{ItemType: itemType, Title: title, Year: pick.Year}
		if p.matcher == nil {
			continue
		}
		g.Go(func() error {
			matched, ok, err := p.matcher.Match(gctx, title, pick.Year, itemType)
			if err != nil {
				return matchError(title, err)
			}
			if ok {
				items[i] = matched
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// matchError classifies a failed title lookup. Only a clean miss leaves a
// title unidentified; any lookup failure fails the whole recommendation.
func matchError(title string, err error) error {
	switch {
	case errors.Is(err, services.ErrUpstreamTimeout),
		errors.Is(err, services.ErrUpstreamUnavailable),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrUpstreamTimeout, "recommend", "match", fmt.Sprintf("lookup %q", title), err)
	default:
		return services.Wrap(services.ErrUpstreamUnavailable, "recommend", "match", fmt.Sprintf("lookup %q", title), err)
	}
}

func dedupe(items []catalog.Item, history []HistoryEntry, limit int) []catalog.Item {
	watched := make(map[string]struct{}, len(history))
	for _, h := range history {
		if h.MediaID > 0 {
			watched[itemKey(h.ItemType, h.MediaID, "", 0)] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]catalog.Item, 0, min(len(items), limit))
	for _, it := range items {
		if it.Title == "" && !it.Identified() {
			continue
		}
		key := itemKey(it.ItemType, it.MediaID, it.Title, it.Year)
		if _, ok := watched[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func itemKey(itemType catalog.ItemType, mediaID int64, title string, year int) string {
	if mediaID > 0 {
		return fmt.Sprintf("%s:%d", itemType, mediaID)
	}
	return fmt.Sprintf("%s:%s:%d", itemType, strings.ToLower(title), year)
}
