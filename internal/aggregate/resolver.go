package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"curator/internal/logging"
	"curator/internal/services"
)

// Fetcher retrieves the ranked items of one registry source. limit is a hint:
// zero means the fetcher's own cap.
type Fetcher interface {
	Fetch(ctx context.Context, def SourceDefinition, limit int) ([]Candidate, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, def SourceDefinition, limit int) ([]Candidate, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, def SourceDefinition, limit int) ([]Candidate, error) {
	return f(ctx, def, limit)
}

// Resolver turns source specs into ranked lists using the registry.
type Resolver struct {
	registry *Registry
	fetchers map[SourceKind]Fetcher
	logger   *slog.Logger
}

// NewResolver builds a resolver. Static sources are always supported.
func NewResolver(registry *Registry, fetchers map[SourceKind]Fetcher, logger *slog.Logger) *Resolver {
	all := map[SourceKind]Fetcher{KindStatic: StaticFetcher()}
	for kind, f := range fetchers {
		if f != nil {
			all[kind] = f
		}
	}
	if registry == nil {
		registry, _ = NewRegistry(0, nil)
	}
	return &Resolver{
		registry: registry,
		fetchers: all,
		logger:   logging.NewComponentLogger(logger, "aggregate"),
	}
}

// Registry returns the registry backing the resolver.
func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve fetches every source in parallel. Any failure discards all results.
func (r *Resolver) Resolve(ctx context.Context, specs []SourceSpec, limit *int) ([]RankedList, error) {
	type job struct {
		def     SourceDefinition
		fetcher Fetcher
		limit   *int
		hint    int
	}
	jobs := make([]job, 0, len(specs))
	for _, spec := range specs {
		def, ok := r.registry.Lookup(spec.SourceID)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "aggregate", "resolve", fmt.Sprintf("unknown source %q", spec.SourceID), nil)
		}
		fetcher, ok := r.fetchers[def.Kind]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "aggregate", "resolve",
				fmt.Sprintf("no fetcher configured for %s source %q", def.Kind, def.ID), nil)
		}
		j := job{def: def, fetcher: fetcher, limit: spec.Limit}
		if spec.Limit != nil {
			j.hint = *spec.Limit
		} else if limit != nil {
			j.hint = *limit
		}
		jobs = append(jobs, j)
	}

	lists := make([]RankedList, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			start := time.Now()
			items, err := j.fetcher.Fetch(gctx, j.def, j.hint)
			if err != nil {
				return fmt.Errorf("fetch source %s: %w", j.def.ID, err)
			}
			r.logger.Debug("source fetched",
				logging.String("source_id", j.def.ID),
				logging.Int("items", len(items)),
				logging.Duration("duration", time.Since(start)),
			)
			lists[i] = RankedList{SourceID: j.def.ID, Items: items, Limit: j.limit}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrUpstreamTimeout, "aggregate", "resolve", "", err)
		}
		if errors.Is(err, services.ErrUpstreamTimeout) || errors.Is(err, services.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrUpstreamUnavailable, "aggregate", "resolve", "", err)
	}
	return lists, nil
}

// StaticFetcher returns the fetcher for inline registry items.
func StaticFetcher() Fetcher { return FetcherFunc(fetchStatic) }

func fetchStatic(_ context.Context, def SourceDefinition, _ int) ([]Candidate, error) {
	out := make([]Candidate, 0, len(def.Items))
	for i, item := range def.Items {
		c, err := item.candidate(def.ID, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
