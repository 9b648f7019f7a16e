package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/collection"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/rules"
	"curator/internal/services"
)

// Dependencies are the collaborators an Evaluator uses. Presence and
// Viewers may be nil when no media server is configured; Recommender may be
// nil when recommendations are disabled.
type Dependencies struct {
	Catalog     Catalog
	Lists       ListResolver
	Recommender Recommender
	Presence    Presence
	Viewers     ViewerStates
	Ledger      LedgerReader
	Batch       BatchApplier
}

// Options tune materialization.
type Options struct {
	Timeout             time.Duration
	PresenceConcurrency int
	DefaultPageSize     int
	MaxPageSize         int
}

// Evaluator materializes collection definitions.
type Evaluator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// New constructs an Evaluator.
func New(deps Dependencies, opts Options, logger *slog.Logger) *Evaluator {
	if opts.PresenceConcurrency <= 0 {
		opts.PresenceConcurrency = 8
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 500
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(50, opts.MaxPageSize)
	}
	return &Evaluator{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "evaluator"),
		now:    time.Now,
	}
}

// Materialize produces one page of def for viewer. A nil viewer yields the
// viewer-agnostic baseline: dynamic rules are skipped entirely.
func (e *Evaluator) Materialize(ctx context.Context, def collection.Definition, viewer *ViewerContext, page Page) (Result, error) {
	start := time.Now()
	logger := logging.WithContext(ctx, e.logger).With(logging.String(logging.FieldCollectionID, def.ID))

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	items, err := e.materializeAll(ctx, def, viewer)
	metrics.ObserveMaterialize(string(def.Type), services.Kind(err), time.Since(start))
	if err != nil {
		logger.Warn("materialize failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "materialize_failed"),
			logging.String(logging.FieldImpact, "collection could not be shown"),
		)
		return Result{}, err
	}

	res := e.paginate(items, page)
	res.CollectionID = def.ID
	if viewer != nil {
		res.ViewerID = viewer.UserID
	}
	logger.Debug("collection materialized",
		logging.Int("total", res.Total),
		logging.Int("returned", len(res.Items)),
		logging.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (e *Evaluator) materializeAll(ctx context.Context, def collection.Definition, viewer *ViewerContext) ([]Item, error) {
	baseline, err := e.baseline(ctx, def)
	if err != nil {
		return nil, err
	}
	if viewer == nil || viewer.UserID == "" {
		return baseline, nil
	}
	filter, ok := def.Spec.(collection.FilterSpec)
	if !ok || filter.Dynamic == nil || filter.Dynamic.IsEmpty() {
		return baseline, nil
	}
	filtered, err := e.applyDynamic(ctx, *filter.Dynamic, viewer.UserID, baseline)
	if err != nil {
		return nil, e.upstreamError(ctx, "dynamic filter", err)
	}
	return filtered, nil
}

// baseline returns the sorted, classified items shared by every viewer.
// Concurrent calls for the same definition revision share one evaluation.
func (e *Evaluator) baseline(ctx context.Context, def collection.Definition) ([]Item, error) {
	key := def.ID + "|" + strconv.FormatInt(def.UpdatedAt.UnixNano(), 10)
	if def.ID == "" {
		return e.evaluateBaseline(ctx, def)
	}
	// The flight outlives any single caller; each caller still honours its
	// own deadline and cancellation.
	ch := e.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := e.withTimeout(context.WithoutCancel(ctx))
		defer cancel()
		return e.evaluateBaseline(flightCtx, def)
	})
	select {
	case <-ctx.Done():
		return nil, e.upstreamError(ctx, "baseline", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			e.logger.Debug("baseline shared", logging.String(logging.FieldCollectionID, def.ID))
		}
		return res.Val.([]Item), nil
	}
}

func (e *Evaluator) evaluateBaseline(ctx context.Context, def collection.Definition) ([]Item, error) {
	candidates, err := e.resolve(ctx, def)
	if err != nil {
		return nil, err
	}
	items, err := e.classify(ctx, candidates)
	if err != nil {
		return nil, e.upstreamError(ctx, "classify", err)
	}
	sortItems(items, def.SortKey, def.SortOrder)
	return items, nil
}

func (e *Evaluator) resolve(ctx context.Context, def collection.Definition) ([]aggregate.Candidate, error) {
	var (
		candidates []aggregate.Candidate
		err        error
	)
	switch spec := def.Spec.(type) {
	case collection.FilterSpec:
		candidates, err = e.resolveFilter(ctx, def, spec)
	case collection.ListSpec:
		candidates, err = e.resolveList(ctx, def, spec)
	case collection.RecommendationSpec:
		candidates, err = e.resolveRecommendation(ctx, spec)
	default:
		return nil, services.Wrap(services.ErrValidation, "evaluator", "resolve", fmt.Sprintf("unsupported spec %T", def.Spec), nil)
	}
	if err != nil {
		return nil, e.upstreamError(ctx, "resolve "+string(def.Type), err)
	}
	return candidates, nil
}

func (e *Evaluator) resolveFilter(ctx context.Context, def collection.Definition, spec collection.FilterSpec) ([]aggregate.Candidate, error) {
	if e.deps.Catalog == nil {
		return nil, services.Wrap(services.ErrConfiguration, "evaluator", "resolve filter", "no catalog configured", nil)
	}
	items, err := e.deps.Catalog.QueryByRuleSet(ctx, spec.Static, def.ItemTypes, spec.LibraryScope)
	if err != nil {
		return nil, err
	}
	return itemsToCandidates(items, "catalog"), nil
}

func (e *Evaluator) resolveList(ctx context.Context, def collection.Definition, spec collection.ListSpec) ([]aggregate.Candidate, error) {
	if e.deps.Lists == nil {
		return nil, services.Wrap(services.ErrConfiguration, "evaluator", "resolve list", "no list resolver configured", nil)
	}
	lists, err := e.deps.Lists.Resolve(ctx, spec.Sources, spec.Limit)
	if err != nil {
		return nil, err
	}
	merged := aggregate.Aggregate(lists, spec.Limit)
	kept := merged[:0]
	for _, c := range merged {
		if containsType(def.ItemTypes, c.ItemType) {
			kept = append(kept, c)
		}
	}
	return e.enrich(ctx, kept)
}

func (e *Evaluator) resolveRecommendation(ctx context.Context, spec collection.RecommendationSpec) ([]aggregate.Candidate, error) {
	if e.deps.Recommender == nil {
		return nil, services.Wrap(services.ErrConfiguration, "evaluator", "resolve recommendation", "recommendations are disabled", nil)
	}
	items, err := e.deps.Recommender.Recommend(ctx, spec.TargetUserID, spec.Prompt, spec.Limit)
	if err != nil {
		return nil, err
	}
	return itemsToCandidates(items, "recommendation"), nil
}

// enrich fills catalog metadata for identified list entries that arrived
// with only an id and title.
func (e *Evaluator) enrich(ctx context.Context, candidates []aggregate.Candidate) ([]aggregate.Candidate, error) {
	if e.deps.Catalog == nil || len(candidates) == 0 {
		return candidates, nil
	}
	var (
		sparse  []catalog.Item
		indexes []int
	)
	for i, c := range candidates {
		if c.Identified() && c.ReleaseDate == nil && len(c.Genres) == 0 {
			sparse = append(sparse, c.Item)
			indexes = append(indexes, i)
		}
	}
	if len(sparse) == 0 {
		return candidates, nil
	}
	enriched, err := e.deps.Catalog.Enrich(ctx, sparse)
	if err != nil {
		return nil, err
	}
	if len(enriched) != len(sparse) {
		return nil, fmt.Errorf("catalog enrich returned %d items for %d requested", len(enriched), len(sparse))
	}
	for j, i := range indexes {
		candidates[i].Item = enriched[j]
	}
	return candidates, nil
}

func (e *Evaluator) applyDynamic(ctx context.Context, rs rules.RuleSet, userID string, items []Item) ([]Item, error) {
	program, err := rules.Compile(rs, rules.DynamicSchema(), rules.WithClock(e.now))
	if err != nil {
		return nil, err
	}
	states := map[int64]catalog.ViewerState{}
	if e.deps.Viewers != nil {
		identified := make([]catalog.Item, 0, len(items))
		for _, it := range items {
			if it.Identified() {
				identified = append(identified, it.Item)
			}
		}
		if len(identified) > 0 {
			states, err = e.deps.Viewers.UserState(ctx, userID, identified)
			if err != nil {
				return nil, err
			}
		}
	}

	out := make([]Item, 0, len(items))
	for _, it := range items {
		state := states[it.MediaID]
		if !it.Identified() {
			state = catalog.ViewerState{}
		}
		matched, err := program.Match(state.RuleEnv())
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, it)
		}
	}
	return out, nil
}

func (e *Evaluator) paginate(items []Item, page Page) Result {
	limit := page.Limit
	if limit <= 0 {
		limit = e.opts.DefaultPageSize
	}
	limit = min(limit, e.opts.MaxPageSize)
	offset := max(page.Offset, 0)

	res := Result{
		Total:       len(items),
		Offset:      offset,
		Limit:       limit,
		Counts:      make(map[Classification]int),
		GeneratedAt: e.now().UTC(),
	}
	for _, it := range items {
		res.Counts[it.Status]++
	}
	if offset >= len(items) {
		res.Items = []Item{}
		return res
	}
	end := min(offset+limit, len(items))
	res.Items = append([]Item(nil), items[offset:end]...)
	return res
}

func (e *Evaluator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= e.opts.Timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.Timeout)
}

// upstreamError maps collaborator failures onto the service error markers.
func (e *Evaluator) upstreamError(ctx context.Context, operation string, err error) error {
	switch {
	case errors.Is(err, services.ErrUpstreamTimeout),
		errors.Is(err, services.ErrUpstreamUnavailable),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConfiguration),
		errors.Is(err, services.ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrUpstreamTimeout, "evaluator", operation, "", err)
	default:
		return services.Wrap(services.ErrUpstreamUnavailable, "evaluator", operation, "", err)
	}
}

func itemsToCandidates(items []catalog.Item, sourceID string) []aggregate.Candidate {
	out := make([]aggregate.Candidate, len(items))
	for i, it := range items {
		out[i] = aggregate.Candidate{Item: it, SourceID: sourceID, Rank: i + 1}
	}
	return out
}

func containsType(types []catalog.ItemType, t catalog.ItemType) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
