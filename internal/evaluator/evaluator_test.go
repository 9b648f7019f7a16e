package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"curator/internal/aggregate"
	"curator/internal/catalog"
	"curator/internal/collection"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/rules"
	"curator/internal/services"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	items    []catalog.Item
	err      error
	block    bool
	mu       sync.Mutex
	enriched [][]catalog.Item
}

func (f *fakeCatalog) QueryByRuleSet(ctx context.Context, _ rules.RuleSet, _ []catalog.ItemType, _ []string) ([]catalog.Item, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]catalog.Item(nil), f.items...), nil
}

func (f *fakeCatalog) Enrich(_ context.Context, items []catalog.Item) ([]catalog.Item, error) {
	f.mu.Lock()
	f.enriched = append(f.enriched, items)
	f.mu.Unlock()
	out := make([]catalog.Item, len(items))
	for i, it := range items {
		it.Genres = []string{"Drama"}
		it.Year = 1999
		out[i] = it
	}
	return out, nil
}

type fakePresence struct {
	library map[int64]string
	err     error
}

func (f fakePresence) IsInLibrary(_ context.Context, mediaID int64, _ catalog.ItemType, _ *int) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	id, ok := f.library[mediaID]
	return ok, id, nil
}

type fakeViewers map[string]map[int64]catalog.ViewerState

func (f fakeViewers) UserState(_ context.Context, userID string, _ []catalog.Item) (map[int64]catalog.ViewerState, error) {
	return f[userID], nil
}

type fakeLists struct {
	lists []aggregate.RankedList
}

func (f fakeLists) Resolve(context.Context, []aggregate.SourceSpec, *int) ([]aggregate.RankedList, error) {
	return f.lists, nil
}

func newTestLedger() *ledger.Ledger {
	return ledger.New(ledger.NewMemoryStore(), logging.NewNop(), ledger.WithClock(func() time.Time { return fixedNow }))
}

func newTestEvaluator(deps Dependencies, opts Options) *Evaluator {
	e := New(deps, opts, logging.NewNop())
	e.now = func() time.Time { return fixedNow }
	return e
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func movie(id int64, title string) catalog.Item {
	return catalog.Item{MediaID: id, ItemType: catalog.Movie, Title: title, ReleaseDate: date(2001, 1, 1)}
}

func filterDef(id string, dynamic *rules.RuleSet) collection.Definition {
	return collection.Definition{
		ID:        id,
		Type:      collection.TypeFilter,
		ItemTypes: []catalog.ItemType{catalog.Movie},
		Spec:      collection.FilterSpec{Static: rules.RuleSet{Logic: rules.LogicAnd}, Dynamic: dynamic},
		SortKey:   collection.SortTitle,
		SortOrder: collection.SortAsc,
		UpdatedAt: fixedNow,
	}
}

func subscribe(t *testing.T, l *ledger.Ledger, id int64) {
	t.Helper()
	ctx := context.Background()
	key := ledger.Key{MediaID: id, ItemType: catalog.Movie}
	for _, status := range []ledger.Status{ledger.StatusWanted, ledger.StatusSubscribed} {
		req := ledger.TransitionRequest{Key: key, NewStatus: status, Source: ledger.Provenance{Type: ledger.ProvenanceUser}}
		if _, err := l.Transition(ctx, req); err != nil {
			t.Fatalf("Transition %d to %s failed: %v", id, status, err)
		}
	}
}

func statuses(items []Item) map[int64]Classification {
	out := make(map[int64]Classification, len(items))
	for _, it := range items {
		out[it.MediaID] = it.Status
	}
	return out
}

func TestMaterializeClassification(t *testing.T) {
	l := newTestLedger()
	subscribe(t, l, 2)
	subscribe(t, l, 3)
	subscribe(t, l, 6)
	if _, err := l.SetPaused(context.Background(), ledger.Key{MediaID: 3, ItemType: catalog.Movie}, true); err != nil {
		t.Fatalf("SetPaused failed: %v", err)
	}

	unreleased := movie(4, "Delta")
	unreleased.ReleaseDate = date(2026, 4, 1)
	undated := movie(5, "Echo")
	undated.ReleaseDate = nil
	cat := &fakeCatalog{items: []catalog.Item{
		movie(1, "Alpha"),
		movie(2, "Bravo"),
		movie(3, "Charlie"),
		unreleased,
		undated,
		movie(6, "Foxtrot"),
		{ItemType: catalog.Movie, Title: "Ghost Entry"},
	}}
	e := newTestEvaluator(Dependencies{
		Catalog:  cat,
		Presence: fakePresence{library: map[int64]string{1: "lib-1", 6: "lib-6"}},
		Ledger:   l,
	}, Options{})

	res, err := e.Materialize(context.Background(), filterDef("c1", nil), nil, Page{})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	got := statuses(res.Items)
	want := map[int64]Classification{
		1: ClassInLibrary,
		2: ClassSubscribed,
		3: ClassPaused,
		4: ClassUnreleased,
		5: ClassMissing,
		6: ClassInLibrary,
		0: ClassUnidentified,
	}
	for id, class := range want {
		if got[id] != class {
			t.Fatalf("item %d: expected %s, got %s", id, class, got[id])
		}
	}
	if res.Items[0].LibraryItemID != "lib-1" {
		t.Fatalf("expected library id on in-library item, got %q", res.Items[0].LibraryItemID)
	}
	for _, it := range res.Items {
		if it.MediaID == 6 && it.LedgerStatus != ledger.StatusSubscribed {
			t.Fatalf("expected ledger status to be reported for in-library item, got %s", it.LedgerStatus)
		}
		if it.MediaID == 5 && it.LedgerStatus != ledger.StatusNone {
			t.Fatalf("expected NONE ledger status for untracked item, got %s", it.LedgerStatus)
		}
	}
	if res.Counts[ClassInLibrary] != 2 || res.Total != 7 {
		t.Fatalf("unexpected counts %v total %d", res.Counts, res.Total)
	}
}

func TestMaterializeReleaseBoundaryIsUTCMidnight(t *testing.T) {
	today := movie(1, "Today")
	today.ReleaseDate = date(2026, 3, 14)
	tomorrow := movie(2, "Tomorrow")
	tomorrow.ReleaseDate = date(2026, 3, 15)
	e := newTestEvaluator(Dependencies{Catalog: &fakeCatalog{items: []catalog.Item{today, tomorrow}}}, Options{})

	res, err := e.Materialize(context.Background(), filterDef("c1", nil), nil, Page{})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	got := statuses(res.Items)
	if got[1] != ClassMissing || got[2] != ClassUnreleased {
		t.Fatalf("unexpected release classification %v", got)
	}
}

func TestMaterializeDynamicRulesNeedViewer(t *testing.T) {
	dynamic := &rules.RuleSet{Logic: rules.LogicAnd, Predicates: []rules.Predicate{
		{Field: rules.FieldIsFavorite, Operator: rules.OpIs, Value: true},
	}}
	cat := &fakeCatalog{items: []catalog.Item{movie(1, "Alpha"), movie(2, "Bravo"), movie(3, "Charlie")}}
	viewers := fakeViewers{"alice": {2: {Favorite: true}}}
	e := newTestEvaluator(Dependencies{Catalog: cat, Viewers: viewers}, Options{})
	ctx := context.Background()
	def := filterDef("c1", dynamic)

	baseline, err := e.Materialize(ctx, def, nil, Page{})
	if err != nil {
		t.Fatalf("Materialize without viewer failed: %v", err)
	}
	withoutDynamic, err := e.Materialize(ctx, filterDef("c2", nil), nil, Page{})
	if err != nil {
		t.Fatalf("Materialize without dynamic rules failed: %v", err)
	}
	if baseline.Total != withoutDynamic.Total || baseline.Total != 3 {
		t.Fatalf("expected dynamic rules to be skipped without a viewer, got %d vs %d", baseline.Total, withoutDynamic.Total)
	}

	personal, err := e.Materialize(ctx, def, &ViewerContext{UserID: "alice"}, Page{})
	if err != nil {
		t.Fatalf("Materialize for viewer failed: %v", err)
	}
	if personal.Total != 1 || personal.Items[0].MediaID != 2 || personal.ViewerID != "alice" {
		t.Fatalf("expected only the favorite, got %+v", personal.Items)
	}

	stranger, err := e.Materialize(ctx, def, &ViewerContext{UserID: "bob"}, Page{})
	if err != nil {
		t.Fatalf("Materialize for unknown viewer failed: %v", err)
	}
	if stranger.Total != 0 {
		t.Fatalf("expected default viewer state to match nothing, got %d", stranger.Total)
	}
}

func TestMaterializeSortDescendingWithTies(t *testing.T) {
	a := movie(30, "Same Rating B")
	a.Rating, a.VoteCount = 7.5, 10
	b := movie(10, "Same Rating A")
	b.Rating, b.VoteCount = 7.5, 10
	c := movie(20, "Top")
	c.Rating, c.VoteCount = 9.1, 10
	d := movie(5, "Unrated")
	cat := &fakeCatalog{items: []catalog.Item{d, a, b, c}}
	e := newTestEvaluator(Dependencies{Catalog: cat}, Options{})

	def := filterDef("c1", nil)
	def.SortKey = collection.SortRating
	def.SortOrder = collection.SortDesc
	res, err := e.Materialize(context.Background(), def, nil, Page{})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	want := []int64{20, 10, 30, 5}
	for i, id := range want {
		if res.Items[i].MediaID != id {
			t.Fatalf("position %d: expected %d, got %d", i, id, res.Items[i].MediaID)
		}
	}
}

func TestMaterializeSortTitleIgnoresArticles(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{movie(1, "The Zebra"), movie(2, "An Apple"), movie(3, "Mango")}}
	e := newTestEvaluator(Dependencies{Catalog: cat}, Options{})
	res, err := e.Materialize(context.Background(), filterDef("c1", nil), nil, Page{})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	want := []int64{2, 3, 1}
	for i, id := range want {
		if res.Items[i].MediaID != id {
			t.Fatalf("position %d: expected %d, got %d", i, id, res.Items[i].MediaID)
		}
	}
}

func TestMaterializeTimeout(t *testing.T) {
	e := newTestEvaluator(Dependencies{Catalog: &fakeCatalog{block: true}}, Options{Timeout: 20 * time.Millisecond})
	res, err := e.Materialize(context.Background(), filterDef("c1", nil), nil, Page{})
	if !errors.Is(err, services.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
	if res.Items != nil || res.Total != 0 {
		t.Fatalf("expected no partial result, got %+v", res)
	}
}

type gatedCatalog struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	items   []catalog.Item
}

func (g *gatedCatalog) QueryByRuleSet(ctx context.Context, _ rules.RuleSet, _ []catalog.ItemType, _ []string) ([]catalog.Item, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return append([]catalog.Item(nil), g.items...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedCatalog) Enrich(_ context.Context, items []catalog.Item) ([]catalog.Item, error) {
	return items, nil
}

func TestMaterializeSharedBaselineSurvivesCancelledCaller(t *testing.T) {
	cat := &gatedCatalog{
		started: make(chan struct{}),
		release: make(chan struct{}),
		items:   []catalog.Item{movie(1, "Alpha"), movie(2, "Bravo")},
	}
	e := newTestEvaluator(Dependencies{Catalog: cat}, Options{Timeout: 5 * time.Second})
	def := filterDef("shared", nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Materialize(ctxA, def, nil, Page{})
		errA <- err
	}()
	<-cat.started

	type outcome struct {
		res Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := e.Materialize(context.Background(), def, nil, Page{})
		doneB <- outcome{res, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelA()
	if err := <-errA; err == nil {
		t.Fatal("expected cancelled caller to fail")
	}
	close(cat.release)

	b := <-doneB
	if b.err != nil {
		t.Fatalf("Materialize for the second caller failed: %v", b.err)
	}
	if b.res.Total != 2 {
		t.Fatalf("expected 2 items, got %d", b.res.Total)
	}
}

func TestMaterializeCallerDeadlineWhileShared(t *testing.T) {
	cat := &gatedCatalog{
		started: make(chan struct{}),
		release: make(chan struct{}),
		items:   []catalog.Item{movie(1, "Alpha")},
	}
	defer close(cat.release)
	e := newTestEvaluator(Dependencies{Catalog: cat}, Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Materialize(ctx, filterDef("deadline", nil), nil, Page{})
	if !errors.Is(err, services.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestMaterializeCollaboratorFailure(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{movie(1, "Alpha"), movie(2, "Bravo")}}
	e := newTestEvaluator(Dependencies{
		Catalog:  cat,
		Presence: fakePresence{err: errors.New("connection refused")},
	}, Options{})
	res, err := e.Materialize(context.Background(), filterDef("c1", nil), nil, Page{})
	if !errors.Is(err, services.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if services.Kind(err) != "upstream_unavailable" {
		t.Fatalf("unexpected error kind %q", services.Kind(err))
	}
	if res.Items != nil {
		t.Fatalf("expected no partial result, got %+v", res.Items)
	}

	cat.err = services.Wrap(services.ErrUpstreamTimeout, "tmdb", "discover", "", nil)
	_, err = e.Materialize(context.Background(), filterDef("c2", nil), nil, Page{})
	if !errors.Is(err, services.ErrUpstreamTimeout) {
		t.Fatalf("expected classified upstream error to pass through, got %v", err)
	}
}

func TestMaterializePagination(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{
		movie(1, "A"), movie(2, "B"), movie(3, "C"), movie(4, "D"), movie(5, "E"),
	}}
	e := newTestEvaluator(Dependencies{Catalog: cat}, Options{DefaultPageSize: 2, MaxPageSize: 3})
	ctx := context.Background()
	def := filterDef("c1", nil)

	tests := []struct {
		name       string
		page       Page
		wantIDs    []int64
		wantLimit  int
		wantOffset int
	}{
		{name: "default", page: Page{}, wantIDs: []int64{1, 2}, wantLimit: 2},
		{name: "clamped", page: Page{Limit: 100}, wantIDs: []int64{1, 2, 3}, wantLimit: 3},
		{name: "tail", page: Page{Offset: 3, Limit: 3}, wantIDs: []int64{4, 5}, wantLimit: 3, wantOffset: 3},
		{name: "beyond", page: Page{Offset: 9}, wantIDs: nil, wantLimit: 2, wantOffset: 9},
		{name: "negative offset", page: Page{Offset: -4, Limit: 1}, wantIDs: []int64{1}, wantLimit: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Materialize(ctx, def, nil, tt.page)
			if err != nil {
				t.Fatalf("Materialize failed: %v", err)
			}
			if res.Total != 5 || res.Limit != tt.wantLimit || res.Offset != tt.wantOffset {
				t.Fatalf("unexpected window total=%d limit=%d offset=%d", res.Total, res.Limit, res.Offset)
			}
			if len(res.Items) != len(tt.wantIDs) {
				t.Fatalf("expected %d items, got %d", len(tt.wantIDs), len(res.Items))
			}
			for i, id := range tt.wantIDs {
				if res.Items[i].MediaID != id {
					t.Fatalf("position %d: expected %d, got %d", i, id, res.Items[i].MediaID)
				}
			}
		})
	}
}

func TestMaterializeListCollection(t *testing.T) {
	listA := aggregate.RankedList{SourceID: "a", Items: []aggregate.Candidate{
		{Item: catalog.Item{MediaID: 603, ItemType: catalog.Movie, Title: "The Matrix"}},
		{Item: catalog.Item{MediaID: 1399, ItemType: catalog.Series, Title: "Game of Thrones"}},
	}}
	listB := aggregate.RankedList{SourceID: "b", Items: []aggregate.Candidate{
		{Item: catalog.Item{MediaID: 603, ItemType: catalog.Movie, Title: "The Matrix"}},
		{Item: catalog.Item{MediaID: 27205, ItemType: catalog.Movie, Title: "Inception"}},
	}}
	cat := &fakeCatalog{}
	e := newTestEvaluator(Dependencies{Catalog: cat, Lists: fakeLists{lists: []aggregate.RankedList{listA, listB}}}, Options{})
	def := collection.Definition{
		ID:        "list-1",
		Type:      collection.TypeList,
		ItemTypes: []catalog.ItemType{catalog.Movie},
		Spec:      collection.ListSpec{Sources: []aggregate.SourceSpec{{SourceID: "a"}, {SourceID: "b"}}},
		SortKey:   collection.SortNative,
	}

	res, err := e.Materialize(context.Background(), def, nil, Page{})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if res.Total != 2 || res.Items[0].MediaID != 603 || res.Items[1].MediaID != 27205 {
		t.Fatalf("unexpected list items %+v", res.Items)
	}
	if res.Items[1].SourceID != "b" || res.Items[0].Year != 1999 {
		t.Fatalf("expected source and enriched metadata, got %+v", res.Items[1])
	}
	if len(cat.enriched) != 1 || len(cat.enriched[0]) != 2 {
		t.Fatalf("expected one enrich call for two items, got %v", cat.enriched)
	}
}

func TestMaterializeMissingCollaborator(t *testing.T) {
	e := newTestEvaluator(Dependencies{}, Options{})
	def := collection.Definition{
		ID:   "rec",
		Type: collection.TypeRecommendation,
		Spec: collection.RecommendationSpec{TargetUserID: "alice", Limit: 5},
	}
	_, err := e.Materialize(context.Background(), def, nil, Page{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSubscribeMissing(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	ignored := ledger.TransitionRequest{
		Key:       ledger.Key{MediaID: 3, ItemType: catalog.Movie},
		NewStatus: ledger.StatusIgnored,
		Source:    ledger.Provenance{Type: ledger.ProvenanceUser},
	}
	if _, err := l.Transition(ctx, ignored); err != nil {
		t.Fatalf("Transition to IGNORED failed: %v", err)
	}

	upcoming := movie(4, "Upcoming")
	upcoming.ReleaseDate = date(2026, 6, 1)
	cat := &fakeCatalog{items: []catalog.Item{
		movie(1, "Owned"),
		movie(2, "Missing"),
		movie(3, "Ignored"),
		upcoming,
		{ItemType: catalog.Movie, Title: "Nobody Knows"},
	}}
	e := newTestEvaluator(Dependencies{
		Catalog:  cat,
		Presence: fakePresence{library: map[int64]string{1: "lib-1"}},
		Ledger:   l,
		Batch:    l,
	}, Options{})

	result, err := e.SubscribeMissing(ctx, filterDef("c9", nil), "alice")
	if err != nil {
		t.Fatalf("SubscribeMissing failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 0 {
		t.Fatalf("unexpected batch result %+v", result)
	}

	wanted, _, err := l.Get(ctx, ledger.Key{MediaID: 2, ItemType: catalog.Movie})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if wanted.Status != ledger.StatusWanted || wanted.Title != "Missing" {
		t.Fatalf("expected WANTED record, got %+v", wanted)
	}
	if len(wanted.Sources) != 1 || wanted.Sources[0].String() != "collection:c9" {
		t.Fatalf("expected collection provenance, got %v", wanted.Sources)
	}
	pending, _, _ := l.Get(ctx, ledger.Key{MediaID: 4, ItemType: catalog.Movie})
	if pending.Status != ledger.StatusPendingRelease || pending.ReleaseDate == nil {
		t.Fatalf("expected PENDING_RELEASE with release date, got %+v", pending)
	}
	still, _, _ := l.Get(ctx, ledger.Key{MediaID: 3, ItemType: catalog.Movie})
	if still.Status != ledger.StatusIgnored {
		t.Fatalf("expected ignored item to stay IGNORED, got %s", still.Status)
	}
}
