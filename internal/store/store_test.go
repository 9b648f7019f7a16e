package store_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
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
	"curator/internal/store"
	"curator/internal/testsupport"
)

func listDef(name string) collection.Definition {
	return collection.Definition{
		Name: name,
		Spec: collection.ListSpec{Sources: []aggregate.SourceSpec{{SourceID: "staff-picks"}}},
	}
}

func ids(defs []collection.Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if s.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected path %q", s.Path())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	_ = reopened.Close()
}

func TestCollectionRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	svc := collection.NewService(s, nil, logging.NewNop())
	ctx := context.Background()

	dynamic := rules.RuleSet{Predicates: []rules.Predicate{{Field: rules.FieldIsFavorite, Value: true}}}
	created, err := svc.Create(ctx, collection.Definition{
		Name:       "Favourite thrillers",
		ItemTypes:  []catalog.ItemType{catalog.Movie},
		Visibility: []string{"u1"},
		Spec: collection.FilterSpec{
			Static:  rules.RuleSet{Predicates: []rules.Predicate{{Field: rules.FieldGenres, Value: []string{"Thriller"}}}},
			Dynamic: &dynamic,
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	spec, ok := got.Spec.(collection.FilterSpec)
	if !ok {
		t.Fatalf("expected filter spec, got %T", got.Spec)
	}
	if spec.Dynamic == nil || spec.Dynamic.Predicates[0].Operator != rules.OpIs {
		t.Fatalf("unexpected dynamic rules: %+v", spec.Dynamic)
	}
	if !reflect.DeepEqual(got.ItemTypes, []catalog.ItemType{catalog.Movie}) || !reflect.DeepEqual(got.Visibility, []string{"u1"}) {
		t.Fatalf("unexpected round trip: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", got.CreatedAt, created.CreatedAt)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReorderRewritesWholeOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	svc := collection.NewService(s, nil, logging.NewNop())
	ctx := context.Background()

	byName := map[string]string{}
	for _, name := range []string{"c1", "c2", "c3"} {
		def, err := svc.Create(ctx, listDef(name))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		byName[name] = def.ID
	}

	if err := svc.Reorder(ctx, []string{byName["c3"], byName["c1"], byName["c2"]}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}
	defs, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got := ids(defs); !reflect.DeepEqual(got, []string{"c3", "c1", "c2"}) {
		t.Fatalf("order = %v", got)
	}

	if err := svc.Reorder(ctx, []string{byName["c1"], byName["c2"]}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected partial reorder to be rejected, got %v", err)
	}
	if err := svc.Reorder(ctx, []string{byName["c1"], byName["c2"], "missing"}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected unknown id to be rejected, got %v", err)
	}
	defs, _ = svc.List(ctx, "")
	if got := ids(defs); !reflect.DeepEqual(got, []string{"c3", "c1", "c2"}) {
		t.Fatalf("rejected reorder changed order: %v", got)
	}

	if err := svc.Delete(ctx, byName["c3"]); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	defs, _ = svc.List(ctx, "")
	for i, d := range defs {
		if d.OrderIndex != i {
			t.Fatalf("expected dense order after delete, got %d at %d", d.OrderIndex, i)
		}
	}
}

func TestConcurrentReordersLastWriterWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	svc := collection.NewService(s, nil, logging.NewNop())
	ctx := context.Background()

	var all []string
	for i := 0; i < 4; i++ {
		def, err := svc.Create(ctx, listDef(fmt.Sprintf("c%d", i)))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		all = append(all, def.ID)
	}
	orders := [][]string{
		{all[3], all[2], all[1], all[0]},
		{all[1], all[3], all[0], all[2]},
	}

	var wg sync.WaitGroup
	for _, order := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Reorder(ctx, order); err != nil {
				t.Errorf("Reorder failed: %v", err)
			}
		}()
	}
	wg.Wait()

	defs, _ := svc.List(ctx, "")
	got := make([]string, len(defs))
	seen := map[int]bool{}
	for i, d := range defs {
		got[i] = d.ID
		if seen[d.OrderIndex] {
			t.Fatalf("order index %d used twice", d.OrderIndex)
		}
		seen[d.OrderIndex] = true
	}
	if !reflect.DeepEqual(got, orders[0]) && !reflect.DeepEqual(got, orders[1]) {
		t.Fatalf("expected one complete ordering to win, got %v", got)
	}
}

func TestLedgerOverStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s := testsupport.MustOpenStore(t, cfg)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.New(s, logging.NewNop(), ledger.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	season := 2
	key := ledger.Key{MediaID: 1399, ItemType: catalog.Series, Season: &season}
	release := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	req := ledger.TransitionRequest{
		Key:         key,
		NewStatus:   ledger.StatusPendingRelease,
		Source:      ledger.Provenance{Type: ledger.ProvenanceUser, Detail: "alice"},
		ReleaseDate: &release,
		Title:       "Game of Thrones",
	}
	rec, err := l.Transition(ctx, req)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}

	stored, found, err := s.GetSubscription(ctx, key)
	if err != nil || !found {
		t.Fatalf("GetSubscription = %v, %v", found, err)
	}
	if stored.Season == nil || *stored.Season != 2 || stored.Title != "Game of Thrones" {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
	if stored.ReleaseDate == nil || !stored.ReleaseDate.Equal(release) {
		t.Fatalf("release date not stored: %v", stored.ReleaseDate)
	}
	if len(stored.Sources) != 1 || stored.Sources[0].Detail != "alice" {
		t.Fatalf("unexpected sources: %+v", stored.Sources)
	}

	if _, err := s.PutSubscription(ctx, stored, 0); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected insert of existing key to conflict, got %v", err)
	}
	if _, err := s.PutSubscription(ctx, stored, 7); !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected stale version to conflict, got %v", err)
	}

	promoted, err := l.PromoteReleased(ctx, now)
	if err != nil {
		t.Fatalf("PromoteReleased failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0].Status != ledger.StatusWanted || promoted[0].Version != 2 {
		t.Fatalf("unexpected promotion: %+v", promoted)
	}

	movie := ledger.Key{MediaID: 603, ItemType: catalog.Movie}
	result := l.ApplyBatch(ctx, []ledger.TransitionRequest{
		{Key: movie, NewStatus: ledger.StatusWanted, Source: ledger.Provenance{Type: "user"}},
		{Key: movie, NewStatus: ledger.StatusIgnored, Source: ledger.Provenance{Type: "user"}},
		{Key: ledger.Key{MediaID: 604, ItemType: catalog.Movie}, NewStatus: ledger.StatusSubscribed, Source: ledger.Provenance{Type: "user"}},
	})
	if result.Succeeded != 1 || result.Failed != 2 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
	if _, found, _ := s.GetSubscription(ctx, ledger.Key{MediaID: 604, ItemType: catalog.Movie}); found {
		t.Fatal("rejected batch item was persisted")
	}

	wanted, err := l.ListByStatus(ctx, ledger.StatusWanted)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(wanted) != 2 {
		t.Fatalf("expected 2 wanted records, got %d", len(wanted))
	}
	forMedia, err := l.ForMedia(ctx, []int64{1399})
	if err != nil || len(forMedia) != 1 {
		t.Fatalf("ForMedia = %d records, %v", len(forMedia), err)
	}
	counts, err := l.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts[ledger.StatusWanted] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	n, err := s.CountCollections(ctx)
	if err != nil || n != 0 {
		t.Fatalf("CountCollections = %d, %v", n, err)
	}
}
