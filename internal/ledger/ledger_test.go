package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"curator/internal/catalog"
	"curator/internal/logging"
	"curator/internal/services"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestLedger(store RecordStore) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	return New(store, logging.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func movieKey(id int64) Key { return Key{MediaID: id, ItemType: catalog.Movie} }

func userReq(key Key, status Status) TransitionRequest {
	return TransitionRequest{Key: key, NewStatus: status, Source: Provenance{Type: ProvenanceUser, Detail: "alice"}}
}

func TestWantedSubscribedWantedRejected(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := movieKey(603)

	if _, err := l.Transition(ctx, userReq(key, StatusWanted)); err != nil {
		t.Fatalf("Transition to WANTED failed: %v", err)
	}
	if _, err := l.Transition(ctx, userReq(key, StatusSubscribed)); err != nil {
		t.Fatalf("Transition to SUBSCRIBED failed: %v", err)
	}
	_, err := l.Transition(ctx, userReq(key, StatusWanted))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.From != StatusSubscribed || terr.To != StatusWanted {
		t.Fatalf("expected transition error detail, got %#v", err)
	}
	rec, _, _ := l.Get(ctx, key)
	if rec.Status != StatusSubscribed {
		t.Fatalf("expected record to stay SUBSCRIBED, got %s", rec.Status)
	}
}

func TestIgnoredRequiresForce(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := movieKey(11)

	ignored, err := l.Transition(ctx, userReq(key, StatusIgnored))
	if err != nil {
		t.Fatalf("Transition to IGNORED failed: %v", err)
	}
	if ignored.IgnoreReason != DefaultIgnoreReason {
		t.Fatalf("expected default ignore reason, got %q", ignored.IgnoreReason)
	}

	if _, err := l.Transition(ctx, userReq(key, StatusWanted)); !errors.Is(err, ErrIgnoredRequiresForce) {
		t.Fatalf("expected ErrIgnoredRequiresForce, got %v", err)
	}

	req := userReq(key, StatusWanted)
	req.ForceUnignore = true
	req.Source = Provenance{Type: ProvenanceCollection, Detail: "c1"}
	rec, err := l.Transition(ctx, req)
	if err != nil {
		t.Fatalf("forced unignore failed: %v", err)
	}
	if rec.Status != StatusWanted || rec.IgnoreReason != "" {
		t.Fatalf("unexpected record after unignore: %+v", rec)
	}
	if len(rec.Sources) != 2 || rec.Sources[0].Type != ProvenanceCollection || rec.Sources[1].Type != ProvenanceUser {
		t.Fatalf("expected new provenance prepended, got %+v", rec.Sources)
	}
}

func TestIgnoreReasonKeptAndUpdated(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := movieKey(12)
	req := userReq(key, StatusIgnored)
	req.IgnoreReason = "  seen it  "
	rec, err := l.Transition(ctx, req)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.IgnoreReason != "seen it" {
		t.Fatalf("expected trimmed reason, got %q", rec.IgnoreReason)
	}
	req.IgnoreReason = "bad reviews"
	rec, err = l.Transition(ctx, req)
	if err != nil {
		t.Fatalf("IGNORED -> IGNORED failed: %v", err)
	}
	if rec.IgnoreReason != "bad reviews" || rec.Version != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Sources) != 2 {
		t.Fatalf("expected each transition to add provenance, got %+v", rec.Sources)
	}
}

func TestForcedUnignoreKeepsProvenanceHistory(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := movieKey(13)

	for _, status := range []Status{StatusWanted, StatusIgnored} {
		if _, err := l.Transition(ctx, userReq(key, status)); err != nil {
			t.Fatalf("Transition to %s failed: %v", status, err)
		}
	}
	req := userReq(key, StatusWanted)
	req.ForceUnignore = true
	rec, err := l.Transition(ctx, req)
	if err != nil {
		t.Fatalf("forced unignore failed: %v", err)
	}
	if len(rec.Sources) != 3 {
		t.Fatalf("expected 3 provenance entries, got %+v", rec.Sources)
	}
	for i, p := range rec.Sources {
		if p.String() != "user:alice" {
			t.Fatalf("unexpected provenance %d: %v", i, p)
		}
	}
}

func TestProvenanceHistoryIsBounded(t *testing.T) {
	var history []Provenance
	for i := range maxProvenance + 5 {
		history = prependProvenance(history, Provenance{Type: ProvenanceUser, Detail: strconv.Itoa(i)})
	}
	if len(history) != maxProvenance {
		t.Fatalf("expected %d entries, got %d", maxProvenance, len(history))
	}
	if history[0].Detail != strconv.Itoa(maxProvenance+4) || history[maxProvenance-1].Detail != "5" {
		t.Fatalf("expected newest entries first, got %v ... %v", history[0], history[maxProvenance-1])
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  Status
		to    Status
		force bool
		want  error
	}{
		{StatusNone, StatusWanted, false, nil},
		{StatusNone, StatusPendingRelease, false, nil},
		{StatusNone, StatusSubscribed, false, ErrInvalidTransition},
		{StatusWanted, StatusSubscribed, false, nil},
		{StatusWanted, StatusNone, false, nil},
		{StatusPendingRelease, StatusWanted, false, ErrInvalidTransition},
		{StatusPendingRelease, StatusIgnored, false, nil},
		{StatusSubscribed, StatusIgnored, false, nil},
		{StatusSubscribed, StatusWanted, false, ErrInvalidTransition},
		{StatusIgnored, StatusNone, false, ErrIgnoredRequiresForce},
		{StatusIgnored, StatusNone, true, nil},
		{StatusIgnored, StatusSubscribed, true, ErrInvalidTransition},
		{StatusIgnored, StatusIgnored, false, nil},
	}
	for _, tc := range cases {
		if got := CheckTransition(tc.from, tc.to, tc.force); !errors.Is(got, tc.want) && got != tc.want {
			t.Errorf("CheckTransition(%s, %s, %v) = %v, want %v", tc.from, tc.to, tc.force, got, tc.want)
		}
	}
}

func TestTransitionValidatesRequest(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	season := 1
	bad := []TransitionRequest{
		{Key: Key{MediaID: 0, ItemType: catalog.Movie}, NewStatus: StatusWanted, Source: Provenance{Type: "user"}},
		{Key: Key{MediaID: 1, ItemType: catalog.Movie, Season: &season}, NewStatus: StatusWanted, Source: Provenance{Type: "user"}},
		{Key: movieKey(1), NewStatus: "LATER", Source: Provenance{Type: "user"}},
		{Key: movieKey(1), NewStatus: StatusWanted},
	}
	for i, req := range bad {
		if _, err := l.Transition(ctx, req); !errors.Is(err, services.ErrValidation) {
			t.Errorf("request %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSeasonKeysAreIndependent(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	s1, s2 := 1, 2
	series := Key{MediaID: 1399, ItemType: catalog.Series}
	season1 := Key{MediaID: 1399, ItemType: catalog.Series, Season: &s1}
	season2 := Key{MediaID: 1399, ItemType: catalog.Series, Season: &s2}

	for _, k := range []Key{series, season1, season2} {
		if _, err := l.Transition(ctx, userReq(k, StatusWanted)); err != nil {
			t.Fatalf("Transition %s failed: %v", k, err)
		}
	}
	records, err := l.ForMedia(ctx, []int64{1399})
	if err != nil {
		t.Fatalf("ForMedia failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
}

func TestSetPaused(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := Key{MediaID: 1399, ItemType: catalog.Series}

	if _, err := l.SetPaused(ctx, key, true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pause of unknown key to fail, got %v", err)
	}
	_, _ = l.Transition(ctx, userReq(key, StatusWanted))
	_, _ = l.Transition(ctx, userReq(key, StatusSubscribed))
	rec, err := l.SetPaused(ctx, key, true)
	if err != nil {
		t.Fatalf("SetPaused failed: %v", err)
	}
	if !rec.Paused {
		t.Fatal("expected record to be paused")
	}
	rec, err = l.Transition(ctx, userReq(key, StatusIgnored))
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.Paused {
		t.Fatal("expected pause to clear when leaving SUBSCRIBED")
	}
}

func TestListByStatusExcludesNoneFromActive(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	_, _ = l.Transition(ctx, userReq(movieKey(1), StatusWanted))
	_, _ = l.Transition(ctx, userReq(movieKey(2), StatusWanted))
	_, _ = l.Transition(ctx, userReq(movieKey(2), StatusNone))

	wanted, err := l.ListByStatus(ctx, StatusWanted)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(wanted) != 1 || wanted[0].MediaID != 1 {
		t.Fatalf("unexpected wanted list: %+v", wanted)
	}
	active, err := l.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected NONE record excluded, got %d records", len(active))
	}
	counts, _ := l.Counts(ctx)
	if counts[StatusNone] != 1 || counts[StatusWanted] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestPromoteReleased(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()

	today := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	tomorrow := today.AddDate(0, 0, 1)
	for id, date := range map[int64]*time.Time{1: &today, 2: &tomorrow, 3: nil} {
		req := userReq(movieKey(id), StatusPendingRelease)
		req.ReleaseDate = date
		if _, err := l.Transition(ctx, req); err != nil {
			t.Fatalf("Transition %d failed: %v", id, err)
		}
	}

	promoted, err := l.PromoteReleased(ctx, fixedNow)
	if err != nil {
		t.Fatalf("PromoteReleased failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0].MediaID != 1 {
		t.Fatalf("expected only item 1 promoted, got %+v", promoted)
	}
	if promoted[0].Status != StatusWanted || promoted[0].Sources[0].Type != ProvenanceReleaseCheck {
		t.Fatalf("unexpected promoted record: %+v", promoted[0])
	}

	promoted, err = l.PromoteReleased(ctx, tomorrow)
	if err != nil {
		t.Fatalf("PromoteReleased failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0].MediaID != 2 {
		t.Fatalf("expected item 2 promoted at UTC midnight, got %+v", promoted)
	}
}

// conflictStore fails the first N writes with a version conflict.
type conflictStore struct {
	*MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) PutSubscription(ctx context.Context, rec Record, expected int64) (Record, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return Record{}, ErrVersionConflict
	}
	c.mu.Unlock()
	return c.MemoryStore.PutSubscription(ctx, rec, expected)
}

func TestTransitionRetriesOnVersionConflict(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	l := newTestLedger(store)
	rec, err := l.Transition(context.Background(), userReq(movieKey(5), StatusWanted))
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}

	store.conflicts = maxVersionRetries
	_, err = l.Transition(context.Background(), userReq(movieKey(6), StatusWanted))
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict after exhausting retries, got %v", err)
	}
}

func TestConcurrentTransitionsOnOneKeyAreSerialized(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	key := movieKey(77)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Transition(ctx, userReq(key, StatusWanted)); err != nil {
				t.Errorf("Transition failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, _, err := l.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Version != 8 {
		t.Fatalf("expected 8 serialized writes, got version %d", rec.Version)
	}
}

func TestParseStatusAndProvenance(t *testing.T) {
	if s, err := ParseStatus("pending-release"); err != nil || s != StatusPendingRelease {
		t.Fatalf("ParseStatus = %v, %v", s, err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected unknown status error")
	}
	p, err := ParseProvenance("Collection:abc-123")
	if err != nil || p.Type != ProvenanceCollection || p.Detail != "abc-123" {
		t.Fatalf("ParseProvenance = %+v, %v", p, err)
	}
	if _, err := ParseProvenance(" "); err == nil {
		t.Fatal("expected empty provenance error")
	}
}
