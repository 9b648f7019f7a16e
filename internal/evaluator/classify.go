package evaluator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"curator/internal/aggregate"
	"curator/internal/ledger"
	"curator/internal/logging"
)

// classify assigns each candidate its availability. Precedence is
// unidentified, in_library, subscribed/paused, unreleased, missing.
func (e *Evaluator) classify(ctx context.Context, candidates []aggregate.Candidate) ([]Item, error) {
	items := make([]Item, len(candidates))
	for i, c := range candidates {
		items[i] = Item{
			Item:         c.Item,
			Season:       c.Season,
			SourceID:     c.SourceID,
			Rank:         c.Rank,
			LedgerStatus: ledger.StatusNone,
		}
	}

	records, err := e.ledgerRecords(ctx, items)
	if err != nil {
		return nil, err
	}
	inLibrary, err := e.presence(ctx, items)
	if err != nil {
		return nil, err
	}

	now := e.now()
	for i := range items {
		it := &items[i]
		if !it.Identified() {
			it.Status = ClassUnidentified
			continue
		}
		key := ledger.Key{MediaID: it.MediaID, ItemType: it.ItemType, Season: it.Season}
		rec, hasRecord := records[key.String()]
		if hasRecord {
			it.LedgerStatus = rec.Status
			if !rec.FirstRequestedAt.IsZero() {
				first := rec.FirstRequestedAt
				it.FirstRequestedAt = &first
			}
		}
		if libraryID, ok := inLibrary[i]; ok {
			it.Status = ClassInLibrary
			it.LibraryItemID = libraryID
			continue
		}
		if hasRecord && rec.Status == ledger.StatusSubscribed {
			it.Status = ClassSubscribed
			if rec.Paused || seriesPaused(records, key) {
				it.Status = ClassPaused
			}
			continue
		}
		if !it.ReleasedBy(now) {
			it.Status = ClassUnreleased
			continue
		}
		it.Status = ClassMissing
	}
	return items, nil
}

// seriesPaused reports whether the series record that owns a season key is
// paused.
func seriesPaused(records map[string]ledger.Record, key ledger.Key) bool {
	if key.Season == nil {
		return false
	}
	rec, ok := records[key.SeriesKey().String()]
	return ok && rec.Status == ledger.StatusSubscribed && rec.Paused
}

func (e *Evaluator) ledgerRecords(ctx context.Context, items []Item) (map[string]ledger.Record, error) {
	out := map[string]ledger.Record{}
	if e.deps.Ledger == nil {
		return out, nil
	}
	seen := map[int64]struct{}{}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if !it.Identified() {
			continue
		}
		if _, dup := seen[it.MediaID]; dup {
			continue
		}
		seen[it.MediaID] = struct{}{}
		ids = append(ids, it.MediaID)
	}
	if len(ids) == 0 {
		return out, nil
	}
	records, err := e.deps.Ledger.ForMedia(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		out[rec.Key.String()] = rec
	}
	return out, nil
}

// presence checks library membership concurrently and returns the library
// item id for every index found.
func (e *Evaluator) presence(ctx context.Context, items []Item) (map[int]string, error) {
	found := map[int]string{}
	if e.deps.Presence == nil {
		return found, nil
	}
	libraryIDs := make([]string, len(items))
	hits := make([]bool, len(items))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.PresenceConcurrency)
	for i := range items {
		if !items[i].Identified() {
			continue
		}
		g.Go(func() error {
			it := items[i]
			ok, libraryID, err := e.deps.Presence.IsInLibrary(gctx, it.MediaID, it.ItemType, it.Season)
			if err != nil {
				return err
			}
			hits[i] = ok
			libraryIDs[i] = libraryID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, ok := range hits {
		if ok {
			found[i] = libraryIDs[i]
		}
	}
	e.logger.Debug("presence checked",
		logging.Int("items", len(items)),
		logging.Int("in_library", len(found)),
		logging.Duration("duration", time.Since(start)),
	)
	return found, nil
}
