package evaluator

import (
	"context"
	"time"

	"curator/internal/collection"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/services"
)

// SubscribeMissing requests every missing item of def. Missing items become
// WANTED; unreleased items without a ledger record become PENDING_RELEASE.
// Items already tracked in the ledger are left alone so user decisions such
// as IGNORED stick.
func (e *Evaluator) SubscribeMissing(ctx context.Context, def collection.Definition, actor string) (ledger.BatchResult, error) {
	if e.deps.Batch == nil {
		return ledger.BatchResult{}, services.Wrap(services.ErrConfiguration, "evaluator", "subscribe missing", "no ledger configured", nil)
	}
	start := time.Now()
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	items, err := e.materializeAll(ctx, def, nil)
	if err != nil {
		return ledger.BatchResult{}, err
	}

	source := ledger.Provenance{Type: ledger.ProvenanceCollection, Detail: def.ID}
	var reqs []ledger.TransitionRequest
	for _, it := range items {
		if it.LedgerStatus != ledger.StatusNone {
			continue
		}
		req := ledger.TransitionRequest{
			Key:         ledger.Key{MediaID: it.MediaID, ItemType: it.ItemType, Season: it.Season},
			Source:      source,
			Title:       it.Title,
			ReleaseDate: it.ReleaseDate,
		}
		switch it.Status {
		case ClassMissing:
			req.NewStatus = ledger.StatusWanted
		case ClassUnreleased:
			req.NewStatus = ledger.StatusPendingRelease
		default:
			continue
		}
		reqs = append(reqs, req)
	}

	logger := logging.WithContext(ctx, e.logger).With(
		logging.String(logging.FieldCollectionID, def.ID),
		logging.String("actor", actor),
	)
	if len(reqs) == 0 {
		logger.Info("no missing items to subscribe")
		return ledger.BatchResult{}, nil
	}
	result := e.deps.Batch.ApplyBatch(ctx, reqs)
	logger.Info("missing items subscribed",
		logging.Int("requested", len(reqs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Duration("duration", time.Since(start)),
	)
	return result, nil
}
