package api

import (
	"context"
	"fmt"
	"time"

	"curator/internal/catalog"
	"curator/internal/ledger"
	"curator/internal/services"
)

// DefaultBatchMaxSize caps transition batches when no limit is configured.
const DefaultBatchMaxSize = 500

// SubscriptionLedger is the ledger surface the API needs.
type SubscriptionLedger interface {
	ListByStatus(ctx context.Context, status ledger.Status) ([]ledger.Record, error)
	ListActive(ctx context.Context) ([]ledger.Record, error)
	ApplyBatch(ctx context.Context, reqs []ledger.TransitionRequest) ledger.BatchResult
	SetPaused(ctx context.Context, key ledger.Key, paused bool) (ledger.Record, error)
	PromoteReleased(ctx context.Context, now time.Time) ([]ledger.Record, error)
	Counts(ctx context.Context) (map[ledger.Status]int, error)
}

// SubscriptionService exposes ledger operations returning API DTOs.
type SubscriptionService struct {
	ledger   SubscriptionLedger
	maxBatch int
	now      func() time.Time
}

// NewSubscriptionService wraps l. maxBatch <= 0 selects DefaultBatchMaxSize.
func NewSubscriptionService(l SubscriptionLedger, maxBatch int) *SubscriptionService {
	if l == nil {
		return nil
	}
	if maxBatch <= 0 {
		maxBatch = DefaultBatchMaxSize
	}
	return &SubscriptionService{ledger: l, maxBatch: maxBatch, now: time.Now}
}

// MaxBatch returns the largest accepted transition batch.
func (s *SubscriptionService) MaxBatch() int { return s.maxBatch }

// List returns records in the given statuses, or every active record when
// statuses is empty.
func (s *SubscriptionService) List(ctx context.Context, statuses ...string) ([]SubscriptionRecord, error) {
	if len(statuses) == 0 {
		records, err := s.ledger.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		return FromRecords(records), nil
	}
	var out []SubscriptionRecord
	seen := make(map[ledger.Status]struct{}, len(statuses))
	for _, value := range statuses {
		status, err := ledger.ParseStatus(value)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "list subscriptions", err.Error(), nil)
		}
		if _, dup := seen[status]; dup {
			continue
		}
		seen[status] = struct{}{}
		records, err := s.ledger.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		out = append(out, FromRecords(records)...)
	}
	if out == nil {
		out = []SubscriptionRecord{}
	}
	return out, nil
}

// Apply runs a batch of transitions. The batch as a whole is rejected when
// it is empty or larger than the configured cap; an item that fails its own
// validation is reported as invalid_request without affecting the others.
func (s *SubscriptionService) Apply(ctx context.Context, items []TransitionItem) (TransitionResponse, error) {
	if len(items) == 0 {
		return TransitionResponse{}, services.Wrap(services.ErrValidation, "api", "transitions", "at least one transition is required", nil)
	}
	if len(items) > s.maxBatch {
		return TransitionResponse{}, services.Wrap(services.ErrValidation, "api", "transitions",
			fmt.Sprintf("batch of %d exceeds the limit of %d", len(items), s.maxBatch), nil)
	}

	resp := TransitionResponse{Items: make([]TransitionOutcome, len(items))}
	reqs := make([]ledger.TransitionRequest, 0, len(items))
	positions := make([]int, 0, len(items))
	for i, item := range items {
		req, err := convertItem(item)
		if err != nil {
			resp.Items[i] = TransitionOutcome{
				Index:    i,
				MediaID:  item.MediaID,
				ItemType: item.ItemType,
				Season:   item.Season,
				Outcome:  string(ledger.OutcomeInvalidRequest),
				Error:    err.Error(),
			}
			resp.Failed++
			continue
		}
		reqs = append(reqs, req)
		positions = append(positions, i)
	}
	if len(reqs) > 0 {
		batch := FromBatchResult(s.ledger.ApplyBatch(ctx, reqs))
		for j, outcome := range batch.Items {
			outcome.Index = positions[j]
			resp.Items[positions[j]] = outcome
		}
		resp.Succeeded += batch.Succeeded
		resp.Failed += batch.Failed
	}
	return resp, nil
}

func convertItem(item TransitionItem) (ledger.TransitionRequest, error) {
	if err := Validate(item); err != nil {
		return ledger.TransitionRequest{}, err
	}
	return ToTransitionRequest(item)
}

// SetPaused pauses or resumes a subscribed record.
func (s *SubscriptionService) SetPaused(ctx context.Context, req PauseRequest) (SubscriptionRecord, error) {
	if err := Validate(req); err != nil {
		return SubscriptionRecord{}, err
	}
	itemType, err := catalog.ParseItemType(req.ItemType)
	if err != nil {
		return SubscriptionRecord{}, services.Wrap(services.ErrValidation, "api", "pause", err.Error(), nil)
	}
	rec, err := s.ledger.SetPaused(ctx, ledger.Key{MediaID: req.MediaID, ItemType: itemType, Season: req.Season}, req.Paused)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	return FromRecord(rec), nil
}

// ReleaseCheck promotes every pending release whose day has begun.
func (s *SubscriptionService) ReleaseCheck(ctx context.Context) (ReleaseCheckResponse, error) {
	promoted, err := s.ledger.PromoteReleased(ctx, s.now().UTC())
	if err != nil {
		return ReleaseCheckResponse{}, err
	}
	return ReleaseCheckResponse{Promoted: FromRecords(promoted)}, nil
}

// Counts returns the number of records per status.
func (s *SubscriptionService) Counts(ctx context.Context) (map[string]int, error) {
	counts, err := s.ledger.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return StatusCounts(counts), nil
}
