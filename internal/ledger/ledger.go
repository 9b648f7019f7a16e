package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/services"
)

const (
	maxVersionRetries       = 8
	defaultBatchConcurrency = 8
)

// TransitionRequest asks for one key to move to NewStatus.
type TransitionRequest struct {
	Key
	NewStatus     Status     `json:"newStatus"`
	IgnoreReason  string     `json:"ignoreReason,omitempty"`
	ForceUnignore bool       `json:"forceUnignore,omitempty"`
	Source        Provenance `json:"source"`
	// ReleaseDate and Title are stored when provided, so PENDING_RELEASE
	// records can be promoted and listings can show a name.
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	Title       string     `json:"title,omitempty"`
}

func (r TransitionRequest) validate() error {
	if err := r.Key.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "ledger", "transition", err.Error(), nil)
	}
	if _, err := ParseStatus(string(r.NewStatus)); err != nil {
		return services.Wrap(services.ErrValidation, "ledger", "transition", err.Error(), nil)
	}
	if strings.TrimSpace(r.Source.Type) == "" {
		return services.Wrap(services.ErrValidation, "ledger", "transition", "source is required", nil)
	}
	return nil
}

// Ledger applies state-machine transitions to a RecordStore.
type Ledger struct {
	store       RecordStore
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithBatchConcurrency bounds how many batch items run at once.
func WithBatchConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// New constructs a Ledger over store.
func New(store RecordStore, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		logger:      logging.NewComponentLogger(logger, "ledger"),
		now:         time.Now,
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the record for key. Missing keys return a NONE record with
// version zero and found=false.
func (l *Ledger) Get(ctx context.Context, key Key) (Record, bool, error) {
	rec, found, err := l.store.GetSubscription(ctx, key)
	if err != nil {
		return Record{}, false, fmt.Errorf("get subscription %s: %w", key, err)
	}
	if !found {
		return Record{Key: key, Status: StatusNone}, false, nil
	}
	return rec, true, nil
}

// Transition moves req.Key to req.NewStatus.
func (l *Ledger) Transition(ctx context.Context, req TransitionRequest) (Record, error) {
	rec, err := l.transition(ctx, req, false)
	outcome := string(OutcomeFor(err))
	metrics.CountTransition(string(req.NewStatus), outcome)
	if err != nil {
		l.logger.Debug("transition rejected",
			logging.String("key", req.Key.String()),
			logging.String("target", string(req.NewStatus)),
			logging.String("outcome", outcome),
			logging.Error(err),
		)
		return Record{}, err
	}
	l.logger.Info("subscription transitioned",
		logging.Int64(logging.FieldMediaID, req.MediaID),
		logging.String(logging.FieldItemType, string(req.ItemType)),
		logging.String("key", req.Key.String()),
		logging.String("status", string(rec.Status)),
		logging.String("source", req.Source.String()),
	)
	return rec, nil
}

func (l *Ledger) transition(ctx context.Context, req TransitionRequest, automatic bool) (Record, error) {
	if err := req.validate(); err != nil {
		return Record{}, err
	}
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		current, found, err := l.store.GetSubscription(ctx, req.Key)
		if err != nil {
			return Record{}, fmt.Errorf("load subscription %s: %w", req.Key, err)
		}
		from := StatusNone
		if found {
			from = current.Status
		}
		if automatic {
			if from != StatusPendingRelease || req.NewStatus != StatusWanted {
				return Record{}, &TransitionError{Key: req.Key, From: from, To: req.NewStatus, Err: ErrInvalidTransition}
			}
		} else if err := CheckTransition(from, req.NewStatus, req.ForceUnignore); err != nil {
			return Record{}, &TransitionError{Key: req.Key, From: from, To: req.NewStatus, Err: err}
		}

		next := l.apply(current, found, req)
		saved, err := l.store.PutSubscription(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("save subscription %s: %w", req.Key, err)
		}
		return saved, nil
	}
	return Record{}, services.Wrap(services.ErrConflict, "ledger", "transition",
		fmt.Sprintf("%s changed concurrently %d times", req.Key, maxVersionRetries), ErrVersionConflict)
}

func (l *Ledger) apply(current Record, found bool, req TransitionRequest) Record {
	now := l.now().UTC()
	next := current
	if !found {
		next = Record{Key: req.Key, FirstRequestedAt: now}
	}
	if next.FirstRequestedAt.IsZero() && req.NewStatus != StatusNone {
		next.FirstRequestedAt = now
	}

	next.Status = req.NewStatus
	if req.NewStatus == StatusIgnored {
		next.IgnoreReason = strings.TrimSpace(req.IgnoreReason)
		if next.IgnoreReason == "" {
			next.IgnoreReason = DefaultIgnoreReason
		}
	} else {
		next.IgnoreReason = ""
	}
	if req.NewStatus != StatusSubscribed {
		next.Paused = false
	}
	if req.ReleaseDate != nil {
		date := *req.ReleaseDate
		next.ReleaseDate = &date
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		next.Title = title
	}

	source := req.Source
	source.Type = strings.ToLower(strings.TrimSpace(source.Type))
	source.Detail = strings.TrimSpace(source.Detail)
	source.At = now
	next.Sources = prependProvenance(current.Sources, source)
	next.LastTransitionAt = now
	return next
}

// SetPaused pauses or resumes a SUBSCRIBED record. Pausing a series key
// pauses every season; a season key pauses only that season.
func (l *Ledger) SetPaused(ctx context.Context, key Key, paused bool) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, services.Wrap(services.ErrValidation, "ledger", "pause", err.Error(), nil)
	}
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		current, found, err := l.store.GetSubscription(ctx, key)
		if err != nil {
			return Record{}, fmt.Errorf("load subscription %s: %w", key, err)
		}
		if !found || current.Status != StatusSubscribed {
			from := StatusNone
			if found {
				from = current.Status
			}
			return Record{}, &TransitionError{Key: key, From: from, To: StatusSubscribed, Err: ErrInvalidTransition}
		}
		if current.Paused == paused {
			return current, nil
		}
		next := current
		next.Paused = paused
		next.LastTransitionAt = l.now().UTC()
		saved, err := l.store.PutSubscription(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("save subscription %s: %w", key, err)
		}
		return saved, nil
	}
	return Record{}, services.Wrap(services.ErrConflict, "ledger", "pause", key.String(), ErrVersionConflict)
}

// ListByStatus returns records in status, most recent first.
func (l *Ledger) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	records, err := l.store.ListSubscriptions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s subscriptions: %w", status, err)
	}
	return records, nil
}

// ListActive returns every record that is not NONE.
func (l *Ledger) ListActive(ctx context.Context) ([]Record, error) {
	records, err := l.store.ListSubscriptions(ctx, ActiveStatuses()...)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return records, nil
}

// ForMedia returns every record for the given media ids, seasons included.
func (l *Ledger) ForMedia(ctx context.Context, mediaIDs []int64) ([]Record, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	records, err := l.store.SubscriptionsForMedia(ctx, mediaIDs)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions for media: %w", err)
	}
	return records, nil
}

// Counts returns the number of records per status.
func (l *Ledger) Counts(ctx context.Context) (map[Status]int, error) {
	counts, err := l.store.CountSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	return counts, nil
}

// PromoteReleased moves PENDING_RELEASE records whose release day has begun
// (UTC) to WANTED and returns the promoted records. Records that change
// concurrently are skipped and picked up on the next run.
func (l *Ledger) PromoteReleased(ctx context.Context, now time.Time) ([]Record, error) {
	pending, err := l.store.ListSubscriptions(ctx, StatusPendingRelease)
	if err != nil {
		return nil, fmt.Errorf("list pending releases: %w", err)
	}
	var promoted []Record
	for _, rec := range pending {
		if !rec.Released(now) {
			continue
		}
		req := TransitionRequest{
			Key:       rec.Key,
			NewStatus: StatusWanted,
			Source:    Provenance{Type: ProvenanceReleaseCheck, Detail: catalogDate(rec.ReleaseDate)},
		}
		saved, err := l.transition(ctx, req, true)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return promoted, ctxErr
			}
			l.logger.Warn("release promotion skipped",
				logging.String("key", rec.Key.String()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "release_promotion_skipped"),
				logging.String(logging.FieldImpact, "item stays pending until the next release check"),
			)
			continue
		}
		promoted = append(promoted, saved)
	}
	metrics.AddReleasePromotions(len(promoted))
	if len(promoted) > 0 {
		l.logger.Info("released items promoted", logging.Int("count", len(promoted)))
	}
	return promoted, nil
}

func catalogDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}
