package ledger

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/services"
)

// OutcomeCode classifies one batch item's result.
type OutcomeCode string

const (
	OutcomeOK                   OutcomeCode = "ok"
	OutcomeInvalidTransition    OutcomeCode = "invalid_transition"
	OutcomeIgnoredRequiresForce OutcomeCode = "ignored_requires_force"
	OutcomeDuplicateInBatch     OutcomeCode = "duplicate_in_batch"
	OutcomeInvalidRequest       OutcomeCode = "invalid_request"
	OutcomeError                OutcomeCode = "error"
)

// OutcomeFor maps a transition error to its outcome code.
func OutcomeFor(err error) OutcomeCode {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrDuplicateInBatch):
		return OutcomeDuplicateInBatch
	case errors.Is(err, ErrIgnoredRequiresForce):
		return OutcomeIgnoredRequiresForce
	case errors.Is(err, ErrInvalidTransition):
		return OutcomeInvalidTransition
	case errors.Is(err, services.ErrValidation):
		return OutcomeInvalidRequest
	default:
		return OutcomeError
	}
}

// Outcome is the result of one batch request.
type Outcome struct {
	Index   int
	Request TransitionRequest
	Code    OutcomeCode
	Err     error
	Record  *Record
}

// OK reports whether the request was applied.
func (o Outcome) OK() bool { return o.Code == OutcomeOK }

// BatchResult holds per-item outcomes in input order plus aggregate counts.
type BatchResult struct {
	Succeeded int
	Failed    int
	Outcomes  []Outcome
}

// ApplyBatch runs each request as an independent transition. Failures are
// reported per item and never stop the others. When a key appears more than
// once only its first occurrence runs; later ones fail with
// ErrDuplicateInBatch.
func (l *Ledger) ApplyBatch(ctx context.Context, reqs []TransitionRequest) BatchResult {
	outcomes := make([]Outcome, len(reqs))
	seen := make(map[string]int, len(reqs))
	runnable := make([]int, 0, len(reqs))
	for i, req := range reqs {
		outcomes[i] = Outcome{Index: i, Request: req}
		key := req.Key.String()
		if first, dup := seen[key]; dup {
			outcomes[i].Code = OutcomeDuplicateInBatch
			outcomes[i].Err = &TransitionError{Key: req.Key, To: req.NewStatus, Err: ErrDuplicateInBatch}
			l.logger.Debug("duplicate key in batch",
				logging.String("key", key),
				logging.Int("index", i),
				logging.Int("first_index", first),
			)
			metrics.CountTransition(string(req.NewStatus), string(OutcomeDuplicateInBatch))
			continue
		}
		seen[key] = i
		runnable = append(runnable, i)
	}

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, i := range runnable {
		g.Go(func() error {
			rec, err := l.Transition(ctx, reqs[i])
			outcomes[i].Code = OutcomeFor(err)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Record = &rec
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	l.logger.Info("batch applied",
		logging.Int("requests", len(reqs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
	)
	return result
}
