package api

import (
	"context"
	"strings"

	"curator/internal/collection"
	"curator/internal/evaluator"
	"curator/internal/ledger"
	"curator/internal/services"
)

// Materializer evaluates collections.
type Materializer interface {
	Materialize(ctx context.Context, def collection.Definition, viewer *evaluator.ViewerContext, page evaluator.Page) (evaluator.Result, error)
	SubscribeMissing(ctx context.Context, def collection.Definition, actor string) (ledger.BatchResult, error)
}

// CollectionService exposes collection management and materialization.
type CollectionService struct {
	collections *collection.Service
	engine      Materializer
}

// NewCollectionService wires definitions and the evaluator together.
func NewCollectionService(collections *collection.Service, engine Materializer) *CollectionService {
	if collections == nil {
		return nil
	}
	return &CollectionService{collections: collections, engine: engine}
}

// List returns definitions in display order, filtered for viewerID when set.
func (s *CollectionService) List(ctx context.Context, viewerID string) ([]collection.Definition, error) {
	defs, err := s.collections.List(ctx, strings.TrimSpace(viewerID))
	if err != nil {
		return nil, err
	}
	if defs == nil {
		defs = []collection.Definition{}
	}
	return defs, nil
}

// Get returns one definition visible to viewerID.
func (s *CollectionService) Get(ctx context.Context, id, viewerID string) (collection.Definition, error) {
	return s.collections.GetVisible(ctx, id, strings.TrimSpace(viewerID))
}

// Create stores a new definition.
func (s *CollectionService) Create(ctx context.Context, def collection.Definition) (collection.Definition, error) {
	return s.collections.Create(ctx, def)
}

// Update replaces a definition.
func (s *CollectionService) Update(ctx context.Context, id string, def collection.Definition) (collection.Definition, error) {
	return s.collections.Update(ctx, id, def)
}

// Delete removes a definition.
func (s *CollectionService) Delete(ctx context.Context, id string) error {
	return s.collections.Delete(ctx, id)
}

// Reorder rewrites the display order.
func (s *CollectionService) Reorder(ctx context.Context, req ReorderRequest) error {
	if err := Validate(req); err != nil {
		return err
	}
	return s.collections.Reorder(ctx, req.IDs)
}

// Items materializes one page of a collection for the viewer in q.
func (s *CollectionService) Items(ctx context.Context, id string, q ItemsQuery) (evaluator.Result, error) {
	if err := Validate(q); err != nil {
		return evaluator.Result{}, err
	}
	if s.engine == nil {
		return evaluator.Result{}, services.Wrap(services.ErrConfiguration, "api", "items", "evaluator is not configured", nil)
	}
	viewerID := strings.TrimSpace(q.ViewerID)
	def, err := s.collections.GetVisible(ctx, id, viewerID)
	if err != nil {
		return evaluator.Result{}, err
	}
	var viewer *evaluator.ViewerContext
	if viewerID != "" {
		viewer = &evaluator.ViewerContext{UserID: viewerID}
	}
	return s.engine.Materialize(ctx, def, viewer, evaluator.Page{Offset: q.Offset, Limit: q.Limit})
}

// SubscribeMissing requests every missing or unreleased item of a collection.
func (s *CollectionService) SubscribeMissing(ctx context.Context, id, actor string) (TransitionResponse, error) {
	if s.engine == nil {
		return TransitionResponse{}, services.Wrap(services.ErrConfiguration, "api", "subscribe missing", "evaluator is not configured", nil)
	}
	def, err := s.collections.Get(ctx, id)
	if err != nil {
		return TransitionResponse{}, err
	}
	result, err := s.engine.SubscribeMissing(ctx, def, strings.TrimSpace(actor))
	if err != nil {
		return TransitionResponse{}, err
	}
	return FromBatchResult(result), nil
}
