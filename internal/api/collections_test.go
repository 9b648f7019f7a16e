package api

import (
	"context"
	"errors"
	"testing"

	"curator/internal/collection"
	"curator/internal/evaluator"
	"curator/internal/ledger"
	"curator/internal/logging"
	"curator/internal/rules"
	"curator/internal/services"
)

type fakeMaterializer struct {
	viewer *evaluator.ViewerContext
	page   evaluator.Page
	actor  string
}

func (f *fakeMaterializer) Materialize(_ context.Context, def collection.Definition, viewer *evaluator.ViewerContext, page evaluator.Page) (evaluator.Result, error) {
	f.viewer = viewer
	f.page = page
	return evaluator.Result{CollectionID: def.ID, Offset: page.Offset, Limit: page.Limit}, nil
}

func (f *fakeMaterializer) SubscribeMissing(_ context.Context, def collection.Definition, actor string) (ledger.BatchResult, error) {
	f.actor = actor
	return ledger.BatchResult{Succeeded: 1, Outcomes: []ledger.Outcome{{Index: 0, Code: ledger.OutcomeOK}}}, nil
}

func testDefinition(name string) collection.Definition {
	return collection.Definition{
		Name: name,
		Spec: collection.FilterSpec{Static: rules.RuleSet{Predicates: []rules.Predicate{
			{Field: rules.FieldYear, Operator: rules.OpGte, Value: 2000},
		}}},
	}
}

func TestCollectionServiceItemsAndVisibility(t *testing.T) {
	ctx := context.Background()
	engine := &fakeMaterializer{}
	svc := NewCollectionService(collection.NewService(collection.NewMemoryRepository(), nil, logging.NewNop()), engine)

	private := testDefinition("Private")
	private.Visibility = []string{"alice"}
	created, err := svc.Create(ctx, private)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := svc.Items(ctx, created.ID, ItemsQuery{ViewerID: "alice", Offset: 10, Limit: 5})
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if result.CollectionID != created.ID || engine.viewer == nil || engine.viewer.UserID != "alice" {
		t.Fatalf("unexpected materialize call: %+v viewer=%+v", result, engine.viewer)
	}
	if engine.page.Offset != 10 || engine.page.Limit != 5 {
		t.Fatalf("unexpected page %+v", engine.page)
	}

	if _, err := svc.Items(ctx, created.ID, ItemsQuery{ViewerID: "bob"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected hidden collection to be not found, got %v", err)
	}
	if _, err := svc.Items(ctx, created.ID, ItemsQuery{}); err != nil {
		t.Fatalf("admin Items failed: %v", err)
	}
	if engine.viewer != nil {
		t.Fatalf("expected no viewer for admin read, got %+v", engine.viewer)
	}
	if _, err := svc.Items(ctx, created.ID, ItemsQuery{Offset: -1}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative offset, got %v", err)
	}

	visible, err := svc.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected no collections for bob, got %d", len(visible))
	}
}

func TestCollectionServiceReorderAndSubscribe(t *testing.T) {
	ctx := context.Background()
	engine := &fakeMaterializer{}
	svc := NewCollectionService(collection.NewService(collection.NewMemoryRepository(), nil, logging.NewNop()), engine)

	first, err := svc.Create(ctx, testDefinition("First"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, testDefinition("Second"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.Reorder(ctx, ReorderRequest{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty reorder, got %v", err)
	}
	if err := svc.Reorder(ctx, ReorderRequest{IDs: []string{second.ID, first.ID}}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}
	defs, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != second.ID {
		t.Fatalf("unexpected order %+v", defs)
	}

	resp, err := svc.SubscribeMissing(ctx, first.ID, " admin ")
	if err != nil {
		t.Fatalf("SubscribeMissing failed: %v", err)
	}
	if resp.Succeeded != 1 || engine.actor != "admin" {
		t.Fatalf("unexpected subscribe response %+v actor=%q", resp, engine.actor)
	}
	if _, err := svc.SubscribeMissing(ctx, "missing", "admin"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
