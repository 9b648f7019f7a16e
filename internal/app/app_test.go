package app

import (
	"context"
	"errors"
	"testing"

	"curator/internal/aggregate"
	"curator/internal/collection"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/testsupport"
)

const registryDoc = `
version: 1
sources:
  - id: staff-picks
    name: Staff picks
    kind: static
    items:
      - media_id: 603
        item_type: movie
        title: The Matrix
        year: 1999
`

func TestBuildWiresServices(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRegistry(registryDoc))

	a, err := Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.Registry.Version() != 1 || !a.Registry.Has("staff-picks") {
		t.Fatalf("unexpected registry: version=%d", a.Registry.Version())
	}

	names := make([]string, 0, len(a.Upstreams))
	for _, up := range a.Upstreams {
		names = append(names, up.Name)
	}
	if len(names) != 3 || names[0] != "tmdb" || names[1] != "emby" || names[2] != "llm" {
		t.Fatalf("unexpected upstreams %v", names)
	}
	if a.Upstreams[1].Enabled || a.Upstreams[2].Enabled {
		t.Fatal("expected emby and llm to be disabled by default")
	}

	deps := a.DaemonDependencies()
	if deps.Collections == nil || deps.Subscriptions == nil {
		t.Fatal("expected daemon dependencies to be populated")
	}
}

func TestBuildValidatesListSourcesAgainstRegistry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRegistry(registryDoc))
	a, err := Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	def := collection.Definition{
		Name: "Picks",
		Spec: collection.ListSpec{Sources: []aggregate.SourceSpec{{SourceID: "staff-picks"}}},
	}
	created, err := a.Collections.Create(ctx, def)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Type != collection.TypeList {
		t.Fatalf("expected list type, got %q", created.Type)
	}

	def.Spec = collection.ListSpec{Sources: []aggregate.SourceSpec{{SourceID: "missing"}}}
	if _, err := a.Collections.Create(ctx, def); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown source, got %v", err)
	}
}

func TestBuildRejectsMissingTMDBKey(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTMDBKey(""))
	if _, err := Build(cfg, logging.NewNop()); err == nil {
		t.Fatal("expected Build to fail without a tmdb key")
	}
}
