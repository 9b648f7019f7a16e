package collection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"curator/internal/logging"
	"curator/internal/services"
)

// Repository persists definitions.
//
// ReorderCollections rewrites every order index in one step; it fails with
// services.ErrConflict when ids is not exactly the stored id set.
type Repository interface {
	CreateCollection(ctx context.Context, def Definition) (Definition, error)
	GetCollection(ctx context.Context, id string) (Definition, bool, error)
	UpdateCollection(ctx context.Context, def Definition) error
	DeleteCollection(ctx context.Context, id string) (bool, error)
	ListCollections(ctx context.Context) ([]Definition, error)
	ReorderCollections(ctx context.Context, ids []string) error
}

// Service manages definitions on top of a Repository.
type Service struct {
	repo    Repository
	sources SourceChecker
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService constructs a Service. sources may be nil to skip registry checks.
func NewService(repo Repository, sources SourceChecker, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		sources: sources,
		logger:  logging.NewComponentLogger(logger, "collection"),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Create validates def and stores it at the end of the ordering.
func (s *Service) Create(ctx context.Context, def Definition) (Definition, error) {
	normalized, err := Normalize(def, s.sources)
	if err != nil {
		return Definition{}, err
	}
	now := s.now().UTC()
	normalized.ID = s.newID()
	normalized.CreatedAt = now
	normalized.UpdatedAt = now
	created, err := s.repo.CreateCollection(ctx, normalized)
	if err != nil {
		return Definition{}, fmt.Errorf("create collection: %w", err)
	}
	s.logger.Info("collection created",
		logging.String(logging.FieldCollectionID, created.ID),
		logging.String("type", string(created.Type)),
		logging.String("name", created.Name),
	)
	return created, nil
}

// Get returns the definition with id.
func (s *Service) Get(ctx context.Context, id string) (Definition, error) {
	def, found, err := s.repo.GetCollection(ctx, strings.TrimSpace(id))
	if err != nil {
		return Definition{}, fmt.Errorf("get collection: %w", err)
	}
	if !found {
		return Definition{}, services.Wrap(services.ErrNotFound, "collection", "get", fmt.Sprintf("collection %s", id), nil)
	}
	return def, nil
}

// GetVisible returns the definition when viewerID may see it.
func (s *Service) GetVisible(ctx context.Context, id, viewerID string) (Definition, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	if !Visible(def, viewerID) {
		return Definition{}, services.Wrap(services.ErrNotFound, "collection", "get", fmt.Sprintf("collection %s", id), nil)
	}
	return def, nil
}

// Update replaces the definition with id, keeping its creation time and position.
func (s *Service) Update(ctx context.Context, id string, def Definition) (Definition, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	normalized, err := Normalize(def, s.sources)
	if err != nil {
		return Definition{}, err
	}
	normalized.ID = existing.ID
	normalized.CreatedAt = existing.CreatedAt
	normalized.OrderIndex = existing.OrderIndex
	normalized.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateCollection(ctx, normalized); err != nil {
		return Definition{}, fmt.Errorf("update collection: %w", err)
	}
	s.logger.Info("collection updated", logging.String(logging.FieldCollectionID, normalized.ID))
	return normalized, nil
}

// Delete removes the definition with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	removed, err := s.repo.DeleteCollection(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if !removed {
		return services.Wrap(services.ErrNotFound, "collection", "delete", fmt.Sprintf("collection %s", id), nil)
	}
	s.logger.Info("collection deleted", logging.String(logging.FieldCollectionID, id))
	return nil
}

// List returns definitions in order. A non-empty viewerID hides collections
// the viewer may not see.
func (s *Service) List(ctx context.Context, viewerID string) ([]Definition, error) {
	defs, err := s.repo.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if viewerID == "" {
		return defs, nil
	}
	visible := defs[:0]
	for _, def := range defs {
		if Visible(def, viewerID) {
			visible = append(visible, def)
		}
	}
	return visible, nil
}

// Reorder sets the order of all collections to ids. ids must name every
// collection exactly once; the whole ordering is rewritten so the last
// caller wins.
func (s *Service) Reorder(ctx context.Context, ids []string) error {
	cleaned := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return services.Wrap(services.ErrValidation, "collection", "reorder", "empty collection id", nil)
		}
		if _, dup := seen[id]; dup {
			return services.Wrap(services.ErrValidation, "collection", "reorder", fmt.Sprintf("duplicate collection id %s", id), nil)
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	if err := s.repo.ReorderCollections(ctx, cleaned); err != nil {
		return fmt.Errorf("reorder collections: %w", err)
	}
	s.logger.Info("collections reordered", logging.Int("count", len(cleaned)))
	return nil
}
