package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curator/internal/catalog"
	"curator/internal/collection"
	"curator/internal/services"
)

const collectionColumns = "id, name, description, type, item_types, spec, sort_key, sort_order, visibility, status, order_index, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(scanner rowScanner) (collection.Definition, error) {
	var (
		def          collection.Definition
		typ          string
		itemTypesRaw string
		specRaw      string
		sortKey      string
		sortOrder    string
		visRaw       string
		status       string
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&def.ID,
		&def.Name,
		&def.Description,
		&typ,
		&itemTypesRaw,
		&specRaw,
		&sortKey,
		&sortOrder,
		&visRaw,
		&status,
		&def.OrderIndex,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return collection.Definition{}, err
	}

	def.Type = collection.Type(typ)
	def.SortKey = collection.SortKey(sortKey)
	def.SortOrder = collection.SortOrder(sortOrder)
	def.Status = collection.Status(status)
	def.CreatedAt = parseTime(createdRaw)
	def.UpdatedAt = parseTime(updatedRaw)

	var itemTypes []catalog.ItemType
	if err := json.Unmarshal([]byte(itemTypesRaw), &itemTypes); err != nil {
		return collection.Definition{}, fmt.Errorf("decode item types for %s: %w", def.ID, err)
	}
	def.ItemTypes = itemTypes
	if visRaw != "" {
		if err := json.Unmarshal([]byte(visRaw), &def.Visibility); err != nil {
			return collection.Definition{}, fmt.Errorf("decode visibility for %s: %w", def.ID, err)
		}
	}
	spec, err := collection.DecodeSpec(def.Type, []byte(specRaw))
	if err != nil {
		return collection.Definition{}, fmt.Errorf("decode spec for %s: %w", def.ID, err)
	}
	def.Spec = spec
	return def, nil
}

type encodedCollection struct {
	itemTypes  string
	spec       string
	visibility string
}

func encodeCollection(def collection.Definition) (encodedCollection, error) {
	itemTypes, err := json.Marshal(def.ItemTypes)
	if err != nil {
		return encodedCollection{}, fmt.Errorf("encode item types: %w", err)
	}
	spec, err := json.Marshal(def.Spec)
	if err != nil {
		return encodedCollection{}, fmt.Errorf("encode spec: %w", err)
	}
	visibility := def.Visibility
	if visibility == nil {
		visibility = []string{}
	}
	vis, err := json.Marshal(visibility)
	if err != nil {
		return encodedCollection{}, fmt.Errorf("encode visibility: %w", err)
	}
	return encodedCollection{itemTypes: string(itemTypes), spec: string(spec), visibility: string(vis)}, nil
}

// CreateCollection inserts def after the last collection in order.
func (s *Store) CreateCollection(ctx context.Context, def collection.Definition) (collection.Definition, error) {
	enc, err := encodeCollection(def)
	if err != nil {
		return collection.Definition{}, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(order_index) + 1, 0) FROM collections").Scan(&next); err != nil {
			return fmt.Errorf("next order index: %w", err)
		}
		def.OrderIndex = next
		_, err := tx.ExecContext(ctx,
			`INSERT INTO collections (`+collectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.ID, def.Name, def.Description, def.Type, enc.itemTypes, enc.spec,
			def.SortKey, def.SortOrder, enc.visibility, def.Status, def.OrderIndex,
			formatTime(def.CreatedAt), formatTime(def.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return collection.Definition{}, fmt.Errorf("insert collection: %w", err)
	}
	return def, nil
}

// GetCollection loads one collection.
func (s *Store) GetCollection(ctx context.Context, id string) (collection.Definition, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)
	def, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collection.Definition{}, false, nil
	}
	if err != nil {
		return collection.Definition{}, false, fmt.Errorf("get collection %s: %w", id, err)
	}
	return def, true, nil
}

// UpdateCollection overwrites everything except order_index and created_at.
func (s *Store) UpdateCollection(ctx context.Context, def collection.Definition) error {
	enc, err := encodeCollection(def)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE collections
         SET name = ?, description = ?, type = ?, item_types = ?, spec = ?, sort_key = ?,
             sort_order = ?, visibility = ?, status = ?, updated_at = ?
         WHERE id = ?`,
		def.Name, def.Description, def.Type, enc.itemTypes, enc.spec, def.SortKey,
		def.SortOrder, enc.visibility, def.Status, formatTime(def.UpdatedAt),
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("update collection %s: %w", def.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "update collection", def.ID, nil)
	}
	return nil
}

// DeleteCollection removes one collection and closes the gap in ordering.
func (s *Store) DeleteCollection(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var index int
		err := tx.QueryRowContext(ctx, "SELECT order_index FROM collections WHERE id = ?", id).Scan(&index)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE collections SET order_index = order_index - 1 WHERE order_index > ?", index); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete collection %s: %w", id, err)
	}
	return removed, nil
}

// ListCollections returns all collections by order index.
func (s *Store) ListCollections(ctx context.Context) ([]collection.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY order_index, created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var defs []collection.Definition
	for rows.Next() {
		def, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return defs, nil
}

// ReorderCollections rewrites every order index from ids in one transaction.
// ids must be exactly the set of stored collection ids.
func (s *Store) ReorderCollections(ctx context.Context, ids []string) error {
	now := formatTime(time.Now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections").Scan(&count); err != nil {
			return err
		}
		if count != len(ids) {
			return services.Wrap(services.ErrConflict, "store", "reorder",
				fmt.Sprintf("expected %d ids, got %d", count, len(ids)), nil)
		}
		seen := make(map[string]struct{}, len(ids))
		for i, id := range ids {
			if _, dup := seen[id]; dup {
				return services.Wrap(services.ErrValidation, "store", "reorder", fmt.Sprintf("duplicate collection %s", id), nil)
			}
			seen[id] = struct{}{}
			res, err := tx.ExecContext(ctx, "UPDATE collections SET order_index = ?, updated_at = ? WHERE id = ?", i, now, id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return services.Wrap(services.ErrConflict, "store", "reorder", fmt.Sprintf("unknown collection %s", id), nil)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reorder collections: %w", err)
	}
	return nil
}

// CountCollections returns the number of stored collections.
func (s *Store) CountCollections(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections").Scan(&n); err != nil {
		return 0, fmt.Errorf("count collections: %w", err)
	}
	return n, nil
}
