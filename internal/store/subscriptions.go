package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"curator/internal/catalog"
	"curator/internal/ledger"
)

const subscriptionColumns = "media_id, item_type, season, status, sources, ignore_reason, paused, release_date, title, first_requested_at, last_transition_at, version"

const noSeason = -1

func seasonColumn(k ledger.Key) int {
	if k.Season == nil {
		return noSeason
	}
	return *k.Season
}

func scanSubscription(scanner rowScanner) (ledger.Record, error) {
	var (
		rec           ledger.Record
		itemType      string
		season        int
		status        string
		sourcesRaw    string
		ignoreReason  sql.NullString
		paused        int
		releaseRaw    sql.NullString
		title         sql.NullString
		firstRaw      sql.NullString
		transitionRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.MediaID,
		&itemType,
		&season,
		&status,
		&sourcesRaw,
		&ignoreReason,
		&paused,
		&releaseRaw,
		&title,
		&firstRaw,
		&transitionRaw,
		&rec.Version,
	); err != nil {
		return ledger.Record{}, err
	}
	rec.ItemType = catalog.ItemType(itemType)
	if season != noSeason {
		rec.Season = &season
	}
	rec.Status = ledger.Status(status)
	if sourcesRaw != "" {
		if err := json.Unmarshal([]byte(sourcesRaw), &rec.Sources); err != nil {
			return ledger.Record{}, fmt.Errorf("decode sources for %s: %w", rec.Key, err)
		}
	}
	rec.IgnoreReason = ignoreReason.String
	rec.Paused = paused != 0
	if release := parseTime(releaseRaw); !release.IsZero() {
		rec.ReleaseDate = &release
	}
	rec.Title = title.String
	rec.FirstRequestedAt = parseTime(firstRaw)
	rec.LastTransitionAt = parseTime(transitionRaw)
	return rec, nil
}

// GetSubscription loads the record for key.
func (s *Store) GetSubscription(ctx context.Context, key ledger.Key) (ledger.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE media_id = ? AND item_type = ? AND season = ?`,
		key.MediaID, string(key.ItemType), seasonColumn(key),
	)
	rec, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("get subscription %s: %w", key, err)
	}
	return rec, true, nil
}

// PutSubscription inserts or updates rec when the stored version equals
// expected. A mismatch returns ledger.ErrVersionConflict.
func (s *Store) PutSubscription(ctx context.Context, rec ledger.Record, expected int64) (ledger.Record, error) {
	sources := rec.Sources
	if sources == nil {
		sources = []ledger.Provenance{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("encode sources: %w", err)
	}
	var release string
	if rec.ReleaseDate != nil {
		release = formatTime(*rec.ReleaseDate)
	}
	paused := 0
	if rec.Paused {
		paused = 1
	}
	next := expected + 1

	var res sql.Result
	if expected == 0 {
		res, err = s.execWithRetry(ctx,
			`INSERT INTO subscriptions (`+subscriptionColumns+`)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (media_id, item_type, season) DO NOTHING`,
			rec.MediaID, string(rec.ItemType), seasonColumn(rec.Key), string(rec.Status), string(sourcesJSON),
			nullString(rec.IgnoreReason), paused, nullString(release), nullString(rec.Title),
			nullString(formatTime(rec.FirstRequestedAt)), formatTime(rec.LastTransitionAt), next,
		)
	} else {
		res, err = s.execWithRetry(ctx,
			`UPDATE subscriptions
             SET status = ?, sources = ?, ignore_reason = ?, paused = ?, release_date = ?, title = ?,
                 first_requested_at = ?, last_transition_at = ?, version = ?
             WHERE media_id = ? AND item_type = ? AND season = ? AND version = ?`,
			string(rec.Status), string(sourcesJSON), nullString(rec.IgnoreReason), paused,
			nullString(release), nullString(rec.Title), nullString(formatTime(rec.FirstRequestedAt)),
			formatTime(rec.LastTransitionAt), next,
			rec.MediaID, string(rec.ItemType), seasonColumn(rec.Key), expected,
		)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("write subscription %s: %w", rec.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.Record{}, ledger.ErrVersionConflict
	}
	rec.Version = next
	return rec, nil
}

// ListSubscriptions returns records whose status is in statuses, or every
// record when none are given, most recent transition first.
func (s *Store) ListSubscriptions(ctx context.Context, statuses ...ledger.Status) ([]ledger.Record, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY last_transition_at DESC, item_type, media_id, season`
	return s.querySubscriptions(ctx, query, args...)
}

// SubscriptionsForMedia returns every record, seasons included, for mediaIDs.
func (s *Store) SubscriptionsForMedia(ctx context.Context, mediaIDs []int64) ([]ledger.Record, error) {
	if len(mediaIDs) == 0 {
		return nil, nil
	}
	var out []ledger.Record
	// Chunked to stay under SQLite's host parameter limit.
	const chunk = 500
	for start := 0; start < len(mediaIDs); start += chunk {
		end := min(start+chunk, len(mediaIDs))
		args := make([]any, 0, end-start)
		for _, id := range mediaIDs[start:end] {
			args = append(args, id)
		}
		records, err := s.querySubscriptions(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE media_id IN (`+makePlaceholders(len(args))+`)`,
			args...,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	ledger.SortRecords(out)
	return out, nil
}

// CountSubscriptions returns record counts per status.
func (s *Store) CountSubscriptions(ctx context.Context) (map[ledger.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	defer rows.Close()
	counts := make(map[ledger.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan subscription count: %w", err)
		}
		counts[ledger.Status(strings.ToUpper(status))] = n
	}
	return counts, rows.Err()
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}
