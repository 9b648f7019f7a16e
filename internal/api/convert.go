package api

import (
	"fmt"
	"strings"
	"time"

	"curator/internal/catalog"
	"curator/internal/ledger"
	"curator/internal/services"
)

// FromRecord converts a ledger record to its API representation.
func FromRecord(rec ledger.Record) SubscriptionRecord {
	dto := SubscriptionRecord{
		MediaID:      rec.MediaID,
		ItemType:     string(rec.ItemType),
		Season:       rec.Season,
		Status:       string(rec.Status),
		Title:        rec.Title,
		Paused:       rec.Paused,
		IgnoreReason: rec.IgnoreReason,
		Sources:      make([]Provenance, 0, len(rec.Sources)),
		Version:      rec.Version,
	}
	if rec.ReleaseDate != nil {
		dto.ReleaseDate = rec.ReleaseDate.UTC().Format(time.DateOnly)
	}
	if !rec.FirstRequestedAt.IsZero() {
		dto.FirstRequestedAt = rec.FirstRequestedAt.UTC().Format(dateTimeFormat)
	}
	if !rec.LastTransitionAt.IsZero() {
		dto.LastTransitionAt = rec.LastTransitionAt.UTC().Format(dateTimeFormat)
	}
	for _, p := range rec.Sources {
		entry := Provenance{Type: p.Type, Detail: p.Detail}
		if !p.At.IsZero() {
			entry.At = p.At.UTC().Format(dateTimeFormat)
		}
		dto.Sources = append(dto.Sources, entry)
	}
	return dto
}

// FromRecords converts ledger records into API DTOs.
func FromRecords(records []ledger.Record) []SubscriptionRecord {
	out := make([]SubscriptionRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromBatchResult converts a ledger batch result, preserving input order.
func FromBatchResult(result ledger.BatchResult) TransitionResponse {
	resp := TransitionResponse{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Items:     make([]TransitionOutcome, 0, len(result.Outcomes)),
	}
	for _, o := range result.Outcomes {
		item := TransitionOutcome{
			Index:    o.Index,
			MediaID:  o.Request.MediaID,
			ItemType: string(o.Request.ItemType),
			Season:   o.Request.Season,
			Outcome:  string(o.Code),
		}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		if o.Record != nil {
			rec := FromRecord(*o.Record)
			item.Record = &rec
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

// ToTransitionRequest converts a validated TransitionItem into a ledger request.
func ToTransitionRequest(item TransitionItem) (ledger.TransitionRequest, error) {
	itemType, err := catalog.ParseItemType(item.ItemType)
	if err != nil {
		return ledger.TransitionRequest{}, services.Wrap(services.ErrValidation, "api", "transition", err.Error(), nil)
	}
	status, err := ledger.ParseStatus(item.NewStatus)
	if err != nil {
		return ledger.TransitionRequest{}, services.Wrap(services.ErrValidation, "api", "transition", err.Error(), nil)
	}
	source, err := ledger.ParseProvenance(item.Source)
	if err != nil {
		return ledger.TransitionRequest{}, services.Wrap(services.ErrValidation, "api", "transition", err.Error(), nil)
	}
	req := ledger.TransitionRequest{
		Key:           ledger.Key{MediaID: item.MediaID, ItemType: itemType, Season: item.Season},
		NewStatus:     status,
		IgnoreReason:  strings.TrimSpace(item.IgnoreReason),
		ForceUnignore: item.ForceUnignore,
		Source:        source,
		Title:         strings.TrimSpace(item.Title),
	}
	if date := strings.TrimSpace(item.ReleaseDate); date != "" {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return ledger.TransitionRequest{}, services.Wrap(services.ErrValidation, "api", "transition", fmt.Sprintf("invalid release date %q", date), nil)
		}
		req.ReleaseDate = &parsed
	}
	return req, nil
}

// StatusCounts converts ledger counts to string keys, including zero entries
// for every status.
func StatusCounts(counts map[ledger.Status]int) map[string]int {
	out := make(map[string]int, len(ledger.AllStatuses()))
	for _, status := range ledger.AllStatuses() {
		out[string(status)] = counts[status]
	}
	return out
}
