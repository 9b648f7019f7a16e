package api

import (
	"curator/internal/collection"
	"curator/internal/rules"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TransitionItem is one requested subscription change.
type TransitionItem struct {
	MediaID       int64  `json:"mediaId" validate:"required,gt=0"`
	ItemType      string `json:"itemType" validate:"required,itemtype"`
	Season        *int   `json:"season,omitempty" validate:"omitempty,gte=0"`
	NewStatus     string `json:"newStatus" validate:"required,substatus"`
	IgnoreReason  string `json:"ignoreReason,omitempty" validate:"max=500"`
	ForceUnignore bool   `json:"forceUnignore,omitempty"`
	Source        string `json:"source" validate:"required,max=200"`
	Title         string `json:"title,omitempty" validate:"max=500"`
	ReleaseDate   string `json:"releaseDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// TransitionOutcome reports the result of one TransitionItem.
type TransitionOutcome struct {
	Index    int                 `json:"index"`
	MediaID  int64               `json:"mediaId"`
	ItemType string              `json:"itemType"`
	Season   *int                `json:"season,omitempty"`
	Outcome  string              `json:"outcome"`
	Error    string              `json:"error,omitempty"`
	Record   *SubscriptionRecord `json:"record,omitempty"`
}

// TransitionResponse is the batch result in input order.
type TransitionResponse struct {
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Items     []TransitionOutcome `json:"items"`
}

// SubscriptionRecord describes a ledger record.
type SubscriptionRecord struct {
	MediaID          int64        `json:"mediaId"`
	ItemType         string       `json:"itemType"`
	Season           *int         `json:"season,omitempty"`
	Status           string       `json:"status"`
	Title            string       `json:"title,omitempty"`
	Paused           bool         `json:"paused"`
	IgnoreReason     string       `json:"ignoreReason,omitempty"`
	ReleaseDate      string       `json:"releaseDate,omitempty"`
	Sources          []Provenance `json:"sources"`
	FirstRequestedAt string       `json:"firstRequestedAt,omitempty"`
	LastTransitionAt string       `json:"lastTransitionAt,omitempty"`
	Version          int64        `json:"version"`
}

// Provenance is one entry of a record's request history.
type Provenance struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	At     string `json:"at,omitempty"`
}

// SubscriptionListResponse wraps ledger records.
type SubscriptionListResponse struct {
	Items []SubscriptionRecord `json:"items"`
}

// PauseRequest pauses or resumes a subscribed series or season.
type PauseRequest struct {
	MediaID  int64  `json:"mediaId" validate:"required,gt=0"`
	ItemType string `json:"itemType" validate:"required,itemtype"`
	Season   *int   `json:"season,omitempty" validate:"omitempty,gte=0"`
	Paused   bool   `json:"paused"`
}

// ReleaseCheckResponse lists records promoted from PENDING_RELEASE.
type ReleaseCheckResponse struct {
	Promoted []SubscriptionRecord `json:"promoted"`
}

// ReorderRequest lists every collection id in the desired order.
type ReorderRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// ItemsQuery selects a page of a materialized collection.
type ItemsQuery struct {
	ViewerID string `validate:"max=200"`
	Offset   int    `validate:"gte=0"`
	Limit    int    `validate:"gte=0"`
}

// CollectionListResponse wraps collection definitions.
type CollectionListResponse struct {
	Items []collection.Definition `json:"items"`
}

// SchemaResponse publishes the rule field registries and sort keys.
type SchemaResponse struct {
	Static   []rules.FieldDescriptor `json:"static"`
	Dynamic  []rules.FieldDescriptor `json:"dynamic"`
	SortKeys []collection.SortKey    `json:"sortKeys"`
}

// RuleValidationRequest asks for a rule set to be checked against one scope.
type RuleValidationRequest struct {
	Scope string        `json:"scope,omitempty" validate:"omitempty,oneof=static dynamic"`
	Rules rules.RuleSet `json:"rules"`
}

// RuleValidationResponse carries the normalized rule set or the itemized errors.
type RuleValidationResponse struct {
	Valid      bool                   `json:"valid"`
	Normalized *rules.RuleSet         `json:"normalized,omitempty"`
	Errors     rules.ValidationErrors `json:"errors,omitempty"`
}

// UpstreamStatus captures availability of an external service.
type UpstreamStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool             `json:"running"`
	PID           int              `json:"pid"`
	DatabasePath  string           `json:"databasePath"`
	LockFilePath  string           `json:"lockFilePath"`
	Collections   int              `json:"collections"`
	Subscriptions map[string]int   `json:"subscriptions"`
	LastRelease   string           `json:"lastReleaseCheck,omitempty"`
	Upstreams     []UpstreamStatus `json:"upstreams"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string                 `json:"error"`
	Kind   string                 `json:"kind"`
	Fields rules.ValidationErrors `json:"fields,omitempty"`
}
