package api

import (
	"errors"

	"curator/internal/collection"
	"curator/internal/rules"
)

// Schema returns the static and dynamic field registries.
func Schema() SchemaResponse {
	return SchemaResponse{
		Static:   rules.StaticSchema().Fields(),
		Dynamic:  rules.DynamicSchema().Fields(),
		SortKeys: collection.SortKeys(),
	}
}

// ValidateRules checks req.Rules against the requested scope. Rule problems
// are reported in the response; only a malformed request returns an error.
func ValidateRules(req RuleValidationRequest) (RuleValidationResponse, error) {
	if err := Validate(req); err != nil {
		return RuleValidationResponse{}, err
	}
	schema := rules.StaticSchema()
	if req.Scope == string(rules.ScopeDynamic) {
		schema = rules.DynamicSchema()
	}
	normalized, err := rules.Validate(req.Rules, schema)
	if err != nil {
		var itemized rules.ValidationErrors
		if errors.As(err, &itemized) {
			return RuleValidationResponse{Errors: itemized}, nil
		}
		return RuleValidationResponse{}, err
	}
	return RuleValidationResponse{Valid: true, Normalized: &normalized}, nil
}
