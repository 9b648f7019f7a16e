package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"curator/internal/api"
	"curator/internal/testsupport"
)

func serve(t *testing.T, handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response failed: %v (body %s)", err, rr.Body.String())
	}
}

const filterCollection = `{
	"name": "Recent movies",
	"type": "filter",
	"itemTypes": ["Movie"],
	"spec": {"static": {"logic": "AND", "predicates": [{"field": "year", "operator": "gte", "value": 2010}]}}
}`

func TestAPIServerCollectionsLifecycle(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))
	h := d.Handler()

	rr := serve(t, h, http.MethodPost, "/api/collections", filterCollection, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	decodeBody(t, rr, &created)
	if created.ID == "" || created.Name != "Recent movies" {
		t.Fatalf("unexpected created collection %+v", created)
	}

	rr = serve(t, h, http.MethodGet, "/api/collections", "", "")
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	decodeBody(t, rr, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 collection, got %d", len(list.Items))
	}

	rr = serve(t, h, http.MethodGet, "/api/collections/"+created.ID+"/items?offset=5&limit=10", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for items, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, h, http.MethodGet, "/api/collections/"+created.ID+"/items?limit=abc", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}

	rr = serve(t, h, http.MethodDelete, "/api/collections/"+created.ID, "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = serve(t, h, http.MethodGet, "/api/collections/"+created.ID, "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	var errResp api.ErrorResponse
	decodeBody(t, rr, &errResp)
	if errResp.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %+v", errResp)
	}
}

func TestAPIServerRejectsInvalidRules(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))
	body := `{"name": "Bad", "type": "filter", "spec": {"static": {"logic": "AND", "predicates": [{"field": "nope", "operator": "eq", "value": 1}]}}}`

	rr := serve(t, d.Handler(), http.MethodPost, "/api/collections", body, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var errResp api.ErrorResponse
	decodeBody(t, rr, &errResp)
	if errResp.Kind != "validation" || len(errResp.Fields) == 0 {
		t.Fatalf("expected itemized validation errors, got %+v", errResp)
	}
}

func TestAPIServerTransitions(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))
	h := d.Handler()

	body := `[
		{"mediaId": 603, "itemType": "movie", "newStatus": "wanted", "source": "user:alice"},
		{"mediaId": 604, "itemType": "movie", "newStatus": "subscribed", "source": "user:alice"}
	]`
	rr := serve(t, h, http.MethodPost, "/api/subscriptions/transitions", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.TransitionResponse
	decodeBody(t, rr, &resp)
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Fatalf("unexpected batch result %+v", resp)
	}
	if resp.Items[0].Outcome != "ok" || resp.Items[1].Outcome != "invalid_transition" {
		t.Fatalf("unexpected outcomes %+v", resp.Items)
	}

	wrapped := `{"items": [{"mediaId": 603, "itemType": "movie", "newStatus": "subscribed", "source": "collection:abc"}]}`
	rr = serve(t, h, http.MethodPost, "/api/subscriptions/transitions", wrapped, "")
	decodeBody(t, rr, &resp)
	if resp.Succeeded != 1 {
		t.Fatalf("expected wrapped batch to succeed, got %+v", resp)
	}

	rr = serve(t, h, http.MethodPost, "/api/subscriptions/transitions", `[]`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rr.Code)
	}

	rr = serve(t, h, http.MethodGet, "/api/subscriptions?status=subscribed", "", "")
	var list api.SubscriptionListResponse
	decodeBody(t, rr, &list)
	if len(list.Items) != 1 || list.Items[0].MediaID != 603 {
		t.Fatalf("unexpected subscribed list %+v", list.Items)
	}

	rr = serve(t, h, http.MethodGet, "/api/subscriptions?status=bogus", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}

	rr = serve(t, h, http.MethodPost, "/api/subscriptions/release-check", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for release check, got %d", rr.Code)
	}
}

func TestAPIServerSchemaAndRuleValidation(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))
	h := d.Handler()

	rr := serve(t, h, http.MethodGet, "/api/schema", "", "")
	var schema api.SchemaResponse
	decodeBody(t, rr, &schema)
	if len(schema.Static) == 0 || len(schema.SortKeys) == 0 {
		t.Fatalf("unexpected schema %+v", schema)
	}

	rr = serve(t, h, http.MethodPost, "/api/rules/validate", `{"scope": "static", "rules": {"logic": "AND", "predicates": [{"field": "year", "operator": "gte", "value": 1999}]}}`, "")
	var resp api.RuleValidationResponse
	decodeBody(t, rr, &resp)
	if !resp.Valid {
		t.Fatalf("expected rules to be valid, got %+v", resp)
	}

	rr = serve(t, h, http.MethodPost, "/api/rules/validate", `{`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestAPIServerBearerAuth(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t, testsupport.WithAPIToken("secret")))
	h := d.Handler()

	if rr := serve(t, h, http.MethodGet, "/api/status", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/api/status", "", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/api/status", "", "secret"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected metrics to bypass auth, got %d", rr.Code)
	}
}

func TestAPIServerRequestIDHeader(t *testing.T) {
	d := newTestDaemon(t, testsupport.NewConfig(t))
	rr := serve(t, d.Handler(), http.MethodGet, "/api/schema", "", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
