package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/index"
)

const testAPIKey = "test-key"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := docstore.NewMemory(btree.StoreIndexes()...)
	svc := index.New(store)
	metrics := NewMetricsWith(prometheus.NewRegistry())
	return NewRouter(svc, ServerConfig{Port: 8080, APIKey: testAPIKey}, metrics)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInsertGetDeleteFlow(t *testing.T) {
	router := newTestRouter(t)
	ns := `/api/v1/trees/` + `"logs"`

	rec := doRequest(t, router, "POST", ns+"/items", `{"key": "k1", "value": "doc-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Duplicate insert conflicts.
	rec = doRequest(t, router, "POST", ns+"/items", `{"key": "k1", "value": "doc-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, "POST", ns+"/items/get", `{"key": "k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	item := data["item"].(map[string]any)
	assert.Equal(t, "k1", item["key"])
	assert.Equal(t, "doc-1", item["value"])

	rec = doRequest(t, router, "POST", ns+"/items/delete", `{"key": "k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "POST", ns+"/items/delete", `{"key": "k1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, "POST", ns+"/items/delete?ifExists=true", `{"key": "k1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitConflictAndValidate(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, "PUT", `/api/v1/trees/"ns"?maxNodeSize=4`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "PUT", `/api/v1/trees/"ns"`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, "PUT", `/api/v1/trees/"odd"?maxNodeSize=5`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, "GET", `/api/v1/trees/"ns"/validate`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "GET", `/api/v1/trees/"ghost"/validate`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUndefinedNamespaceSegment(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, "POST", "/api/v1/trees/_/items", `{"key": 1, "value": "v"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, "POST", "/api/v1/trees/_/items/get", `{"key": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	item := resp.Data.(map[string]any)["item"].(map[string]any)
	assert.Equal(t, float64(1), item["key"])
}

func TestPaginateEndpoint(t *testing.T) {
	router := newTestRouter(t)
	ns := `/api/v1/trees/"p"`

	for i := 1; i <= 8; i++ {
		body := fmt.Sprintf(`{"key": %d, "value": "v%d"}`, i, i)
		rec := doRequest(t, router, "POST", ns+"/items", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, router, "POST", ns+"/paginate", `{"limit": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeResponse(t, rec).Data.(map[string]any)
	require.Len(t, data["items"].([]any), 5)
	require.Equal(t, false, data["isDone"])

	cursor := data["cursor"].(string)
	body := fmt.Sprintf(`{"limit": 5, "cursor": %q}`, cursor)
	rec = doRequest(t, router, "POST", ns+"/paginate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeResponse(t, rec).Data.(map[string]any)
	assert.Len(t, data["items"].([]any), 3)
	assert.Equal(t, true, data["isDone"])

	// Bounded descending walk.
	rec = doRequest(t, router, "POST", ns+"/paginate", `{"limit": 10, "order": "desc", "k1": 3, "k2": 6}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeResponse(t, rec).Data.(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 4)
	assert.Equal(t, float64(6), items[0].(map[string]any)["key"])
	assert.Equal(t, float64(3), items[3].(map[string]any)["key"])

	// A namespace that was never written is empty and done.
	rec = doRequest(t, router, "POST", `/api/v1/trees/"none"/paginate`, `{"limit": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeResponse(t, rec).Data.(map[string]any)
	assert.Empty(t, data["items"])
	assert.Equal(t, true, data["isDone"])
}

func TestListTreesAndClearAll(t *testing.T) {
	router := newTestRouter(t)

	for _, ns := range []string{`"a"`, `"b"`} {
		rec := doRequest(t, router, "POST", "/api/v1/trees/"+ns+"/items", `{"key": "k", "value": "v"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, router, "GET", "/api/v1/trees?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeResponse(t, rec).Data.(map[string]any)
	assert.Len(t, data["namespaces"].([]any), 2)
	assert.Equal(t, true, data["isDone"])

	rec = doRequest(t, router, "POST", "/api/v1/trees/clear-all", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "POST", `/api/v1/trees/"a"/paginate`, `{"limit": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeResponse(t, rec).Data.(map[string]any)
	assert.Empty(t, data["items"])
}

func TestReplaceEndpoint(t *testing.T) {
	router := newTestRouter(t)
	ns := `/api/v1/trees/"r"`

	rec := doRequest(t, router, "POST", ns+"/items", `{"key": "x", "value": "a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "PUT", ns+"/items", `{"currentKey": "x", "newKey": "x", "value": "b"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "POST", ns+"/items/get", `{"key": "x"}`)
	item := decodeResponse(t, rec).Data.(map[string]any)["item"].(map[string]any)
	assert.Equal(t, "b", item["value"])

	// Replace of a missing key 404s unless upsert is requested.
	rec = doRequest(t, router, "PUT", ns+"/items", `{"currentKey": "nope", "newKey": "y", "value": "c"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, "PUT", ns+"/items?upsert=true", `{"currentKey": "y", "newKey": "y", "value": "c"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cross-namespace move.
	rec = doRequest(t, router, "PUT", ns+"/items", `{"currentKey": "y", "newKey": "y", "value": "c", "newNamespace": "r2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, router, "POST", `/api/v1/trees/"r2"/items/get`, `{"key": "y"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointUnprotected(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
