package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/index"
	"github.com/ssargent/yggdrasil/pkg/value"
)

// UndefinedNamespace is the path segment addressing the tree with no
// namespace tag.
const UndefinedNamespace = "_"

// Server holds the API server state
type Server struct {
	svc     *index.Service
	config  ServerConfig
	metrics *Metrics
}

// NewServer creates a new API server
func NewServer(svc *index.Service, config ServerConfig, metrics *Metrics) *Server {
	return &Server{
		svc:     svc,
		config:  config,
		metrics: metrics,
	}
}

// itemPayload is the wire form of an item: the key in its cursor
// encoding, the value verbatim.
type itemPayload struct {
	Key   json.RawMessage `json:"key"`
	Value string          `json:"value"`
}

func itemToPayload(it *btree.Item) *itemPayload {
	if it == nil {
		return nil
	}
	return &itemPayload{Key: json.RawMessage(value.Encode(it.Key)), Value: it.Value}
}

// namespaceParam decodes the {ns} path segment.
func namespaceParam(r *http.Request) (any, error) {
	raw := chi.URLParam(r, "ns")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	if raw == UndefinedNamespace {
		return nil, nil
	}
	return value.Decode(raw)
}

// decodeKey parses one structured key from its wire encoding.
func decodeKey(raw json.RawMessage) (any, error) {
	return value.Decode(string(raw))
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, btree.ErrMissingKey), errors.Is(err, btree.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, btree.ErrDuplicateKey), errors.Is(err, btree.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, btree.ErrInvalidFanout), errors.Is(err, btree.ErrInvalidCursor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Get the health status of the API
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	APIResponse
//	@Router			/health [get]
//	@Security		ApiKeyAuth
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleInitTree godoc
//
//	@Summary		Initialize a namespace
//	@Description	Create the namespace's tree; fails if it already exists
//	@Tags			trees
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace (cursor encoding, _ for undefined)"
//	@Param			maxNodeSize	query	int	false	"Fanout (even, >= 4)"
//	@Success		200	{object}	APIResponse
//	@Failure		409	{object}	APIResponse
//	@Router			/trees/{ns} [put]
//	@Security		ApiKeyAuth
func (s *Server) handleInitTree(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	maxNodeSize, ok := intQuery(r, "maxNodeSize", 0)
	if !ok {
		sendError(w, "Invalid maxNodeSize", http.StatusBadRequest)
		return
	}

	if err := s.svc.Init(r.Context(), ns, maxNodeSize); err != nil {
		s.metrics.RecordOperation("init", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("init", true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "initialized"})
}

// handleClearTree godoc
//
//	@Summary		Clear a namespace
//	@Description	Empty the namespace's tree; node cleanup happens asynchronously
//	@Tags			trees
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Param			maxNodeSize	query	int	false	"New fanout (defaults to the current one)"
//	@Success		200	{object}	APIResponse
//	@Router			/trees/{ns}/clear [post]
//	@Security		ApiKeyAuth
func (s *Server) handleClearTree(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	maxNodeSize, ok := intQuery(r, "maxNodeSize", 0)
	if !ok {
		sendError(w, "Invalid maxNodeSize", http.StatusBadRequest)
		return
	}

	if err := s.svc.Clear(r.Context(), ns, maxNodeSize); err != nil {
		s.metrics.RecordOperation("clear", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("clear", true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "cleared"})
}

// handleClearAll godoc
//
//	@Summary	Clear every namespace
//	@Tags		trees
//	@Produce	json
//	@Success	200	{object}	APIResponse
//	@Router		/trees/clear-all [post]
//	@Security	ApiKeyAuth
func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.svc.ClearAll(r.Context()); err != nil {
		s.metrics.RecordOperation("clearAll", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("clearAll", true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "cleared"})
}

// handleInsertItem godoc
//
//	@Summary		Insert an item
//	@Description	Insert a key/value pair; fails on a duplicate key
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Success		200	{object}	APIResponse
//	@Failure		409	{object}	APIResponse
//	@Router			/trees/{ns}/items [post]
//	@Security		ApiKeyAuth
func (s *Server) handleInsertItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	var req itemPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	key, err := decodeKey(req.Key)
	if err != nil {
		sendError(w, "Invalid key", http.StatusBadRequest)
		return
	}

	if err := s.svc.Insert(r.Context(), ns, key, req.Value); err != nil {
		s.metrics.RecordOperation("insert", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("insert", true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "inserted"})
}

// replacePayload names the item to replace and its replacement.
type replacePayload struct {
	CurrentKey   json.RawMessage `json:"currentKey"`
	NewKey       json.RawMessage `json:"newKey"`
	Value        string          `json:"value"`
	NewNamespace json.RawMessage `json:"newNamespace,omitempty"`
}

// handleReplaceItem godoc
//
//	@Summary		Replace an item
//	@Description	Delete the current key and insert the new one atomically; ?upsert=true tolerates a missing current key
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Param			upsert	query	bool	false	"Insert when the current key is absent"
//	@Success		200	{object}	APIResponse
//	@Failure		404	{object}	APIResponse
//	@Router			/trees/{ns}/items [put]
//	@Security		ApiKeyAuth
func (s *Server) handleReplaceItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	var req replacePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	currentKey, err := decodeKey(req.CurrentKey)
	if err != nil {
		sendError(w, "Invalid currentKey", http.StatusBadRequest)
		return
	}
	newKey, err := decodeKey(req.NewKey)
	if err != nil {
		sendError(w, "Invalid newKey", http.StatusBadRequest)
		return
	}

	replaceReq := index.ReplaceRequest{
		Namespace:  ns,
		CurrentKey: currentKey,
		NewKey:     newKey,
		Value:      req.Value,
	}
	if len(req.NewNamespace) > 0 {
		newNs, err := decodeKey(req.NewNamespace)
		if err != nil {
			sendError(w, "Invalid newNamespace", http.StatusBadRequest)
			return
		}
		replaceReq.NewNamespace = newNs
		replaceReq.ChangeNamespace = true
	}

	op := "replace"
	if r.URL.Query().Get("upsert") == "true" {
		op = "replaceOrInsert"
		err = s.svc.ReplaceOrInsert(r.Context(), replaceReq)
	} else {
		err = s.svc.Replace(r.Context(), replaceReq)
	}
	if err != nil {
		s.metrics.RecordOperation(op, false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation(op, true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "replaced"})
}

// handleGetItem godoc
//
//	@Summary		Point lookup
//	@Description	Look a key up; the key travels in the body because keys are structured values
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Success		200	{object}	APIResponse
//	@Failure		404	{object}	APIResponse
//	@Router			/trees/{ns}/items/get [post]
//	@Security		ApiKeyAuth
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	var req itemPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	key, err := decodeKey(req.Key)
	if err != nil {
		sendError(w, "Invalid key", http.StatusBadRequest)
		return
	}

	item, err := s.svc.Get(r.Context(), ns, key)
	if err != nil {
		s.metrics.RecordOperation("get", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("get", true, time.Since(start))
	sendSuccess(w, map[string]any{"item": itemToPayload(item)})
}

// handleDeleteItem godoc
//
//	@Summary		Delete an item
//	@Description	Delete a key; ?ifExists=true suppresses the missing-key failure
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Param			ifExists	query	bool	false	"Do not fail when the key is absent"
//	@Success		200	{object}	APIResponse
//	@Failure		404	{object}	APIResponse
//	@Router			/trees/{ns}/items/delete [post]
//	@Security		ApiKeyAuth
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	var req itemPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	key, err := decodeKey(req.Key)
	if err != nil {
		sendError(w, "Invalid key", http.StatusBadRequest)
		return
	}

	var removed *btree.Item
	op := "delete"
	if r.URL.Query().Get("ifExists") == "true" {
		op = "deleteIfExists"
		removed, err = s.svc.DeleteIfExists(r.Context(), ns, key)
	} else {
		removed, err = s.svc.Delete(r.Context(), ns, key)
	}
	if err != nil {
		s.metrics.RecordOperation(op, false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation(op, true, time.Since(start))
	sendSuccess(w, map[string]any{"removed": itemToPayload(removed)})
}

// paginatePayload selects one page of a range walk.
type paginatePayload struct {
	Limit  int             `json:"limit"`
	Order  string          `json:"order,omitempty"`
	Cursor string          `json:"cursor,omitempty"`
	K1     json.RawMessage `json:"k1,omitempty"`
	K2     json.RawMessage `json:"k2,omitempty"`
}

// handlePaginate godoc
//
//	@Summary		Range pagination
//	@Description	Walk the namespace's items in order, one page at a time
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Success		200	{object}	APIResponse
//	@Router			/trees/{ns}/paginate [post]
//	@Security		ApiKeyAuth
func (s *Server) handlePaginate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}
	var req paginatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	opts := btree.PaginateOptions{
		Limit:  req.Limit,
		Order:  btree.Order(req.Order),
		Cursor: req.Cursor,
	}
	if len(req.K1) > 0 {
		k1, err := decodeKey(req.K1)
		if err != nil {
			sendError(w, "Invalid k1", http.StatusBadRequest)
			return
		}
		opts.K1 = &btree.Bound{Key: k1}
	}
	if len(req.K2) > 0 {
		k2, err := decodeKey(req.K2)
		if err != nil {
			sendError(w, "Invalid k2", http.StatusBadRequest)
			return
		}
		opts.K2 = &btree.Bound{Key: k2}
	}

	page, err := s.svc.Paginate(r.Context(), ns, opts)
	if err != nil {
		s.metrics.RecordOperation("paginate", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("paginate", true, time.Since(start))

	items := make([]*itemPayload, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, itemToPayload(&page.Items[i]))
	}
	sendSuccess(w, map[string]any{
		"items":  items,
		"cursor": page.Cursor,
		"isDone": page.IsDone,
	})
}

// handleListTrees godoc
//
//	@Summary		List namespaces
//	@Description	Page through the namespace catalog in tree id order
//	@Tags			trees
//	@Produce		json
//	@Param			limit	query	int	false	"Page size"
//	@Param			cursor	query	string	false	"Resume cursor"
//	@Success		200	{object}	APIResponse
//	@Router			/trees [get]
//	@Security		ApiKeyAuth
func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, ok := intQuery(r, "limit", 50)
	if !ok {
		sendError(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	page, err := s.svc.PaginateNamespaces(r.Context(), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.metrics.RecordOperation("paginateNamespaces", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("paginateNamespaces", true, time.Since(start))

	namespaces := make([]json.RawMessage, 0, len(page.Namespaces))
	for _, ns := range page.Namespaces {
		namespaces = append(namespaces, json.RawMessage(value.Encode(ns)))
	}
	sendSuccess(w, map[string]any{
		"namespaces": namespaces,
		"cursor":     page.Cursor,
		"isDone":     page.IsDone,
	})
}

// handleValidate godoc
//
//	@Summary		Validate a namespace
//	@Description	Walk the whole tree and verify every structural invariant
//	@Tags			trees
//	@Produce		json
//	@Param			ns	path	string	true	"Namespace"
//	@Success		200	{object}	APIResponse
//	@Router			/trees/{ns}/validate [get]
//	@Security		ApiKeyAuth
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ns, err := namespaceParam(r)
	if err != nil {
		sendError(w, "Invalid namespace", http.StatusBadRequest)
		return
	}

	if err := s.svc.Validate(r.Context(), ns); err != nil {
		s.metrics.RecordOperation("validate", false, time.Since(start))
		sendError(w, err.Error(), statusFor(err))
		return
	}
	s.metrics.RecordOperation("validate", true, time.Since(start))
	sendSuccess(w, map[string]string{"status": "valid"})
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
