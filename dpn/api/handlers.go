package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/APTrust/dpn-registry/util/storage"
	"github.com/go-chi/chi/v5"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MAX_BODY_SIZE caps the size of a replication request body.
const MAX_BODY_SIZE = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"node":   server.updater.LocalNodeName(),
	})
}

func (server *Server) handleReplicationList(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseReplicationFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := server.updater.List(r.Context(), CredentialFromRequest(r), filter)
	if !result.Outcome.Succeeded() {
		server.writeResult(w, result)
		return
	}
	filter.Normalize()
	next, previous := pageLinks(r, filter.Page, filter.PageSize, result.Total)
	writeJSON(w, http.StatusOK, &models.ReplicationList{
		Count:    result.Total,
		Next:     next,
		Previous: previous,
		Results:  result.Transfers,
	})
}

func (server *Server) handleReplicationGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "replication_id")
	server.writeResult(w, server.updater.Get(r.Context(), CredentialFromRequest(r), id))
}

func (server *Server) handleReplicationCreate(w http.ResponseWriter, r *http.Request) {
	xfer, err := decodeTransfer(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := chi.URLParam(r, "replication_id"); id != "" {
		xfer.ReplicationId = id
	}
	server.writeResult(w, server.updater.Create(r.Context(), CredentialFromRequest(r), xfer))
}

func (server *Server) handleReplicationUpdate(w http.ResponseWriter, r *http.Request) {
	xfer, err := decodeTransfer(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := replication.NewUpdateRequest(xfer)
	req.ReplicationId = chi.URLParam(r, "replication_id")
	server.writeResult(w, server.updater.Update(r.Context(), CredentialFromRequest(r), req))
}

func (server *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	if !server.authenticate(w, r) {
		return
	}
	nodes, err := server.nodes.ListNodes(r.Context())
	if err != nil {
		server.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &models.NodeList{
		Count:   len(nodes),
		Results: nodes,
	})
}

func (server *Server) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	if !server.authenticate(w, r) {
		return
	}
	node, err := server.nodes.GetNode(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		server.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// authenticate writes an error response and returns false if the
// request's credential matches no node.
func (server *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	_, err := server.nodes.Resolve(r.Context(), CredentialFromRequest(r))
	if err == nil {
		return true
	}
	if isTimeout(err) {
		server.log.Error("Node registry unavailable for %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusServiceUnavailable, "Node registry unavailable")
	} else {
		writeError(w, http.StatusUnauthorized, "Invalid or missing token")
	}
	return false
}

func (server *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case isTimeout(err):
		writeError(w, http.StatusServiceUnavailable, "Store unavailable")
	default:
		server.log.Error("Node lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeResult renders the outcome of a replication operation. Store
// failures are logged by the Updater; the caller gets no detail.
func (server *Server) writeResult(w http.ResponseWriter, result *replication.Result) {
	status := result.Outcome.HTTPStatus()
	switch {
	case result.Outcome.Succeeded():
		writeJSON(w, status, result.Transfer)
	case result.Outcome == replication.OutcomeUnauthenticated:
		writeError(w, status, "Invalid or missing token")
	case result.Outcome == replication.OutcomeError:
		writeError(w, status, "Internal server error")
	default:
		message := result.Outcome.String()
		if result.Error != nil {
			message = result.Error.Error()
		}
		writeError(w, status, message)
	}
}

// CredentialFromRequest extracts the token from an Authorization
// header of the form "Token token=<token>" or "Token <token>".
func CredentialFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 6 || !strings.EqualFold(header[:6], "Token ") {
		return ""
	}
	token := strings.TrimSpace(header[6:])
	token = strings.TrimPrefix(token, "token=")
	return strings.Trim(token, `"`)
}

func decodeTransfer(r *http.Request) (*models.ReplicationTransfer, error) {
	xfer := &models.ReplicationTransfer{}
	decoder := json.NewDecoder(io.LimitReader(r.Body, MAX_BODY_SIZE))
	if err := decoder.Decode(xfer); err != nil {
		return nil, fmt.Errorf("Request body is not a valid replication transfer: %v", err)
	}
	return xfer, nil
}

// ParseReplicationFilter reads the replication index query params.
func ParseReplicationFilter(query url.Values) (models.ReplicationFilter, error) {
	filter := models.ReplicationFilter{
		FromNode: models.NormalizeNamespace(query.Get("from_node")),
		ToNode:   models.NormalizeNamespace(query.Get("to_node")),
		Bag:      query.Get("uuid"),
		OrderBy:  query.Get("order_by"),
	}
	var err error
	if after := query.Get("after"); after != "" {
		if filter.After, err = time.Parse(time.RFC3339Nano, after); err != nil {
			return filter, fmt.Errorf("Param 'after' must be an RFC3339 timestamp: %v", err)
		}
	}
	if status := query.Get("status"); status != "" {
		if filter.Status, err = dpn.ParseReplicationStatus(status); err != nil {
			return filter, err
		}
	}
	if filter.BagValid, err = parseBoolParam(query, "bag_valid"); err != nil {
		return filter, err
	}
	if filter.FixityAccept, err = parseBoolParam(query, "fixity_accept"); err != nil {
		return filter, err
	}
	if filter.Page, err = parseIntParam(query, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = parseIntParam(query, "page_size"); err != nil {
		return filter, err
	}
	if filter.OrderBy != "" && filter.OrderBy != "created_at" && filter.OrderBy != "updated_at" {
		return filter, fmt.Errorf("Param 'order_by' must be created_at or updated_at")
	}
	return filter, nil
}

func parseBoolParam(query url.Values, name string) (*bool, error) {
	value := query.Get(name)
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("Param '%s' must be true or false", name)
	}
	return &b, nil
}

func parseIntParam(query url.Values, name string) (int, error) {
	value := query.Get(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("Param '%s' must be a positive integer", name)
	}
	return n, nil
}

// pageLinks builds the next and previous links for one page of
// an index, keeping every other query param.
func pageLinks(r *http.Request, page, pageSize, total int) (next, previous *string) {
	link := func(p int) *string {
		query := r.URL.Query()
		query.Set("page", strconv.Itoa(p))
		query.Set("page_size", strconv.Itoa(pageSize))
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		s := fmt.Sprintf("%s://%s%s?%s", scheme, r.Host, r.URL.Path, query.Encode())
		return &s
	}
	if page*pageSize < total {
		next = link(page + 1)
	}
	if page > 1 {
		previous = link(page - 1)
	}
	return next, previous
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, &errorResponse{Error: message})
}
