// Package httpapi exposes the contact book services as a JSON REST API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/oy3o/contactd/contacts"
	"github.com/oy3o/contactd/o11y"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPageSize = 10
	maxBodyBytes    = 1 << 20
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API serves the /api routes.
type API struct {
	Contacts *contacts.ContactService
	Groups   *contacts.GroupService
	Tags     *contacts.TagService
	// Ready is consulted by /api/health/ready.
	Ready Pinger
}

// Routes registers every route on a new ServeMux. The mux sets Request.Pattern, which
// the o11y middleware turns into the span name.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/contacts", a.listContacts)
	mux.HandleFunc("POST /api/contacts", a.createContact)
	mux.HandleFunc("GET /api/contacts/search", a.searchContacts)
	mux.HandleFunc("GET /api/contacts/{id}", a.getContact)
	mux.HandleFunc("GET /api/contacts/{id}/details", a.getContactDetails)
	mux.HandleFunc("PUT /api/contacts/{id}", a.updateContact)
	mux.HandleFunc("DELETE /api/contacts/{id}", a.deleteContact)

	mux.HandleFunc("GET /api/groups", a.listGroups)
	mux.HandleFunc("POST /api/groups", a.createGroup)
	mux.HandleFunc("GET /api/groups/{id}", a.getGroup)
	mux.HandleFunc("PUT /api/groups/{id}", a.updateGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", a.deleteGroup)
	mux.HandleFunc("GET /api/groups/{id}/contacts", a.listGroupContacts)

	mux.HandleFunc("GET /api/tags", a.listTags)
	mux.HandleFunc("POST /api/tags", a.createTag)
	mux.HandleFunc("GET /api/tags/{id}", a.getTag)
	mux.HandleFunc("PUT /api/tags/{id}", a.updateTag)
	mux.HandleFunc("DELETE /api/tags/{id}", a.deleteTag)
	mux.HandleFunc("GET /api/tags/{id}/contacts", a.listTagContacts)

	mux.HandleFunc("GET /api/health", a.health)
	mux.HandleFunc("GET /api/health/ready", a.ready)
	return mux
}

type problem struct {
	Status  int    `json:"status"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	// TraceID correlates the response with the server span.
	TraceID string `json:"traceId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes. Unexpected errors are logged
// and answered without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var p problem
	switch {
	case errors.Is(err, contacts.ErrValidation):
		p = problem{Status: http.StatusBadRequest, Title: "Bad Request", Detail: err.Error()}
	case errors.Is(err, contacts.ErrNotFound):
		p = problem{Status: http.StatusNotFound, Title: "Not Found", Detail: err.Error()}
	case errors.Is(err, contacts.ErrConflict):
		p = problem{Status: http.StatusConflict, Title: "Conflict", Detail: err.Error()}
	default:
		o11y.GetLoggerFromContext(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).Msg("Request failed")
		p = problem{Status: http.StatusInternalServerError, Title: "Internal Server Error"}
	}
	p.TraceID = o11y.GetTraceID(r.Context())
	writeJSON(w, p.Status, p)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, problem{Status: http.StatusBadRequest, Title: "Bad Request", Detail: detail})
}

// pathID parses the {id} wildcard. On failure it answers 400 and returns false.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid id: "+r.PathValue("id"))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into v. On failure it answers 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (a *API) listContacts(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		badRequest(w, "invalid page")
		return
	}
	size, err := queryInt(r, "pageSize", defaultPageSize)
	if err != nil {
		badRequest(w, "invalid pageSize")
		return
	}

	out, err := a.Contacts.List(r.Context(), contacts.PageRequest{Number: page, Size: size})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) searchContacts(w http.ResponseWriter, r *http.Request) {
	out, err := a.Contacts.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Contacts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getContactDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Contacts.GetWithDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createContact(w http.ResponseWriter, r *http.Request) {
	var req contacts.CreateContactRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Contacts.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/contacts/"+out.ID.String())
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) updateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req contacts.UpdateContactRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Contacts.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.Contacts.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	out, err := a.Groups.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Groups.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req contacts.GroupRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Groups.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/groups/"+out.ID.String())
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req contacts.GroupRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Groups.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.Groups.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listGroupContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Contacts.ListByGroup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listTags(w http.ResponseWriter, r *http.Request) {
	out, err := a.Tags.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Tags.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createTag(w http.ResponseWriter, r *http.Request) {
	var req contacts.TagRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Tags.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/tags/"+out.ID.String())
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) updateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req contacts.TagRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := a.Tags.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.Tags.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listTagContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := a.Contacts.ListByTag(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "Healthy", Timestamp: time.Now().UTC()})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ready.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthStatus{
				Status:    "Unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthStatus{Status: "Ready", Timestamp: time.Now().UTC()})
}
