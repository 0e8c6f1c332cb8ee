// Package person contains the HTTP handlers for the Person resource.
//
// Handlers are built by factories that close over a *Resource:
//
//	router.HandleFunc("/persons", person.GetList(res)).Methods(http.MethodGet)
//
// The factory runs once at startup; the returned func runs per request.
// All persistence work, including session and transaction handling,
// lives in Resource. Handlers only decode input and map results to
// status codes:
//
//	found            200 / 201 / 204
//	not found        404, empty body
//	bad input        400, error envelope
//	store failure    500, error envelope
package person

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/aanand-mishra/persons-api/internal/types"
	"github.com/aanand-mishra/persons-api/internal/utils/response"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New()

// ─────────────────────────────────────────────────────────────────────────────
// GetList handles GET /persons
// Returns every person as a JSON array, [] when there are none.
// ─────────────────────────────────────────────────────────────────────────────
func GetList(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		persons, err := res.List(r.Context())
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		response.WriteJSON(w, http.StatusOK, persons)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID handles GET /persons/{id}
//
// Success response (200 OK):
//
//	{ "id": 1, "name": "Ahmed", "age": 21 }
//
// 404 with an empty body when no person has that id.
// ─────────────────────────────────────────────────────────────────────────────
func GetByID(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		person, found, err := res.Get(r.Context(), id)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		if !found {
			response.WriteEmpty(w, http.StatusNotFound)
			return
		}
		response.WriteJSON(w, http.StatusOK, person)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Search handles GET /persons/search?name=
// Case-insensitive substring match on name. A missing or blank name
// returns the full list.
// ─────────────────────────────────────────────────────────────────────────────
func Search(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		persons, err := res.Search(r.Context(), r.URL.Query().Get("name"))
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		response.WriteJSON(w, http.StatusOK, persons)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// New handles POST /persons
//
// Request body:
//
//	{ "name": "Ahmed", "age": 21 }
//
// Success response (201 Created), the stored person with its new id:
//
//	{ "id": 1, "name": "Ahmed", "age": 21 }
// ─────────────────────────────────────────────────────────────────────────────
func New(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodePerson(w, r)
		if !ok {
			return
		}

		created, err := res.Create(r.Context(), in)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		response.WriteJSON(w, http.StatusCreated, created)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Update handles PUT /persons/{id}
// Replaces name and age; the id never changes.
// ─────────────────────────────────────────────────────────────────────────────
func Update(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		in, ok := decodePerson(w, r)
		if !ok {
			return
		}

		updated, found, err := res.Update(r.Context(), id, in)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		if !found {
			response.WriteEmpty(w, http.StatusNotFound)
			return
		}
		response.WriteJSON(w, http.StatusOK, updated)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete handles DELETE /persons/{id}
// 204 on success, 404 when absent. Repeating a delete yields 404.
// ─────────────────────────────────────────────────────────────────────────────
func Delete(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		found, err := res.Delete(r.Context(), id)
		if err != nil {
			response.WriteJSON(w, http.StatusInternalServerError, response.GeneralError(err))
			return
		}
		if !found {
			response.WriteEmpty(w, http.StatusNotFound)
			return
		}
		response.WriteEmpty(w, http.StatusNoContent)
	}
}

// Health handles GET /healthz.
func Health(res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := res.Health(r.Context()); err != nil {
			response.WriteJSON(w, http.StatusServiceUnavailable, response.GeneralError(err))
			return
		}
		response.WriteJSON(w, http.StatusOK, response.OK())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest,
			response.GeneralError(errors.New("invalid id: must be an integer")))
		return 0, false
	}
	return id, true
}

// decodePerson reads and validates a {name, age} body. On failure it has
// already written a 400 and returns false.
//
// The name is returned exactly as sent. Only the validated copy has a
// whitespace-only name blanked, so "required" rejects it.
func decodePerson(w http.ResponseWriter, r *http.Request) (types.Person, bool) {
	var in types.Person

	err := json.NewDecoder(r.Body).Decode(&in)
	if errors.Is(err, io.EOF) {
		response.WriteJSON(w, http.StatusBadRequest,
			response.GeneralError(errors.New("request body is empty")))
		return types.Person{}, false
	}
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
		return types.Person{}, false
	}

	check := in
	if strings.TrimSpace(check.Name) == "" {
		check.Name = ""
	}
	if err := validate.Struct(check); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(verrs))
			return types.Person{}, false
		}
		response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
		return types.Person{}, false
	}

	return in, true
}
