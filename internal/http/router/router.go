// Package router builds the HTTP route table.
//
//	GET    {base}/persons          list all persons
//	GET    {base}/persons/search   search by ?name=
//	GET    {base}/persons/{id}     get one person
//	POST   {base}/persons          create a person
//	PUT    {base}/persons/{id}     update a person
//	DELETE {base}/persons/{id}     delete a person
//	GET    /healthz                store health
//	GET    /metrics                Prometheus metrics
package router

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aanand-mishra/persons-api/internal/http/handlers/person"
	"github.com/aanand-mishra/persons-api/internal/http/middleware"
	"github.com/aanand-mishra/persons-api/internal/logger"
	"github.com/aanand-mishra/persons-api/internal/metrics"
)

// New returns the service's root handler. basePath, when non-empty,
// prefixes the person routes, e.g. "/api".
func New(res *person.Resource, log *logger.Logger, basePath string) http.Handler {
	r := mux.NewRouter()
	r.Use(middlewares(log)...)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", person.Health(res)).Methods(http.MethodGet)

	api := r.PathPrefix(strings.TrimRight(basePath, "/") + "/persons").Subrouter()

	// /search is registered before /{id} so it is not parsed as an id.
	api.HandleFunc("", person.GetList(res)).Methods(http.MethodGet)
	api.HandleFunc("", person.New(res)).Methods(http.MethodPost)
	api.HandleFunc("/search", person.Search(res)).Methods(http.MethodGet)
	api.HandleFunc("/{id}", person.GetByID(res)).Methods(http.MethodGet)
	api.HandleFunc("/{id}", person.Update(res)).Methods(http.MethodPut)
	api.HandleFunc("/{id}", person.Delete(res)).Methods(http.MethodDelete)

	return r
}

// middlewares returns the chain applied to every route, outermost first.
// Metrics wraps Recoverer so a recovered panic is still counted as a 500.
func middlewares(log *logger.Logger) []mux.MiddlewareFunc {
	return []mux.MiddlewareFunc{
		middleware.RequestLogger(log),
		middleware.Metrics,
		middleware.Recoverer(log),
	}
}
