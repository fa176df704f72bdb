// Package diag serves a read-only view of the rig over HTTP: its status,
// Prometheus metrics, and a list of the routes.  Nothing here can move the
// hardware.
package diag

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hector9000/hector/rig"
)

// Statuser reports the status of a rig
type Statuser interface {
	Status() rig.Status
}

// RouteTable maps URL paths to GET handlers
type RouteTable map[string]http.HandlerFunc

// Endpoints lists the paths in a RouteTable, sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	sort.Strings(routes)
	return routes
}

// Bind adds the routes to a router
func (rt RouteTable) Bind(r chi.Router) {
	for k, v := range rt {
		r.Get(k, v)
	}
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Routes builds the route table for s, with metrics from g
func Routes(s Statuser, g prometheus.Gatherer) RouteTable {
	rt := RouteTable{
		"/status": func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, s.Status())
		},
		"/metrics": promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP,
	}
	endpoints := append(rt.Endpoints(), "/endpoints")
	sort.Strings(endpoints)
	rt["/endpoints"] = func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, endpoints)
	}
	return rt
}

// BuildMux returns a router serving Routes(s, g) with request logging
func BuildMux(s Statuser, g prometheus.Gatherer) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	Routes(s, g).Bind(root)
	return root
}
