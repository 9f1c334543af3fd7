package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Authenticated bool   `json:"authenticated"`
}

func newRouter(srv *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{
			Status:        "ok",
			Version:       Version,
			Authenticated: srv.Authenticated(),
		})
	})
	return r
}
