package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the campaign API
func RegisterRoutes(r *mux.Router, h *Handler) {

	// Books a donation; the donor must have approved custody beforehand
	r.HandleFunc("/donate", h.Donate).Methods("POST")

	// Ends the funding phase and runs the disbursement strategy
	r.HandleFunc("/close", h.Close).Methods("POST")

	// Casts an irrevocable cancellation vote
	r.HandleFunc("/vote", h.Vote).Methods("POST")

	// Recovers a non-donation asset stuck in custody
	r.HandleFunc("/rescue", h.Rescue).Methods("POST")

	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/donors", h.Donors).Methods("GET")
	r.HandleFunc("/events", h.Events).Methods("GET")
}

// NewServer wires a handler into an http.Server listening on addr.
func NewServer(addr string, h *Handler) *http.Server {
	r := mux.NewRouter()
	RegisterRoutes(r, h)
	return &http.Server{Addr: addr, Handler: r}
}
