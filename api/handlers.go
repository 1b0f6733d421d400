// Package api exposes the campaign's administrative surface over HTTP:
// donate, close, vote and foreign-asset rescue, plus read-only status,
// donor and event views for auditing.
package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fundrail/custodian/core"
)

// Engine is the slice of core.Campaign the handlers drive.
type Engine interface {
	Donate(ctx context.Context, donor common.Address, amount *big.Int) error
	Close(ctx context.Context, actor common.Address) error
	Vote(ctx context.Context, donor common.Address) error
	RescueForeignAsset(ctx context.Context, actor, token common.Address) error
	Status() core.Status
	Donors() []core.DonorInfo
	Events() []core.Event
}

// Handler contains the HTTP handlers for the campaign API endpoints
type Handler struct {
	Engine Engine
	Logger *logrus.Logger
}

// NewHandler creates and returns a new Handler instance
func NewHandler(engine Engine, logger *logrus.Logger) *Handler {
	return &Handler{Engine: engine, Logger: logger}
}

type donateRequest struct {
	Donor  string `json:"donor"`
	Amount string `json:"amount"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type rescueRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrAlreadyVoted),
		errors.Is(err, core.ErrNotADonor),
		errors.Is(err, core.ErrNotOwner),
		errors.Is(err, core.ErrNoFundsRaised):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrProtectedAsset):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrTransferFailed),
		errors.Is(err, core.ErrRecipientNoLongerValid):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

// Donate handles POST requests that book a donation into the pool
func (h *Handler) Donate(w http.ResponseWriter, r *http.Request) {
	var req donateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Errorf("decode donate request: %s", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	donor, err := parseAddress(req.Donor)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be a decimal integer"})
		return
	}

	if err := h.Engine.Donate(r.Context(), donor, amount); err != nil {
		h.Logger.Errorf("donate from %s failed: %s", donor.Hex(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "donation received",
		"donor":   donor.Hex(),
		"amount":  amount.String(),
	})
}

// Close handles POST requests that end the funding phase and start
// distribution; owner only
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Engine.Close(r.Context(), caller); err != nil {
		h.Logger.Errorf("close by %s failed: %s", caller.Hex(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "distribution started"})
}

// Vote handles POST requests that cast a donor's cancellation vote
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	donor, err := parseAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Engine.Vote(r.Context(), donor); err != nil {
		h.Logger.Errorf("vote by %s failed: %s", donor.Hex(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "vote cast",
		"state":   h.Engine.Status().State.String(),
	})
}

// Rescue handles POST requests recovering a foreign asset from custody
func (h *Handler) Rescue(w http.ResponseWriter, r *http.Request) {
	var req rescueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Engine.RescueForeignAsset(r.Context(), caller, token); err != nil {
		h.Logger.Errorf("rescue of %s failed: %s", token.Hex(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "asset rescued"})
}

// Status handles GET requests for the campaign state summary
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	s := h.Engine.Status()

	allocations := make([]map[string]interface{}, 0, len(s.Allocations))
	for _, a := range s.Allocations {
		allocations = append(allocations, map[string]interface{}{
			"id":        a.ID,
			"recipient": a.Recipient.Hex(),
			"share_bps": a.ShareBps,
			"stream_id": a.StreamID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":               s.State.String(),
		"strategy":            s.Strategy.String(),
		"total_raised":        s.TotalRaised.String(),
		"total_voting_weight": s.TotalVotingWeight,
		"allocations":         allocations,
	})
}

// Donors handles GET requests for the donation ledger in roster order
func (h *Handler) Donors(w http.ResponseWriter, r *http.Request) {
	donors := h.Engine.Donors()
	out := make([]map[string]interface{}, 0, len(donors))
	for _, d := range donors {
		out = append(out, map[string]interface{}{
			"address": d.Address.Hex(),
			"amount":  d.Amount.String(),
			"voted":   d.Voted,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"donors": out})
}

// Events handles GET requests for the audit event log
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	events := h.Engine.Events()
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		entry := map[string]interface{}{
			"type":  e.Type.String(),
			"actor": e.Actor.Hex(),
			"time":  e.Time,
		}
		if e.Amount != nil {
			entry["amount"] = e.Amount.String()
		}
		if e.StreamID != 0 {
			entry["stream_id"] = e.StreamID
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
