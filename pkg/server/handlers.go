package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/storage"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 64 << 10

// ledgerResponse is the body of GET /v1/ledger.
type ledgerResponse struct {
	*storage.Document
	OutstandingReservations int `json:"outstanding_reservations"`
}

// bucketResponse is the body of bucket lookups and hard-stop updates.
type bucketResponse struct {
	Lane     string               `json:"lane"`
	Provider string               `json:"provider"`
	UserID   string               `json:"user_id,omitempty"`
	Bucket   storage.BucketRecord `json:"bucket"`
}

// HardStopRequest is the body of POST /v1/hardstop.
type HardStopRequest struct {
	Lane     string `json:"lane"`
	Provider string `json:"provider"`
	UserID   string `json:"user_id,omitempty"`
	Stopped  bool   `json:"stopped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ledgerResponse{
		Document:                s.ledger.Document(),
		OutstandingReservations: s.ledger.Outstanding(),
	})
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	key := ledger.UserKey(r.URL.Query().Get("user"), r.PathValue("lane"), r.PathValue("provider"))
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, ok := s.ledger.Snapshot(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no bucket for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, newBucketResponse(key, b))
}

func (s *Server) handleHardStop(w http.ResponseWriter, r *http.Request) {
	var req HardStopRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	key := ledger.UserKey(req.UserID, req.Lane, req.Provider)
	if err := s.ledger.SetHardStop(r.Context(), key, req.Stopped); err != nil {
		if errors.Is(err, ledger.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// The flag is set in memory; only persistence failed.
		s.logger.Error("failed to persist hard stop", "key", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "hard stop applied but not persisted: "+err.Error())
		return
	}

	s.logger.Info("hard stop changed via admin API",
		"key", key.String(),
		"stopped", req.Stopped,
		"request_id", RequestID(r.Context()),
	)

	b, _ := s.ledger.Snapshot(key)
	writeJSON(w, http.StatusOK, newBucketResponse(key, b))
}

func newBucketResponse(key ledger.Key, b ledger.Bucket) bucketResponse {
	return bucketResponse{
		Lane:     key.Lane,
		Provider: key.Provider,
		UserID:   key.UserID,
		Bucket:   b.Record(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
