package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// newControlServer builds the HTTP server mixnetctl talks to: JSON status
// and packet-injection endpoints, every one of them routed through
// loop.call so the engine is only ever touched from its own goroutine.
func newControlServer(addr string, loop *engineLoop) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", handleStatus(loop))
	mux.HandleFunc("/v1/inject", handleInject(loop))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type statusResponse struct {
	QueueStats mixnet.QueueStats `json:"queue_stats"`
}

func handleStatus(loop *engineLoop) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := loop.call(r.Context(), func(e *mixnet.Engine) (any, error) {
			return e.QueueStats(), nil
		})
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err)
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{QueueStats: value.(mixnet.QueueStats)})
	}
}

type injectRequest struct {
	SessionIndex *uint32 `json:"session_index,omitempty"`
	MixnodeIndex *uint16 `json:"mixnode_index,omitempty"`
	DataBase64   string  `json:"data_base64"`
	NumSurbs     int     `json:"num_surbs"`
}

type injectResponse struct {
	DestinationSessionIndex uint32 `json:"destination_session_index"`
	DestinationMixnodeIndex uint16 `json:"destination_mixnode_index"`
	DelayMillis             int64  `json:"delay_millis"`
}

func handleInject(loop *engineLoop) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}

		var req injectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decode data_base64: %w", err))
			return
		}

		var destination *mixnet.MixnodeID
		if req.SessionIndex != nil && req.MixnodeIndex != nil {
			destination = &mixnet.MixnodeID{
				SessionIndex: mixnet.SessionIndex(*req.SessionIndex),
				MixnodeIndex: sphinx.MixnodeIndex(*req.MixnodeIndex),
			}
		}

		value, err := loop.call(r.Context(), func(e *mixnet.Engine) (any, error) {
			dest, delay, err := e.PostRequest(destination, data, req.NumSurbs, staticReachable{})
			if err != nil {
				return nil, err
			}
			return injectResponse{
				DestinationSessionIndex: uint32(dest.SessionIndex),
				DestinationMixnodeIndex: uint16(dest.MixnodeIndex),
				DelayMillis:             delay.Milliseconds(),
			}, nil
		})
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err)
			return
		}

		writeJSON(w, http.StatusOK, value)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
