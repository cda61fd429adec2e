package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/order"
	"github.com/orderwatch/orderwatch/internal/store"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", s.handleList)
	mux.HandleFunc("POST /orders", s.handleCreate)
	mux.HandleFunc("PUT /orders/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /orders/{id}", s.handleDelete)
	mux.HandleFunc("GET /ws", s.handleSubscribe)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type orderPayload struct {
	CustomerName *string `json:"customer_name"`
	ProductName  *string `json:"product_name"`
	Status       *string `json:"status"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListAll())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := &store.InsertParams{}
	if payload.CustomerName != nil {
		params.CustomerName = *payload.CustomerName
	}
	if payload.ProductName != nil {
		params.ProductName = *payload.ProductName
	}
	if payload.Status != nil {
		params.Status = *payload.Status
	}

	o, err := s.store.Insert(params)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload orderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := s.store.UpdateByID(r.PathValue("id"), &store.UpdateParams{
		CustomerName: payload.CustomerName,
		ProductName:  payload.ProductName,
		Status:       payload.Status,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.DeleteByID(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		Detection string `json:"detection"`
	}{
		Status:    "ok",
		Detection: string(s.engine.State()),
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidID), errors.Is(err, store.ErrMissingField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
