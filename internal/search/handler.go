package search

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

// validate is the singleton validator instance used across all handlers.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// xrpcError is the XRPC error body.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type resolveHandleParams struct {
	Handle string `schema:"handle" validate:"required,max=253"`
}

// RegisterRoutes mounts the search XRPC methods.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /xrpc/app.bsky.actor.searchActors", s.handleSearchActors)
	mux.HandleFunc("GET /xrpc/app.bsky.actor.searchActorsTypeahead", s.handleSearchActorsTypeahead)
	mux.HandleFunc("GET /xrpc/com.atproto.identity.resolveHandle", s.handleResolveHandle)
}

func decodeParams(r *http.Request, dst any) error {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func (s *Service) handleSearchActors(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := decodeParams(r, &q); err != nil {
		s.logger.Warn("searchActors: invalid parameters", "error", err)
		writeJSON(w, http.StatusBadRequest, xrpcError{Error: "InvalidRequest", Message: "Invalid query parameters"})
		return
	}
	res, err := s.SearchActors(r.Context(), q)
	if err != nil {
		s.logger.Error("searchActors failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, xrpcError{Error: "InternalServerError"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleSearchActorsTypeahead(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := decodeParams(r, &q); err != nil {
		s.logger.Warn("searchActorsTypeahead: invalid parameters", "error", err)
		writeJSON(w, http.StatusBadRequest, xrpcError{Error: "InvalidRequest", Message: "Invalid query parameters"})
		return
	}
	res, err := s.SearchActorsTypeahead(r.Context(), q)
	if err != nil {
		s.logger.Error("searchActorsTypeahead failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, xrpcError{Error: "InternalServerError"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Actors []Actor `json:"actors"`
	}{res.Actors})
}

func (s *Service) handleResolveHandle(w http.ResponseWriter, r *http.Request) {
	var p resolveHandleParams
	if err := decodeParams(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, xrpcError{Error: "InvalidRequest", Message: "Invalid handle"})
		return
	}
	did, err := s.ResolveHandle(r.Context(), p.Handle)
	if err != nil || did == "" {
		if err != nil {
			s.logger.Warn("resolveHandle failed", "handle", p.Handle, "error", err)
		}
		writeJSON(w, http.StatusBadRequest, xrpcError{Error: "InvalidRequest", Message: "Unable to resolve handle"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		DID string `json:"did"`
	}{did})
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}
