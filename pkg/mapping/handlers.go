package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router exposing specification registration and
// payload mapping.
func NewRouter(registry *Registry) chi.Router {
	r := chi.NewRouter()
	r.Get("/specs", listSpecsHandler(registry))
	r.Put("/specs/{name}", registerSpecHandler(registry))
	r.Post("/specs/{name}/map", mapPayloadHandler(registry))
	return r
}

func listSpecsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := registry.Names()
		sort.Strings(names)
		writeJSON(w, http.StatusOK, map[string]any{"specifications": names})
	}
}

// registerSpecHandler builds and registers an engine from a JSON
// specification body.
func registerSpecHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec Spec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid specification body: %v", err))
			return
		}
		if err := registry.Register(chi.URLParam(r, "name"), &spec); err != nil {
			if errors.Is(err, ErrInvalidSpec) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": chi.URLParam(r, "name")})
	}
}

// mapPayloadHandler decodes a JSON payload, runs the named engine against
// it, and returns the mapped document. Wire payloads are decoded into a
// generic structure here; the engine itself never assumes a serialization.
func mapPayloadHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine, err := registry.Lookup(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
			return
		}
		result, err := engine.MapSource(r.Context(), payload)
		if err != nil {
			switch {
			case errors.Is(err, ErrMapping), errors.Is(err, ErrMissingRequiredField):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"infomodel":      result.Infomodel(),
			"functionblocks": result.Document(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
