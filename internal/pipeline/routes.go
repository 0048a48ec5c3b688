package pipeline

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ziadkadry99/fingraph/internal/schema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a decoded request's shape. An empty question is not an
// error here; Ask answers it with invalid_request.
func Validate(req Request) error {
	return validate.Struct(req)
}

// RegisterRoutes mounts the chat and schema endpoints.
func RegisterRoutes(r chi.Router, p *Pipeline, d *schema.Descriptor) {
	r.Post("/api/chat", handleChat(p))
	r.Get("/api/schema", handleSchema(d))
}

func handleChat(p *Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(&req); err != nil {
			writeError(w, "request body must be a JSON object with a \"question\" field")
			return
		}
		if err := Validate(req); err != nil {
			writeError(w, err.Error())
			return
		}
		resp := p.Ask(r.Context(), req)
		status := http.StatusOK
		if resp.ErrorKind == ErrInvalidRequest {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, resp)
	}
}

type schemaResponse struct {
	Labels        map[string][]string `json:"labels"`
	Relationships []string            `json:"relationships"`
	Entities      []schema.Entity     `json:"entities"`
	Sectors       []string            `json:"sectors"`
}

func handleSchema(d *schema.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, schemaResponse{
			Labels:        d.PropertiesByType(),
			Relationships: d.RelationshipTypes(),
			Entities:      d.Entities(),
			Sectors:       d.Sectors(),
		})
	}
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, Response{
		AnswerText: msg,
		ErrorKind:  ErrInvalidRequest,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
