package quota

import (
	"log"
	"net/http"
	"strconv"
	"strings"
)

// Handler exposes the cooldown service over HTTP at /api/quota/{key}.
// POST consumes a token, GET is a read-only check; either way the response
// body is the remaining cooldown in seconds.
type Handler struct {
	service *Service
}

// NewHandler creates the HTTP adapter for a cooldown service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientKey := strings.TrimPrefix(r.URL.Path, "/api/quota/")
	if clientKey == "" || strings.Contains(clientKey, "/") {
		http.Error(w, ErrMissingClientKey.Error(), http.StatusBadRequest)
		return
	}

	var consume bool
	switch r.Method {
	case http.MethodPost:
		consume = true
	case http.MethodGet:
		consume = false
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cooldown, err := h.service.Check(r.Context(), clientKey, consume)
	if err != nil {
		log.Printf("Quota check failed for %s: %v", clientKey, err)
		http.Error(w, "quota check failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(strconv.FormatFloat(cooldown.Seconds(), 'f', -1, 64)))
}
