package migrate

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Route is the migration endpoint path.
const Route = "/migrateUser"

type migrationRequest struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
}

// Handler exposes a Migrator over HTTP with the serverless endpoint's
// contract: POST with a JSON body, permissive CORS, OPTIONS preflight.
type Handler struct {
	migrator *Migrator
	log      zerolog.Logger
}

// NewHandler wraps a migrator for HTTP serving.
func NewHandler(migrator *Migrator, log zerolog.Logger) *Handler {
	return &Handler{migrator: migrator, log: log}
}

// Router mounts the migration endpoint on a fresh router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(Route, h.ServeMigrate)
	return r
}

// ServeMigrate handles one migration request. All responses, including
// errors, carry CORS headers so the static site's origin can call the
// endpoint cross-origin.
func (h *Handler) ServeMigrate(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Allow-Methods", "POST,OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method Not Allowed"})
		return
	}

	if !h.migrator.configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Migration backend is not configured"})
		return
	}

	var req migrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Both fromUserId and toUserId are required"})
		return
	}

	result, err := h.migrator.MigrateUser(r.Context(), req.FromUserID, req.ToUserID)
	if err != nil {
		h.log.Error().Err(err).Str("from", req.FromUserID).Str("to", req.ToUserID).Msg("migration failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Migration failed",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
