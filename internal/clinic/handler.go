package clinic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// ProfileStore is the persistence the admin handler needs. *Store implements it.
type ProfileStore interface {
	Get(ctx context.Context, clinicID string) (*Config, error)
	Set(ctx context.Context, cfg *Config) error
}

// Handler provides HTTP endpoints for clinic profile management.
type Handler struct {
	store  ProfileStore
	logger *logging.Logger
}

// NewHandler creates a new clinic profile HTTP handler.
func NewHandler(store ProfileStore, logger *logging.Logger) *Handler {
	if store == nil {
		panic("clinic: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes mounts the profile endpoints under a clinic-scoped router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/clinics/{clinicID}/config", h.GetConfig)
	r.Put("/clinics/{clinicID}/config", h.UpdateConfig)
}

// GetConfig returns the clinic profile, or the default profile when none is stored.
// GET /admin/clinics/{clinicID}/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	cfg, err := h.store.Get(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, clinicID, cfg)
}

// UpdateConfigRequest is a partial update of a clinic profile.
type UpdateConfigRequest struct {
	Name             string         `json:"name,omitempty"`
	Phone            string         `json:"phone,omitempty"`
	Email            string         `json:"email,omitempty"`
	Address          string         `json:"address,omitempty"`
	City             string         `json:"city,omitempty"`
	Timezone         string         `json:"timezone,omitempty"`
	BusinessHours    *BusinessHours `json:"business_hours,omitempty"`
	Practitioners    []Practitioner `json:"practitioners,omitempty"`
	AppointmentTypes []string       `json:"appointment_types,omitempty"`
}

// UpdateConfig creates or updates the clinic profile.
// PUT /admin/clinics/{clinicID}/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if tz := strings.TrimSpace(req.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			http.Error(w, `{"error": "unknown timezone"}`, http.StatusBadRequest)
			return
		}
	}
	for _, p := range req.Practitioners {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			http.Error(w, `{"error": "practitioners need an id and a name"}`, http.StatusBadRequest)
			return
		}
	}

	cfg, err := h.store.Get(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Phone != "" {
		cfg.Phone = req.Phone
	}
	if req.Email != "" {
		cfg.Email = req.Email
	}
	if req.Address != "" {
		cfg.Address = req.Address
	}
	if req.City != "" {
		cfg.City = req.City
	}
	if req.Timezone != "" {
		cfg.Timezone = strings.TrimSpace(req.Timezone)
	}
	if req.BusinessHours != nil {
		cfg.BusinessHours = *req.BusinessHours
	}
	if req.Practitioners != nil {
		cfg.Practitioners = req.Practitioners
	}
	if req.AppointmentTypes != nil {
		cfg.AppointmentTypes = req.AppointmentTypes
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "clinic_id", clinicID, "error", err)
		http.Error(w, `{"error": "failed to save config"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic config updated", "clinic_id", clinicID, "practitioners", len(cfg.Practitioners))
	h.writeJSON(w, clinicID, cfg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, clinicID string, cfg *Config) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic config", "clinic_id", clinicID, "error", err)
	}
}
