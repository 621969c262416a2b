package gates

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/gates", func(gr chi.Router) {
		gr.Post("/", upsertPolicyHandler(svc))
		gr.Get("/", listPoliciesHandler(svc))
		gr.Get("/{gate}", getPolicyHandler(svc))
		gr.Patch("/{gate}/active", setActiveHandler(svc))
		gr.Delete("/{gate}", deletePolicyHandler(svc))
	})
}

type policyRequest struct {
	Gate     string `json:"gate"`
	Name     string `json:"name"`
	Location string `json:"location"`

	IsActive        *bool `json:"is_active"`
	MaintenanceMode *bool `json:"maintenance_mode"`

	AllowedGates []string      `json:"allowed_gates"`
	WorkingHours *WorkingHours `json:"working_hours"`

	ValidationTimeoutSec int `json:"validation_timeout_sec"`
	MaxRetryAttempts     int `json:"max_retry_attempts"`
	RetryIntervalSec     int `json:"retry_interval_sec"`
	DataRetentionDays    int `json:"data_retention_days"`
}

type policyResponse struct {
	Gate     string `json:"gate"`
	Name     string `json:"name"`
	Location string `json:"location"`

	IsActive        bool `json:"is_active"`
	MaintenanceMode bool `json:"maintenance_mode"`

	AllowedGates []string      `json:"allowed_gates,omitempty"`
	WorkingHours *WorkingHours `json:"working_hours,omitempty"`

	ValidationTimeoutSec int `json:"validation_timeout_sec"`
	MaxRetryAttempts     int `json:"max_retry_attempts"`
	RetryIntervalSec     int `json:"retry_interval_sec"`
	DataRetentionDays    int `json:"data_retention_days"`

	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	TotalAccesses int64      `json:"total_accesses"`
	FailedSyncs   int64      `json:"failed_syncs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPolicyResponse(p Policy) policyResponse {
	return policyResponse{
		Gate:                 p.Gate,
		Name:                 p.Name,
		Location:             p.Location,
		IsActive:             p.IsActive,
		MaintenanceMode:      p.MaintenanceMode,
		AllowedGates:         p.AllowedGates,
		WorkingHours:         p.WorkingHours,
		ValidationTimeoutSec: int(p.ValidationTimeout / time.Second),
		MaxRetryAttempts:     p.MaxRetryAttempts,
		RetryIntervalSec:     int(p.RetryInterval / time.Second),
		DataRetentionDays:    p.DataRetentionDays,
		LastSyncAt:           p.LastSyncAt,
		TotalAccesses:        p.TotalAccesses,
		FailedSyncs:          p.FailedSyncs,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func upsertPolicyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req policyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		p, err := svc.Upsert(r.Context(), UpsertInput{
			Gate:              req.Gate,
			Name:              req.Name,
			Location:          req.Location,
			IsActive:          req.IsActive,
			MaintenanceMode:   req.MaintenanceMode,
			AllowedGates:      req.AllowedGates,
			WorkingHours:      req.WorkingHours,
			ValidationTimeout: time.Duration(req.ValidationTimeoutSec) * time.Second,
			MaxRetryAttempts:  req.MaxRetryAttempts,
			RetryInterval:     time.Duration(req.RetryIntervalSec) * time.Second,
			DataRetentionDays: req.DataRetentionDays,
		})
		if err != nil {
			switch err {
			case ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, toPolicyResponse(p))
	}
}

func listPoliciesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := svc.List(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out := make([]policyResponse, 0, len(ps))
		for _, p := range ps {
			out = append(out, toPolicyResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getPolicyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetByGate(r.Context(), chi.URLParam(r, "gate"))
		if err != nil {
			switch err {
			case ErrNotFound:
				http.Error(w, "gate not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, toPolicyResponse(p))
	}
}

func setActiveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := strconv.ParseBool(r.URL.Query().Get("value"))
		if err != nil {
			var req struct {
				IsActive *bool `json:"is_active"`
			}
			if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil || req.IsActive == nil {
				http.Error(w, "is_active required", http.StatusBadRequest)
				return
			}
			active = *req.IsActive
		}

		p, err := svc.SetActive(r.Context(), chi.URLParam(r, "gate"), active)
		if err != nil {
			switch err {
			case ErrNotFound:
				http.Error(w, "gate not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, toPolicyResponse(p))
	}
}

func deletePolicyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "gate")); err != nil {
			switch err {
			case ErrInvalidInput:
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
