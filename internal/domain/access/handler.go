package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turnstile-service/internal/domain/credentials"
	"turnstile-service/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/scan", scanHandler(svc))
	r.Get("/history", historyHandler(svc))
}

type scanRequest struct {
	Token    string `json:"token"`
	Gate     string `json:"gate"`
	DeviceID string `json:"device_id"`
}

type scanResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	AccessType   Decision            `json:"access_type"`
	AccessMethod Method              `json:"access_method"`
	Timestamp    time.Time           `json:"timestamp"`
	Gate         string              `json:"gate"`
	UserID       string              `json:"user_id,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Synced       bool                `json:"synced"`
	Payload      credentials.Payload `json:"payload"`
}

type historyEntry struct {
	ID           string     `json:"id"`
	JTI          string     `json:"jti"`
	Gate         string     `json:"gate"`
	UserID       string     `json:"user_id"`
	AccessType   Decision   `json:"access_type"`
	AccessMethod Method     `json:"access_method"`
	Timestamp    time.Time  `json:"timestamp"`
	Reason       string     `json:"reason,omitempty"`
	Synced       bool       `json:"synced"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
}

func scanHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.Gate) == "" {
			http.Error(w, "token and gate required", http.StatusBadRequest)
			return
		}
		if req.DeviceID == "" {
			req.DeviceID = middleware.GetDeviceID(r.Context())
		}

		res, err := svc.Scan(r.Context(), ScanInput{
			Token:    req.Token,
			Gate:     req.Gate,
			DeviceID: req.DeviceID,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrGateUnavailable):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			case errors.Is(err, credentials.ErrInvalid):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, scanResponse{
			Success:      res.Success,
			Message:      res.Message,
			AccessType:   res.AccessType,
			AccessMethod: res.AccessMethod,
			Timestamp:    res.Timestamp,
			Gate:         res.Gate,
			UserID:       res.UserID,
			Reason:       res.Reason,
			Synced:       res.Synced,
			Payload:      res.Payload,
		})
	}
}

func historyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		entries, err := svc.History(r.Context(), r.URL.Query().Get("gate"), limit)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]historyEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, historyEntry{
				ID:           e.ID,
				JTI:          e.JTI,
				Gate:         e.Gate,
				UserID:       e.UserID,
				AccessType:   e.AccessType,
				AccessMethod: e.AccessMethod,
				Timestamp:    e.Timestamp,
				Reason:       e.Reason,
				Synced:       e.Synced,
				SyncedAt:     e.SyncTimestamp,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
