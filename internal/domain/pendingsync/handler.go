package pendingsync

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/sync", func(sr chi.Router) {
		sr.Post("/", syncHandler(svc))
		sr.Get("/status", statusHandler(svc))
		sr.Post("/cache", refreshCacheHandler(svc))
	})
}

type syncRequest struct {
	Gate   string `json:"gate"`
	Limit  int    `json:"limit"`
	From   string `json:"from"` // RFC3339
	To     string `json:"to"`   // RFC3339
	Status Status `json:"status"`
}

type syncResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	SyncedCount    int      `json:"synced_count"`
	FailedCount    int      `json:"failed_count"`
	TotalProcessed int      `json:"total_processed"`
	Errors         []string `json:"errors,omitempty"`
}

type statusResponse struct {
	TotalPending int64      `json:"total_pending"`
	TotalSynced  int64      `json:"total_synced"`
	TotalFailed  int64      `json:"total_failed"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

func syncHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := syncRequest{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		var from, to time.Time
		if req.From != "" {
			t, err := time.Parse(time.RFC3339, req.From)
			if err != nil {
				http.Error(w, "invalid from date", http.StatusBadRequest)
				return
			}
			from = t
		}
		if req.To != "" {
			t, err := time.Parse(time.RFC3339, req.To)
			if err != nil {
				http.Error(w, "invalid to date", http.StatusBadRequest)
				return
			}
			to = t
		}

		res, err := svc.Sync(r.Context(), Request{
			Gate:   req.Gate,
			Limit:  req.Limit,
			From:   from,
			To:     to,
			Status: req.Status,
		})
		if err != nil {
			http.Error(w, "sync failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, syncResponse{
			Success:        res.Success,
			Message:        res.Message,
			SyncedCount:    res.SyncedCount,
			FailedCount:    res.FailedCount,
			TotalProcessed: res.TotalProcessed,
			Errors:         res.Errors,
		})
	}
}

func statusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context(), r.URL.Query().Get("gate"))
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			TotalPending: st.TotalPending,
			TotalSynced:  st.TotalSynced,
			TotalFailed:  st.TotalFailed,
			LastSyncAt:   st.LastSyncAt,
		})
	}
}

func refreshCacheHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RefreshCache(r.Context()); err != nil {
			http.Error(w, "cache refresh failed: "+err.Error(), http.StatusInternalServerError)
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
