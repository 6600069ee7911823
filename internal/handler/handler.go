package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"adgate/internal/adblock"
	"adgate/internal/gate"
	"adgate/internal/models"
	"adgate/internal/token"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// CreatePendingHandler stores a content page's download intent. The record
// is stored verbatim; the gate is the validation authority, so the gate page
// can tell the user exactly what was wrong.
func CreatePendingHandler(gm *gate.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec models.PendingDownload
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}

		session, err := gm.CreateIntent(r.Context(), rec)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not store download intent"})
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"sessionId": session,
			"gateUrl":   "/api/v1/gate/" + session,
		})
	}
}

// GateHandler opens (or re-attaches to) the gate session and returns its
// snapshot. A session id with no pending slot yields a failed snapshot with
// a redirect home; that is the gate failing closed, not a 404.
func GateHandler(gm *gate.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session is required"})
			return
		}

		s := gm.Open(id, r.UserAgent())
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// SkipHandler advances a skip-eligible session through verification.
func SkipHandler(gm *gate.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session is required"})
			return
		}

		s, ok := gm.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "gate session not found"})
			return
		}

		snap, err := s.Skip(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, snap)
		case errors.Is(err, gate.ErrNotSkippable), errors.Is(err, gate.ErrVerificationFailed):
			writeJSON(w, http.StatusTooEarly, map[string]any{"error": err.Error(), "gate": snap})
		case errors.Is(err, gate.ErrGateClosed):
			writeJSON(w, http.StatusGone, map[string]any{"error": err.Error(), "gate": snap})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "gate": snap})
		}
	}
}

// DownloadHandler redeems a one-shot release token and bounces the browser
// to the file. A reused or expired token gets 410, never a second download.
func DownloadHandler(tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "token")
		claims, err := tokens.Redeem(raw)
		if err != nil {
			writeJSON(w, http.StatusGone, map[string]string{"error": "download link is no longer valid"})
			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+claims.Filename+`"`)
		http.Redirect(w, r, claims.URL, http.StatusFound)
	}
}

// AdBaitHandler serves the bait asset ad blockers filter. Fetching it is the
// "no blocker" signal for the session named in the query.
func AdBaitHandler(det *adblock.Detector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session := r.URL.Query().Get("session"); session != "" {
			det.RecordBaitFetch(session)
		}
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte(adblock.BaitBody))
	}
}

// ReportAdBlockHandler receives the gate page's own probe verdict. Advisory
// only; the response never changes based on the report.
func ReportAdBlockHandler(det *adblock.Detector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session")
		var req struct {
			Detected bool `json:"detected"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		det.RecordClientReport(id, req.Detected)
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
