package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"github.com/web-agent/web-agent/internal/orchestrator"
	"github.com/web-agent/web-agent/internal/store"
)

const maxListLimit = 500

type draftView struct {
	ID             int64      `json:"id"`
	ThreadID       string     `json:"thread_id"`
	Site           string     `json:"site"`
	DraftText      string     `json:"draft_text"`
	Confidence     string     `json:"confidence,omitempty"`
	RequiresReview bool       `json:"requires_review"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func newDraftView(d store.Draft) draftView {
	v := draftView{
		ID:             d.ID,
		ThreadID:       d.ThreadID,
		Site:           d.Site,
		DraftText:      d.DraftText,
		Confidence:     string(d.Confidence),
		RequiresReview: d.RequiresReview,
		Status:         string(d.Status),
		CreatedAt:      d.CreatedAt,
		Error:          d.Error,
	}
	if !d.ApprovedAt.IsZero() {
		t := d.ApprovedAt
		v.ApprovedAt = &t
	}
	if !d.SentAt.IsZero() {
		t := d.SentAt
		v.SentAt = &t
	}
	return v
}

type statsView struct {
	Site     string `json:"site,omitempty"`
	Total    int    `json:"total"`
	Pending  int    `json:"pending"`
	Approved int    `json:"approved"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseStatus(raw string) (store.Status, bool) {
	switch st := store.Status(strings.ToLower(raw)); st {
	case "", store.StatusPending, store.StatusApproved, store.StatusSent, store.StatusFailed:
		return st, true
	}
	return "", false
}

type siteSection struct {
	ID      string
	Name    string
	Pending []store.Draft
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.store.GetStats(ctx, "")
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	var sections []siteSection
	if s.sites != nil {
		for _, id := range s.sites.IDs() {
			pending, err := s.store.GetDraftsBySiteAndStatus(ctx, id, store.StatusPending)
			if err != nil {
				http.Error(w, "Database error", http.StatusInternalServerError)
				return
			}
			sections = append(sections, siteSection{ID: id, Name: s.sites.FindByID(id).Name, Pending: pending})
		}
	}

	var notice string
	if site := r.URL.Query().Get("reviewed"); site != "" {
		notice = fmt.Sprintf("Review file for %s written with %s drafts.", site, r.URL.Query().Get("count"))
	}

	data := map[string]any{
		"Stats":     stats,
		"Sites":     sections,
		"Notice":    notice,
		"CSRFField": csrf.TemplateField(r),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("template error", "error", err)
	}
}

// handleReviewDocument renders the pending drafts of a site as the review
// document, without writing it.
func (s *Server) handleReviewDocument(w http.ResponseWriter, r *http.Request) {
	site, ok := s.siteID(r)
	if !ok {
		http.Error(w, "Unknown site", http.StatusNotFound)
		return
	}
	pending, err := s.store.GetDraftsBySiteAndStatus(r.Context(), site, store.StatusPending)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	now := s.now()
	doc := orchestrator.RenderReview(site, now, pending, s.opts.ReviewPath(site, now))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(doc))
}

// API handlers

func (s *Server) handleAPICSRF(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": csrf.Token(r)})
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	st, err := s.store.GetStats(r.Context(), site)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Site: site, Total: st.Total, Pending: st.Pending, Approved: st.Approved, Sent: st.Sent, Failed: st.Failed,
	})
}

func (s *Server) handleAPIDrafts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, ok := parseStatus(q.Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid status: "+q.Get("status"))
		return
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit: "+raw)
			return
		}
		limit = min(n, maxListLimit)
	}

	drafts, err := s.store.ListDrafts(r.Context(), q.Get("site"), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	views := make([]draftView, 0, len(drafts))
	for _, d := range drafts {
		views = append(views, newDraftView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": views, "count": len(views)})
}

func (s *Server) handleAPIDraft(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid draft id")
		return
	}
	d, err := s.store.GetDraft(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Draft %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, newDraftView(*d))
}

// handleAPIGenerateReview writes the review file for a site. Browser form
// posts are redirected back to the dashboard; API clients get JSON.
func (s *Server) handleAPIGenerateReview(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow("review") {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.")
		return
	}
	site, ok := s.siteID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown site")
		return
	}

	path := s.opts.ReviewPath(site, s.now())
	count, err := orchestrator.GenerateReview(r.Context(), orchestrator.ReviewOptions{
		Site:       site,
		Store:      s.store,
		OutputPath: path,
		Now:        s.now,
		Logger:     s.logger,
	})
	if err != nil {
		s.logger.Error("failed to generate review", "site", site, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to write review file")
		return
	}
	if count == 0 {
		path = ""
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		v := url.Values{"reviewed": {site}, "count": {strconv.Itoa(count)}}
		http.Redirect(w, r, "/?"+v.Encode(), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": site, "count": count, "path": path})
}
