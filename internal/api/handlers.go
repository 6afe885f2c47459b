package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-scout/internal/model"
	"github.com/sells-group/signal-scout/internal/store"
)

// sourceRequest is the create/update payload. The crawl interval is given in
// seconds to keep the wire format unit-explicit.
type sourceRequest struct {
	OwnerID           string  `json:"owner_id"`
	Kind              string  `json:"kind"`
	ProfileURL        string  `json:"profile_url"`
	Term              string  `json:"term"`
	TermKind          string  `json:"term_kind"`
	MaxPosts          int     `json:"max_posts"`
	CrawlIntervalSecs int64   `json:"crawl_interval_secs"`
	Active            *bool   `json:"active"`
}

func (req sourceRequest) apply(src *model.Source) {
	src.OwnerID = req.OwnerID
	src.Kind = model.SourceKind(req.Kind)
	src.ProfileURL = req.ProfileURL
	src.Term = req.Term
	src.TermKind = model.TermKind(req.TermKind)

	src.MaxPosts = req.MaxPosts
	if src.MaxPosts <= 0 {
		src.MaxPosts = 20
	}
	src.CrawlInterval = time.Duration(req.CrawlIntervalSecs) * time.Second
	if src.CrawlInterval <= 0 {
		src.CrawlInterval = 24 * time.Hour
	}
	src.Active = true
	if req.Active != nil {
		src.Active = *req.Active
	}
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var src model.Source
	req.apply(&src)
	if err := src.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateSource(r.Context(), &src); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.store.GetSource(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.apply(src)
	if err := src.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateSource(r.Context(), src); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSource(r.Context(), chi.URLParam(r, "source_id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SourceFilter{
		OwnerID: q.Get("owner_id"),
		Kind:    model.SourceKind(q.Get("kind")),
		Limit:   intParam(q.Get("limit"), 100),
		Offset:  intParam(q.Get("offset"), 0),
	}
	if v := q.Get("active"); v != "" {
		active := v == "true"
		filter.Active = &active
	}

	sources, err := s.store.ListSources(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

// triggerCrawl starts an on-demand crawl. 202 with the run when the lock was
// taken, 409 when a crawl for the source is already in flight.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	run, err := s.trigger.TriggerCrawl(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		if eris.Is(err, store.ErrRunInFlight) {
			writeError(w, http.StatusConflict, "crawl already in flight")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SignalFilter{
		SourceID:   q.Get("source_id"),
		EventType:  q.Get("event_type"),
		EventsOnly: q.Get("events_only") == "true",
		Limit:      intParam(q.Get("limit"), 100),
		Offset:     intParam(q.Get("offset"), 0),
	}
	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		filter.MinScore = score
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
		filter.Since = &since
	}

	signals, err := s.store.ListSignals(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals, "count": len(signals)})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:      model.RunKind(q.Get("kind")),
		State:     model.RunState(q.Get("state")),
		SubjectID: q.Get("subject_id"),
		Limit:     intParam(q.Get("limit"), 100),
		Offset:    intParam(q.Get("offset"), 0),
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("store operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
