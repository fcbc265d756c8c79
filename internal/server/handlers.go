package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eunmann/shab-cache/pkg/export"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/status"
)

// messageEnvelope is the body of every non-data response.
type messageEnvelope struct {
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// recordsEnvelope is the body of /api/records.
type recordsEnvelope struct {
	From     string               `json:"from,omitempty"`
	To       string               `json:"to,omitempty"`
	Count    int                  `json:"count"`
	Degraded bool                 `json:"degraded,omitempty"`
	Error    string               `json:"error,omitempty"`
	Records  []publication.Record `json:"records"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, messageEnvelope{Error: msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageEnvelope{State: "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	doc, found, err := status.Read(s.cfg.StatusFile)
	if err != nil {
		s.log.Error().Err(err).Msg("status unreadable")
		writeError(w, http.StatusInternalServerError, "status unreadable")
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, messageEnvelope{
			State:   "missing",
			Message: "status.json not found, run a refresh",
		})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// records returns the cached rows dated within [from, to]. Missing bounds
// default to the dataset's span.
func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := s.cache.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "dataset unavailable")
		return
	}

	lo, hi, _ := publication.Span(ds.Records)
	if from.IsZero() {
		from = lo
	}
	if to.IsZero() {
		to = hi
	}

	env := recordsEnvelope{Degraded: ds.Degraded, Records: []publication.Record{}}
	if ds.Err != nil {
		env.Error = ds.Err.Error()
	}
	if !from.IsZero() && !to.IsZero() {
		env.From = publication.FormatDay(from)
		env.To = publication.FormatDay(to)
		if rows := publication.FilterRange(ds.Records, from, to); rows != nil {
			env.Records = rows
		}
	}
	env.Count = len(env.Records)
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) monthly(w http.ResponseWriter, _ *http.Request) {
	ds, err := s.cache.Get()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "dataset unavailable")
		return
	}
	if ds.Degraded {
		w.Header().Set("X-Dataset-Degraded", "true")
	}
	rows := export.Monthly(ds.Records)
	if rows == nil {
		rows = []export.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.refresher.Progress().Snapshot())
}

func (s *Server) triggerRefresh(w http.ResponseWriter, _ *http.Request) {
	if !s.startRefresh() {
		writeJSON(w, http.StatusConflict, messageEnvelope{
			State:   "running",
			Message: "a refresh is already running",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, messageEnvelope{
		State:   "started",
		Message: "refresh started",
	})
}

func parseRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = publication.ParseDay(v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = publication.ParseDay(v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %q", v)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to %s is before from %s", publication.FormatDay(to), publication.FormatDay(from))
	}
	return from, to, nil
}
