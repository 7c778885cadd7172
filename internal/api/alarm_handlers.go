package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/export"
)

type alarmView struct {
	alarms.Alarm
	Disposition alarms.Disposition `json:"disposition"`
}

func viewOf(a alarms.Alarm) alarmView {
	return alarmView{Alarm: a, Disposition: a.Disposition()}
}

func viewsOf(list []alarms.Alarm) []alarmView {
	out := make([]alarmView, len(list))
	for i, a := range list {
		out[i] = viewOf(a)
	}
	return out
}

// parseTimeParam accepts RFC3339 or a bare date. A bare end date is
// inclusive, so it extends to the following midnight.
func parseTimeParam(v string, isEnd bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", alarms.ErrInvalidFilter, v)
	}
	if isEnd {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

func (s *Server) parseListFilter(r *http.Request) (alarms.ListFilter, error) {
	var f alarms.ListFilter
	q := r.URL.Query()

	if v := q.Get("disposition"); v != "" {
		k, ok := alarms.ParseDispositionKind(v)
		if !ok {
			return f, fmt.Errorf("%w: unknown disposition %q", alarms.ErrInvalidFilter, v)
		}
		f.Disposition = &k
	}
	if v := q.Get("owner"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("%w: bad owner %q", alarms.ErrInvalidFilter, v)
		}
		f.OwnerID = &id
	}

	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		rng := alarms.TimeRange{Start: time.Unix(0, 0), End: s.now().AddDate(0, 0, 1)}
		var err error
		if start != "" {
			if rng.Start, err = parseTimeParam(start, false); err != nil {
				return f, err
			}
		}
		if end != "" {
			if rng.End, err = parseTimeParam(end, true); err != nil {
				return f, err
			}
		}
		f.Range = &rng
	}
	return f, nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// GET /api/v1/alarms
func (s *Server) listAlarms(w http.ResponseWriter, r *http.Request) {
	f, err := s.parseListFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.Lifecycle.List(r.Context(), principal(r), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": viewsOf(list), "count": len(list)})
}

// GET /api/v1/alarms/unprocessed
func (s *Server) listUnprocessed(w http.ResponseWriter, r *http.Request) {
	k := alarms.Unprocessed
	list, err := s.Lifecycle.List(r.Context(), principal(r), alarms.ListFilter{Disposition: &k})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": viewsOf(list), "count": len(list)})
}

// GET /api/v1/alarms/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	c, err := alarms.Stats(r.Context(), s.Store, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /api/v1/alarms/export?format=xlsx|pdf (admin)
func (s *Server) exportAlarms(w http.ResponseWriter, r *http.Request) {
	f, err := s.parseListFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := principal(r)
	list, err := s.Lifecycle.List(r.Context(), caller, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.now()
	counts, err := alarms.Stats(r.Context(), s.Store, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report := export.Report{GeneratedAt: now, GeneratedBy: caller.Username, Counts: counts, Alarms: list}

	var (
		body []byte
		ct   string
		ext  string
	)
	switch r.URL.Query().Get("format") {
	case "", "xlsx":
		body, err = export.AlarmsXLSX(report)
		ct, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	case "pdf":
		body, err = export.AlarmsPDF(report)
		ct, ext = "application/pdf", "pdf"
	default:
		badRequest(w, "format must be xlsx or pdf")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	name := fmt.Sprintf("alarms-%s.%s", now.Format("20060102-150405"), ext)
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GET /api/v1/alarms/{id}
func (s *Server) getAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid alarm id")
		return
	}
	a, err := s.Lifecycle.Get(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*a))
}

// GET /api/v1/alarms/{id}/evidence
func (s *Server) getEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid alarm id")
		return
	}
	a, err := s.Lifecycle.Get(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := s.Evidence.Load(a.EvidenceRef)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// PUT /api/v1/alarms/{id}/process
func (s *Server) claimAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid alarm id")
		return
	}
	a, err := s.Lifecycle.Claim(r.Context(), principal(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*a))
}

// DELETE /api/v1/alarms/{id}
func (s *Server) dismissAlarm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		badRequest(w, "invalid alarm id")
		return
	}
	if err := s.Lifecycle.Dismiss(r.Context(), principal(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/markers
func (s *Server) listMarkers(w http.ResponseWriter, r *http.Request) {
	ms, err := s.Markers.Visible(r.Context(), s.Lifecycle, principal(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markers": ms, "count": len(ms)})
}

// GET /api/v1/status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"markers": s.Markers.Len()}
	if s.Worker != nil {
		resp["pipeline"] = s.Worker.Status()
	}
	if s.Hub != nil && principal(r).IsAdmin() {
		resp["events"] = s.Hub.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
